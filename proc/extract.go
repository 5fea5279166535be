package proc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

const (
	MsgExtractFail = "ffmpeg cut [%.2f, %.2f] failed: %v"
	MsgProbeFail   = "ffprobe failed: %v"
)

// commandRunner runs an external tool, feeding stdin and streaming stdout.
type commandRunner interface {
	Run(ctx context.Context, name string, args []string, stdin []byte, stdout io.Writer) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string, stdin []byte, stdout io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	in, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	written := make(chan error, 1)
	go func() {
		_, err := in.Write(stdin)
		if closeErr := in.Close(); err == nil {
			err = closeErr
		}
		if isBrokenPipe(err) {
			err = nil
		}
		written <- err
	}()

	waitErr := cmd.Wait()
	writeErr := <-written
	if waitErr != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, waitErr, msg)
		}
		return fmt.Errorf("%s: %w", name, waitErr)
	}
	return writeErr
}

// isBrokenPipe reports whether err means the reader closed its end before all input was written.
func isBrokenPipe(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "broken pipe")
}

// Extractor cuts clips out of downloaded audio and probes its duration with ffmpeg/ffprobe.
type Extractor struct {
	ffmpeg  string
	ffprobe string
	format  string
	runner  commandRunner
}

type ExtractorOption func(*Extractor)

func WithFFmpegPath(path string) ExtractorOption {
	return func(e *Extractor) { e.ffmpeg = path }
}

func WithFFprobePath(path string) ExtractorOption {
	return func(e *Extractor) { e.ffprobe = path }
}

// WithOutputFormat sets the muxer used for extracted clips. The default is opus (Ogg).
func WithOutputFormat(format string) ExtractorOption {
	return func(e *Extractor) { e.format = format }
}

func withRunner(r commandRunner) ExtractorOption {
	return func(e *Extractor) { e.runner = r }
}

func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		ffmpeg:  "ffmpeg",
		ffprobe: "ffprobe",
		format:  "opus",
		runner:  execRunner{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}

// Extract copies the [Start, End] slice of full without re-encoding.
func (e *Extractor) Extract(ctx context.Context, full []byte, window Range) ([]byte, error) {
	if window.Start < 0 || window.End < 0 {
		return nil, fmt.Errorf("%w: negative clip window [%.2f, %.2f]", ErrValidation, window.Start, window.End)
	}

	args := []string{
		"-v", "quiet",
		"-i", "pipe:0",
		"-ss", formatSeconds(window.Start),
		"-to", formatSeconds(window.End),
		"-c", "copy",
		"-f", e.format,
		"pipe:1",
	}

	var out bytes.Buffer
	if err := e.runner.Run(ctx, e.ffmpeg, args, full, &out); err != nil {
		return nil, fmt.Errorf("%w: "+MsgExtractFail, ErrExtraction, window.Start, window.End, err)
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("%w: ffmpeg produced no output for [%.2f, %.2f]", ErrExtraction, window.Start, window.End)
	}
	return out.Bytes(), nil
}

// Probe is the container-level metadata of a downloaded track.
type Probe struct {
	Duration float64
	BitRate  int64
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

func (e *Extractor) Probe(ctx context.Context, data []byte) (Probe, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"pipe:0",
	}

	var out bytes.Buffer
	if err := e.runner.Run(ctx, e.ffprobe, args, data, &out); err != nil {
		return Probe{}, fmt.Errorf("%w: "+MsgProbeFail, ErrExtraction, err)
	}
	return parseProbe(out.Bytes())
}

func parseProbe(raw []byte) (Probe, error) {
	var parsed ffprobeOutput
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Probe{}, fmt.Errorf("%w: ffprobe output: %v", ErrExtraction, err)
	}

	duration, err := strconv.ParseFloat(parsed.Format.Duration, 64)
	if err != nil || duration <= 0 {
		return Probe{}, fmt.Errorf("%w: ffprobe reported no duration", ErrExtraction)
	}

	var bitRate int64
	if parsed.Format.BitRate != "" {
		bitRate, _ = strconv.ParseInt(parsed.Format.BitRate, 10, 64)
	}
	return Probe{Duration: duration, BitRate: bitRate}, nil
}
