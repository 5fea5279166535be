package proc

import (
	"context"
	"fmt"

	"github.com/leeineian/tunequiz/sys"
)

const (
	MsgPipelinePrepared = "Prepared %d clips of %s (%.1fs, %d kbps)"
	MsgPipelineEvict    = "Disk budget check failed: %v"
)

// Clip is one extracted window of a track. It is never modified after extraction.
type Clip struct {
	SourceID      string
	Window        Range
	TotalDuration float64
	Data          []byte
}

// PreparedTrack is everything a session needs to play one track.
type PreparedTrack struct {
	TrackID       string
	Clips         []*Clip
	Full          []byte
	TotalDuration float64
}

// AudioSource hands out full-track audio and keeps its storage bounded.
type AudioSource interface {
	Get(ctx context.Context, trackID string) ([]byte, error)
	EnforceDiskBudget() error
}

// ClipExtractor cuts windows out of audio and reports its duration.
type ClipExtractor interface {
	Extract(ctx context.Context, full []byte, window Range) ([]byte, error)
	Probe(ctx context.Context, data []byte) (Probe, error)
}

// TrackPreparer is the part of the pipeline a session drives.
type TrackPreparer interface {
	EnforceDiskBudget()
	Prepare(ctx context.Context, trackID string, clipCount int, clipLength float64) (*PreparedTrack, error)
	Reselect(ctx context.Context, track *PreparedTrack, clipCount int, clipLength float64) (*PreparedTrack, error)
}

// ClipPipeline runs acquire, probe, select and extract in that order.
type ClipPipeline struct {
	audio     AudioSource
	extractor ClipExtractor
	selector  *Selector
}

func NewClipPipeline(audio AudioSource, extractor ClipExtractor, selector *Selector) *ClipPipeline {
	return &ClipPipeline{audio: audio, extractor: extractor, selector: selector}
}

// EnforceDiskBudget runs cache eviction. Failures are logged and never block a track.
func (p *ClipPipeline) EnforceDiskBudget() {
	if err := p.audio.EnforceDiskBudget(); err != nil {
		sys.LogAudio(MsgPipelineEvict, err)
	}
}

func (p *ClipPipeline) Prepare(ctx context.Context, trackID string, clipCount int, clipLength float64) (*PreparedTrack, error) {
	full, err := p.audio.Get(ctx, trackID)
	if err != nil {
		return nil, err
	}

	probe, err := p.extractor.Probe(ctx, full)
	if err != nil {
		return nil, err
	}

	track := &PreparedTrack{TrackID: trackID, Full: full, TotalDuration: probe.Duration}
	clips, err := p.cut(ctx, track, clipCount, clipLength)
	if err != nil {
		return nil, err
	}
	track.Clips = clips

	sys.LogAudio(MsgPipelinePrepared, len(clips), trackID, probe.Duration, probe.BitRate/1000)
	return track, nil
}

// Reselect draws fresh windows over audio that was already acquired and probed.
func (p *ClipPipeline) Reselect(ctx context.Context, track *PreparedTrack, clipCount int, clipLength float64) (*PreparedTrack, error) {
	if track == nil || len(track.Full) == 0 {
		return nil, ErrNoFullTrack
	}
	clips, err := p.cut(ctx, track, clipCount, clipLength)
	if err != nil {
		return nil, err
	}
	return &PreparedTrack{
		TrackID:       track.TrackID,
		Clips:         clips,
		Full:          track.Full,
		TotalDuration: track.TotalDuration,
	}, nil
}

func (p *ClipPipeline) cut(ctx context.Context, track *PreparedTrack, clipCount int, clipLength float64) ([]*Clip, error) {
	windows, err := p.selector.SelectClips(ctx, track.TrackID, track.TotalDuration, clipLength, clipCount)
	if err != nil {
		return nil, err
	}

	clips := make([]*Clip, 0, len(windows))
	for _, w := range windows {
		data, err := p.extractor.Extract(ctx, track.Full, w)
		if err != nil {
			return nil, fmt.Errorf("clip [%.2f, %.2f] of %s: %w", w.Start, w.End, track.TrackID, err)
		}
		clips = append(clips, &Clip{
			SourceID:      track.TrackID,
			Window:        w,
			TotalDuration: track.TotalDuration,
			Data:          data,
		})
	}
	return clips, nil
}
