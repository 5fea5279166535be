package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disgoorg/disgo/voice"
	"github.com/leeineian/tunequiz/sys"
)

const (
	MsgPlayerOpenFail   = "Failed to open clip for playback: %v"
	MsgPlayerTranscode  = "Playback ended with error: %v"
	MsgPlayerSpeakFail  = "Failed to set speaking state: %v"
	frameBuffer         = 100
	trailingSilence     = 200 * time.Millisecond
	frameStallThreshold = 500 * time.Millisecond
)

// OpusSilence is the canonical Opus silence frame.
var OpusSilence = []byte{0xf8, 0xff, 0xfe}

var ErrEmptyAudio = errors.New("no audio to play")

// Sink is the part of a voice connection that receives audio.
type Sink interface {
	SetOpusFrameProvider(provider voice.OpusFrameProvider)
	SetSpeaking(ctx context.Context, flags voice.SpeakingFlags) error
}

// VoicePlayer plays one clip at a time into a voice connection. Starting a clip
// cancels the previous one before the new frames reach the connection.
type VoicePlayer struct {
	sink   Sink
	parent context.Context
	volume atomic.Int32

	mu       sync.Mutex
	cancel   context.CancelFunc
	provider *FrameProvider
}

func NewVoicePlayer(ctx context.Context, sink Sink) *VoicePlayer {
	p := &VoicePlayer{sink: sink, parent: ctx}
	p.volume.Store(100)
	return p
}

// SetVolume sets the gain as a factor, 1 being unchanged. It applies to the
// frames of the current clip that have not been encoded yet.
func (p *VoicePlayer) SetVolume(v float64) {
	p.volume.Store(int32(math.Round(v * 100)))
}

func (p *VoicePlayer) Volume() float64 {
	return float64(p.volume.Load()) / 100
}

func (p *VoicePlayer) Play(data []byte) error {
	if len(data) == 0 {
		return ErrEmptyAudio
	}

	t := NewTranscoder(&p.volume)
	if err := t.Open(bytes.NewReader(data)); err != nil {
		t.Close()
		sys.LogVoice(MsgPlayerOpenFail, err)
		return fmt.Errorf("open clip: %w", err)
	}

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(p.parent)
	fp := NewFrameProvider(ctx)
	p.cancel = cancel
	p.provider = fp
	p.mu.Unlock()

	go func() {
		defer t.Close()
		if err := t.Transcode(ctx, fp.Push); err != nil && !errors.Is(err, context.Canceled) {
			sys.LogVoice(MsgPlayerTranscode, err)
		}
	}()

	p.sink.SetOpusFrameProvider(fp)
	if err := p.sink.SetSpeaking(ctx, voice.SpeakingFlagMicrophone); err != nil {
		sys.LogVoice(MsgPlayerSpeakFail, err)
	}
	return nil
}

// Stop silences the connection.
func (p *VoicePlayer) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.provider = nil
	p.mu.Unlock()

	p.sink.SetOpusFrameProvider(nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = p.sink.SetSpeaking(ctx, 0)
}

// FrameProvider buffers encoded frames between the transcoder and the connection.
// A nil frame marks the end of the clip, after which a short run of silence is sent.
type FrameProvider struct {
	ctx           context.Context
	frames        chan []byte
	draining      bool
	silenceFrames int
	done          chan struct{}
	once          sync.Once
}

func NewFrameProvider(ctx context.Context) *FrameProvider {
	return &FrameProvider{
		ctx:    ctx,
		frames: make(chan []byte, frameBuffer),
		done:   make(chan struct{}),
	}
}

// Push hands a frame to the connection, blocking while the buffer is full.
func (p *FrameProvider) Push(f []byte) {
	select {
	case p.frames <- f:
	case <-p.ctx.Done():
	}
}

// Done is closed once the clip and its trailing silence have been sent.
func (p *FrameProvider) Done() <-chan struct{} {
	return p.done
}

func (p *FrameProvider) finish() {
	p.once.Do(func() { close(p.done) })
}

func (p *FrameProvider) ProvideOpusFrame() ([]byte, error) {
	if p.ctx.Err() != nil {
		p.finish()
		return nil, io.EOF
	}

	if p.draining {
		if p.silenceFrames < int(trailingSilence/(20*time.Millisecond)) {
			p.silenceFrames++
			return OpusSilence, nil
		}
		p.finish()
		return nil, io.EOF
	}

	select {
	case f := <-p.frames:
		if f == nil {
			p.draining = true
			return OpusSilence, nil
		}
		return f, nil
	case <-p.ctx.Done():
		p.finish()
		return nil, io.EOF
	case <-time.After(frameStallThreshold):
		return OpusSilence, nil
	}
}

func (p *FrameProvider) Close() {
	p.finish()
}
