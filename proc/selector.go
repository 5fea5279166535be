package proc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/leeineian/tunequiz/sys"
)

const (
	MsgSelectorNoSegments  = "No usable segments for %s: %v"
	MsgSelectorAllSkipped  = "Segments cover all of %s; ignoring them"
	MsgSelectorWindow      = "Clip %d/%d for %s: %.2f - %.2f"
	windowPrecision        = 2
	selectorDefaultSeedMix = 0x5eed
)

// Selector draws clip windows spread across the playable part of a track.
type Selector struct {
	segments SegmentSource

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSelector builds a selector. A nil segments source disables skip handling,
// and a nil rng gets a time-seeded one.
func NewSelector(segments SegmentSource, rng *rand.Rand) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano() ^ selectorDefaultSeedMix))
	}
	return &Selector{segments: segments, rng: rng}
}

func (s *Selector) float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func roundTo(v float64, precision int) float64 {
	p := math.Pow10(precision)
	return math.Round(v*p) / p
}

// SelectClips splits the playable duration into clipCount equal slots and picks one
// window of clipLength seconds inside each. Windows come back in real track time.
func (s *Selector) SelectClips(ctx context.Context, trackID string, total, clipLength float64, clipCount int) ([]Range, error) {
	if clipCount < 1 || clipLength <= 0 || total <= 0 {
		return nil, fmt.Errorf("%w: clips=%d length=%.2f total=%.2f", ErrValidation, clipCount, clipLength, total)
	}

	spans, playable, err := s.timeline(ctx, trackID, total)
	if err != nil {
		return nil, err
	}

	width := playable / float64(clipCount)
	windows := make([]Range, 0, clipCount)
	for i := range clipCount {
		earliest := width * float64(i)
		latest := width*float64(i+1) - clipLength
		if latest < earliest {
			latest = width * float64(i+1)
		}

		start := math.Min(roundTo(earliest+s.float64()*(latest-earliest), windowPrecision), playable)
		end := math.Min(roundTo(start+clipLength, windowPrecision), playable)

		if spans != nil {
			realStart, ok := RemapVirtualToReal(start, spans)
			if !ok {
				return nil, fmt.Errorf("%w: start %.2f of %s", ErrTimemarkOutOfRange, start, trackID)
			}
			realEnd, ok := RemapVirtualToReal(end, spans)
			if !ok {
				return nil, fmt.Errorf("%w: end %.2f of %s", ErrTimemarkOutOfRange, end, trackID)
			}
			start, end = realStart, realEnd
		}

		sys.LogDebug(MsgSelectorWindow, i+1, clipCount, trackID, start, end)
		windows = append(windows, Range{Start: start, End: end})
	}
	return windows, nil
}

// timeline returns the virtual spans and playable duration for a track. Spans are nil
// when the track has no usable segments, in which case playable equals total.
func (s *Selector) timeline(ctx context.Context, trackID string, total float64) ([]Span, float64, error) {
	if s.segments == nil {
		return nil, total, nil
	}

	segments, err := s.segments.Fetch(ctx, trackID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, 0, err
		}
		sys.LogSegments(MsgSelectorNoSegments, trackID, err)
		return nil, total, nil
	}
	if len(segments) == 0 {
		return nil, total, nil
	}

	spans, err := BuildTimeline(total, SegmentRanges(segments))
	if err != nil {
		return nil, 0, err
	}
	// Summed the same way RemapVirtualToReal walks the spans, so a window
	// clamped to playable always maps back.
	playable := VirtualDuration(spans)
	if playable <= 0 {
		sys.LogSegments(MsgSelectorAllSkipped, trackID)
		return nil, total, nil
	}
	return spans, playable, nil
}
