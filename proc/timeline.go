package proc

import (
	"fmt"
	"math"
	"slices"
)

// Range is a [Start, End] interval in seconds of real track time.
type Range struct {
	Start float64
	End   float64
}

func (r Range) Duration() float64 {
	return r.End - r.Start
}

// Span is one contiguous piece of a track, either kept or skipped.
type Span struct {
	Duration float64
	Skipped  bool
}

// BuildTimeline converts excluded ranges into alternating kept/skipped spans whose
// durations add up to total. Overlapping ranges are trimmed against the previous end
// and anything beyond total is clamped.
func BuildTimeline(total float64, ranges []Range) ([]Span, error) {
	normalized, err := normalizeRanges(total, ranges)
	if err != nil {
		return nil, err
	}

	spans := make([]Span, 0, len(normalized)*2+1)
	lastEnd := 0.0
	for _, r := range normalized {
		if r.Start > lastEnd {
			spans = append(spans, Span{Duration: r.Start - lastEnd})
		}
		spans = append(spans, Span{Duration: r.Duration(), Skipped: true})
		lastEnd = r.End
	}
	if lastEnd < total {
		spans = append(spans, Span{Duration: total - lastEnd})
	}
	return spans, nil
}

// normalizeRanges sorts ranges and makes them disjoint within [0, total].
func normalizeRanges(total float64, ranges []Range) ([]Range, error) {
	sorted := slices.Clone(ranges)
	slices.SortFunc(sorted, func(a, b Range) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})

	out := make([]Range, 0, len(sorted))
	lastEnd := 0.0
	for _, r := range sorted {
		if r.Duration() <= 0 {
			return nil, fmt.Errorf("%w: [%.2f, %.2f]", ErrInvalidSegment, r.Start, r.End)
		}
		start := math.Max(r.Start, lastEnd)
		end := math.Min(r.End, total)
		if end <= start {
			continue
		}
		out = append(out, Range{Start: start, End: end})
		lastEnd = end
	}
	return out, nil
}

// RemapVirtualToReal maps a timestamp on the skip-compressed axis back to real track
// time. It reports false when v lies beyond the kept duration of spans.
func RemapVirtualToReal(v float64, spans []Span) (float64, bool) {
	elapsed, kept := 0.0, 0.0
	for _, s := range spans {
		if !s.Skipped && v >= kept && v <= kept+s.Duration {
			return elapsed + (v - kept), true
		}
		elapsed += s.Duration
		if !s.Skipped {
			kept += s.Duration
		}
	}
	return -1, false
}

// PlayableDuration is total minus the summed length of every excluded range.
func PlayableDuration(total float64, ranges []Range) float64 {
	cut := 0.0
	for _, r := range ranges {
		cut += math.Abs(r.End - r.Start)
	}
	return total - cut
}

// VirtualDuration is the summed length of the kept spans.
func VirtualDuration(spans []Span) float64 {
	d := 0.0
	for _, s := range spans {
		if !s.Skipped {
			d += s.Duration
		}
	}
	return d
}
