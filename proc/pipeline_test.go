package proc

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAudio struct {
	mu        sync.Mutex
	data      map[string][]byte
	err       error
	evictions int
}

func (f *fakeAudio) Get(ctx context.Context, trackID string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if d, ok := f.data[trackID]; ok {
		return d, nil
	}
	return []byte("audio:" + trackID), nil
}

func (f *fakeAudio) EnforceDiskBudget() error {
	f.mu.Lock()
	f.evictions++
	f.mu.Unlock()
	return nil
}

type fakeExtractor struct {
	duration float64
	probeErr error
	cutErr   error
}

func (f fakeExtractor) Extract(ctx context.Context, full []byte, window Range) ([]byte, error) {
	if f.cutErr != nil {
		return nil, f.cutErr
	}
	return fmt.Appendf(nil, "%s@%.2f-%.2f", full, window.Start, window.End), nil
}

func (f fakeExtractor) Probe(ctx context.Context, data []byte) (Probe, error) {
	if f.probeErr != nil {
		return Probe{}, f.probeErr
	}
	return Probe{Duration: f.duration, BitRate: 128000}, nil
}

func TestPipelinePrepare(t *testing.T) {
	p := NewClipPipeline(&fakeAudio{}, fakeExtractor{duration: 120}, NewSelector(nil, seeded()))

	track, err := p.Prepare(context.Background(), "abc", 3, 5)
	require.NoError(t, err)

	assert.Equal(t, "abc", track.TrackID)
	assert.Equal(t, 120.0, track.TotalDuration)
	assert.Equal(t, []byte("audio:abc"), track.Full)
	require.Len(t, track.Clips, 3)
	for _, c := range track.Clips {
		assert.Equal(t, "abc", c.SourceID)
		assert.Equal(t, 120.0, c.TotalDuration)
		assert.NotEmpty(t, c.Data)
	}
}

func TestPipelinePrepareErrors(t *testing.T) {
	tests := []struct {
		name      string
		audio     *fakeAudio
		extractor fakeExtractor
		want      error
	}{
		{"Acquisition", &fakeAudio{err: ErrAcquisition}, fakeExtractor{duration: 60}, ErrAcquisition},
		{"Probe", &fakeAudio{}, fakeExtractor{probeErr: ErrExtraction}, ErrExtraction},
		{"Cut", &fakeAudio{}, fakeExtractor{duration: 60, cutErr: ErrExtraction}, ErrExtraction},
		{"Zero Duration", &fakeAudio{}, fakeExtractor{}, ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewClipPipeline(tt.audio, tt.extractor, NewSelector(nil, seeded()))
			_, err := p.Prepare(context.Background(), "abc", 2, 5)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPipelineReselect(t *testing.T) {
	p := NewClipPipeline(&fakeAudio{}, fakeExtractor{duration: 120}, NewSelector(nil, seeded()))

	track, err := p.Prepare(context.Background(), "abc", 2, 5)
	require.NoError(t, err)

	fresh, err := p.Reselect(context.Background(), track, 4, 3)
	require.NoError(t, err)
	assert.Equal(t, track.TrackID, fresh.TrackID)
	assert.Equal(t, track.Full, fresh.Full)
	assert.Len(t, fresh.Clips, 4)
	assert.Len(t, track.Clips, 2)

	_, err = p.Reselect(context.Background(), &PreparedTrack{TrackID: "abc"}, 2, 5)
	assert.ErrorIs(t, err, ErrNoFullTrack)
	_, err = p.Reselect(context.Background(), nil, 2, 5)
	assert.ErrorIs(t, err, ErrNoFullTrack)
}
