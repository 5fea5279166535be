package proc

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlayer struct {
	mu     sync.Mutex
	played [][]byte
	volume float64
	stops  int
}

func (p *fakePlayer) Play(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = append(p.played, data)
	return nil
}

func (p *fakePlayer) SetVolume(v float64) {
	p.mu.Lock()
	p.volume = v
	p.mu.Unlock()
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	p.stops++
	p.mu.Unlock()
}

func (p *fakePlayer) last() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.played) == 0 {
		return ""
	}
	return string(p.played[len(p.played)-1])
}

type fakePreparer struct {
	mu        sync.Mutex
	failing   map[string]bool
	prepared  []string
	evictions int
	block     chan struct{}
}

func (f *fakePreparer) EnforceDiskBudget() {
	f.mu.Lock()
	f.evictions++
	f.mu.Unlock()
}

func clipsFor(id string, count int, gen int) []*Clip {
	clips := make([]*Clip, count)
	for i := range clips {
		start := float64(i * 10)
		clips[i] = &Clip{
			SourceID:      id,
			Window:        Range{Start: start, End: start + 5},
			TotalDuration: 100,
			Data:          fmt.Appendf(nil, "%s/%d/%d", id, gen, i),
		}
	}
	return clips
}

func (f *fakePreparer) Prepare(ctx context.Context, trackID string, clipCount int, clipLength float64) (*PreparedTrack, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.prepared = append(f.prepared, trackID)
	fail := f.failing[trackID]
	f.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("%w: %s", ErrAcquisition, trackID)
	}
	return &PreparedTrack{
		TrackID:       trackID,
		Clips:         clipsFor(trackID, clipCount, 0),
		Full:          []byte("full/" + trackID),
		TotalDuration: 100,
	}, nil
}

func (f *fakePreparer) Reselect(ctx context.Context, track *PreparedTrack, clipCount int, clipLength float64) (*PreparedTrack, error) {
	if track == nil || len(track.Full) == 0 {
		return nil, ErrNoFullTrack
	}
	return &PreparedTrack{
		TrackID:       track.TrackID,
		Clips:         clipsFor(track.TrackID, clipCount, 1),
		Full:          track.Full,
		TotalDuration: track.TotalDuration,
	}, nil
}

var testConfig = SessionConfig{ClipCount: 3, ClipLength: 5, Volume: 1}

func newTestSession(t *testing.T, tracks []string, prep *fakePreparer, cfg SessionConfig) (*Session, *fakePlayer) {
	t.Helper()
	player := &fakePlayer{}
	s, err := NewSession(snowflake.ID(1), tracks, player, prep, cfg, WithSessionRand(rand.New(rand.NewSource(7))))
	require.NoError(t, err)
	return s, player
}

func TestNewSessionValidation(t *testing.T) {
	prep := &fakePreparer{}
	tests := []struct {
		name   string
		tracks []string
		cfg    SessionConfig
	}{
		{"No Tracks", nil, testConfig},
		{"Only Empty Ids", []string{"", ""}, testConfig},
		{"Zero Clips", []string{"a"}, SessionConfig{ClipCount: 0, ClipLength: 5, Volume: 1}},
		{"Too Many Clips", []string{"a"}, SessionConfig{ClipCount: 11, ClipLength: 5, Volume: 1}},
		{"Clip Too Short", []string{"a"}, SessionConfig{ClipCount: 3, ClipLength: 0.5, Volume: 1}},
		{"Clip Too Long", []string{"a"}, SessionConfig{ClipCount: 3, ClipLength: 31, Volume: 1}},
		{"Volume Too High", []string{"a"}, SessionConfig{ClipCount: 3, ClipLength: 5, Volume: 2.5}},
		{"Negative Volume", []string{"a"}, SessionConfig{ClipCount: 3, ClipLength: 5, Volume: -0.1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSession(1, tt.tracks, &fakePlayer{}, prep, tt.cfg)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestNewSessionDedupsAndAppliesVolume(t *testing.T) {
	cfg := testConfig
	cfg.Volume = 0.5
	s, player := newTestSession(t, []string{"a", "b", "a", "", "c", "b"}, &fakePreparer{}, cfg)

	assert.Equal(t, 3, s.Remaining())
	assert.Equal(t, 3, s.SeenCount())
	assert.Equal(t, 0.5, player.volume)
	assert.Equal(t, StateIdle, s.State())
}

func TestAdvanceToNextTrackPlaysFirstClip(t *testing.T) {
	prep := &fakePreparer{}
	s, player := newTestSession(t, []string{"a"}, prep, testConfig)

	id, err := s.AdvanceToNextTrack(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", id)
	assert.Equal(t, "a", s.CurrentTrackID())
	assert.Equal(t, StatePlaying, s.State())
	assert.Equal(t, "a/0/0", player.last())
	assert.Equal(t, 1, prep.evictions)

	pos, total := s.ClipPosition()
	assert.Equal(t, 1, pos)
	assert.Equal(t, 3, total)
}

func TestClipNavigation(t *testing.T) {
	s, player := newTestSession(t, []string{"a"}, &fakePreparer{}, testConfig)
	_, err := s.AdvanceToNextTrack(context.Background())
	require.NoError(t, err)

	_, err = s.ReturnToPreviousClip()
	assert.ErrorIs(t, err, ErrNoPreviousClip)

	c, err := s.AdvanceToNextClip()
	require.NoError(t, err)
	assert.Equal(t, "a/0/1", string(c.Data))
	c, err = s.AdvanceToNextClip()
	require.NoError(t, err)
	assert.Equal(t, "a/0/2", string(c.Data))

	pos, total := s.ClipPosition()
	assert.Equal(t, 3, pos)
	assert.Equal(t, 3, total)

	_, err = s.AdvanceToNextClip()
	assert.ErrorIs(t, err, ErrNoMoreClips)
	assert.Equal(t, StateAwaitingNext, s.State())
	assert.Equal(t, "a/0/2", player.last())

	c, err = s.ReturnToPreviousClip()
	require.NoError(t, err)
	assert.Equal(t, "a/0/1", string(c.Data))
	pos, total = s.ClipPosition()
	assert.Equal(t, 2, pos)
	assert.Equal(t, 3, total)

	c, err = s.AdvanceToNextClip()
	require.NoError(t, err)
	assert.Equal(t, "a/0/2", string(c.Data))

	c, err = s.ReplayActiveClip()
	require.NoError(t, err)
	assert.Equal(t, "a/0/2", string(c.Data))
	assert.Equal(t, "a/0/2", player.last())

	require.NoError(t, s.PlayFullTrack())
	assert.Equal(t, "full/a", player.last())
}

func TestClipOperationsWithoutTrack(t *testing.T) {
	s, _ := newTestSession(t, []string{"a"}, &fakePreparer{}, testConfig)

	_, err := s.AdvanceToNextClip()
	assert.ErrorIs(t, err, ErrNoMoreClips)
	assert.Equal(t, StateIdle, s.State())

	_, err = s.ReplayActiveClip()
	assert.ErrorIs(t, err, ErrNoActiveClip)
	_, err = s.ReturnToPreviousClip()
	assert.ErrorIs(t, err, ErrNoPreviousClip)
	assert.ErrorIs(t, s.PlayFullTrack(), ErrNoFullTrack)
	_, err = s.Reveal()
	assert.ErrorIs(t, err, ErrNoActiveClip)
	_, err = s.HintCandidates(4)
	assert.ErrorIs(t, err, ErrNoActiveClip)
	assert.ErrorIs(t, s.Repick(context.Background()), ErrNoFullTrack)
}

func TestAdvanceToNextTrackSkipsFailures(t *testing.T) {
	prep := &fakePreparer{failing: map[string]bool{"bad1": true, "bad2": true}}
	s, _ := newTestSession(t, []string{"bad1", "bad2", "good"}, prep, testConfig)

	id, err := s.AdvanceToNextTrack(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "good", id)
	assert.Equal(t, "good", prep.prepared[len(prep.prepared)-1])
}

func TestAdvanceToNextTrackGivesUp(t *testing.T) {
	tracks := make([]string, 7)
	failing := map[string]bool{}
	for i := range tracks {
		tracks[i] = fmt.Sprintf("t%d", i)
		failing[tracks[i]] = true
	}
	prep := &fakePreparer{failing: failing}
	s, _ := newTestSession(t, tracks, prep, testConfig)

	_, err := s.AdvanceToNextTrack(context.Background())
	assert.ErrorIs(t, err, ErrSessionFatal)
	assert.True(t, IsTerminal(err))
	assert.Len(t, prep.prepared, MaxTrackAttempts)
	assert.Equal(t, StateEnded, s.State())

	_, err = s.AdvanceToNextTrack(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestAdvanceToNextTrackExhaustsQueue(t *testing.T) {
	s, _ := newTestSession(t, []string{"a", "b"}, &fakePreparer{}, testConfig)

	seen := map[string]bool{}
	for range 2 {
		id, err := s.AdvanceToNextTrack(context.Background())
		require.NoError(t, err)
		assert.False(t, seen[id], "track %s played twice", id)
		seen[id] = true
	}

	_, err := s.AdvanceToNextTrack(context.Background())
	assert.ErrorIs(t, err, ErrNoMoreTracks)
	assert.True(t, IsTerminal(err))
	assert.Equal(t, StateEnded, s.State())
}

func TestAdvanceToNextTrackCancelled(t *testing.T) {
	prep := &fakePreparer{block: make(chan struct{})}
	s, _ := newTestSession(t, []string{"a", "b"}, prep, testConfig)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.AdvanceToNextTrack(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, StateEnded, s.State())
}

func TestAdvanceToNextTrackRejectsConcurrentCall(t *testing.T) {
	prep := &fakePreparer{block: make(chan struct{})}
	s, _ := newTestSession(t, []string{"a", "b"}, prep, testConfig)

	done := make(chan error, 1)
	go func() {
		_, err := s.AdvanceToNextTrack(context.Background())
		done <- err
	}()
	require.Eventually(t, s.IsPreparing, time.Second, time.Millisecond)
	assert.Equal(t, StatePreparing, s.State())

	_, err := s.AdvanceToNextTrack(context.Background())
	assert.ErrorIs(t, err, ErrPreparing)
	assert.ErrorIs(t, s.Repick(context.Background()), ErrPreparing)

	close(prep.block)
	require.NoError(t, <-done)
	assert.False(t, s.IsPreparing())
}

func TestShuffleKeepsEveryClip(t *testing.T) {
	cfg := testConfig
	cfg.ClipCount = 6
	cfg.Shuffle = true
	s, player := newTestSession(t, []string{"a"}, &fakePreparer{}, cfg)
	_, err := s.AdvanceToNextTrack(context.Background())
	require.NoError(t, err)

	for {
		if _, err := s.AdvanceToNextClip(); err != nil {
			require.ErrorIs(t, err, ErrNoMoreClips)
			break
		}
	}
	heard := map[string]bool{}
	for _, p := range player.played {
		heard[string(p)] = true
	}
	assert.Len(t, heard, 6)
}

func TestRepickReplacesClips(t *testing.T) {
	s, player := newTestSession(t, []string{"a"}, &fakePreparer{}, testConfig)
	_, err := s.AdvanceToNextTrack(context.Background())
	require.NoError(t, err)
	_, err = s.AdvanceToNextClip()
	require.NoError(t, err)

	require.NoError(t, s.SetClipCount(2))
	require.NoError(t, s.Repick(context.Background()))

	assert.Equal(t, "a/1/0", player.last())
	pos, total := s.ClipPosition()
	assert.Equal(t, 1, pos)
	assert.Equal(t, 2, total)
	assert.Equal(t, "a", s.CurrentTrackID())
}

func TestSetters(t *testing.T) {
	s, player := newTestSession(t, []string{"a"}, &fakePreparer{}, testConfig)

	require.NoError(t, s.SetVolume(2))
	assert.Equal(t, 2.0, player.volume)
	require.NoError(t, s.SetVolume(0))
	assert.ErrorIs(t, s.SetVolume(2.01), ErrValidation)
	assert.ErrorIs(t, s.SetVolume(-1), ErrValidation)
	assert.Equal(t, 0.0, player.volume)

	assert.ErrorIs(t, s.SetClipCount(0), ErrValidation)
	assert.ErrorIs(t, s.SetClipLength(40), ErrValidation)
	require.NoError(t, s.SetClipLength(10))

	cfg := s.Config()
	assert.Equal(t, 3, cfg.ClipCount)
	assert.Equal(t, 10.0, cfg.ClipLength)
	assert.Equal(t, 0.0, cfg.Volume)
}

func TestAddTracks(t *testing.T) {
	s, _ := newTestSession(t, []string{"a", "b"}, &fakePreparer{}, testConfig)

	added, err := s.AddTracks("b", "c", "d", "c")
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 4, s.Remaining())

	s.Close()
	_, err = s.AddTracks("e")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestHintCandidates(t *testing.T) {
	s, _ := newTestSession(t, []string{"a", "b", "c", "d", "e", "f"}, &fakePreparer{}, testConfig)
	id, err := s.AdvanceToNextTrack(context.Background())
	require.NoError(t, err)

	hints, err := s.HintCandidates(4)
	require.NoError(t, err)
	assert.Len(t, hints, 4)
	assert.Contains(t, hints, id)

	unique := map[string]bool{}
	for _, h := range hints {
		unique[h] = true
	}
	assert.Len(t, unique, 4)

	hints, err = s.HintCandidates(20)
	require.NoError(t, err)
	assert.Len(t, hints, 6)

	hints, err = s.HintCandidates(1)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, hints)
}

func TestRevealSortsWindows(t *testing.T) {
	cfg := testConfig
	cfg.Shuffle = true
	cfg.ClipCount = 5
	s, _ := newTestSession(t, []string{"a"}, &fakePreparer{}, cfg)
	_, err := s.AdvanceToNextTrack(context.Background())
	require.NoError(t, err)

	info, err := s.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "a", info.TrackID)
	assert.Equal(t, 100.0, info.TotalDuration)
	require.Len(t, info.Windows, 5)
	for i := 1; i < len(info.Windows); i++ {
		assert.Less(t, info.Windows[i-1].Start, info.Windows[i].Start)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s, player := newTestSession(t, []string{"a"}, &fakePreparer{}, testConfig)
	_, err := s.AdvanceToNextTrack(context.Background())
	require.NoError(t, err)

	s.Close()
	s.Close()
	assert.Equal(t, 1, player.stops)
	assert.Equal(t, StateEnded, s.State())
	assert.Empty(t, s.CurrentTrackID())

	_, err = s.AdvanceToNextClip()
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.ReplayActiveClip()
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, s.PlayFullTrack(), ErrSessionClosed)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting next", StateAwaitingNext.String())
	assert.Equal(t, "State(9)", State(9).String())
}
