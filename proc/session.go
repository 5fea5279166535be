package proc

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/tunequiz/sys"
)

const (
	MsgSessionTrackAttempt = "[%s] Attempt %d/%d on %s failed: %v"
	MsgSessionTrackReady   = "[%s] Now playing %s (%d clips, %d left in queue)"
	MsgSessionExhausted    = "[%s] Queue exhausted"
	MsgSessionFatal        = "[%s] Giving up after %d failed tracks"
	MsgSessionClosed       = "[%s] Session closed"

	MaxTrackAttempts = 5
	MinClipCount     = 1
	MaxClipCount     = 10
	MinClipLength    = 1.0
	MaxClipLength    = 30.0
	MaxVolume        = 2.0
)

type State int

const (
	StateIdle State = iota
	StatePreparing
	StatePlaying
	StateAwaitingNext
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StatePlaying:
		return "playing"
	case StateAwaitingNext:
		return "awaiting next"
	case StateEnded:
		return "ended"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Player is the voice output of a session. Play replaces whatever is audible.
type Player interface {
	Play(data []byte) error
	SetVolume(v float64)
	Stop()
}

// SessionConfig holds the per-session settings that may change between tracks.
type SessionConfig struct {
	ClipCount  int
	ClipLength float64
	Volume     float64
	Shuffle    bool
}

func (c SessionConfig) Validate() error {
	if err := validateClipCount(c.ClipCount); err != nil {
		return err
	}
	if err := validateClipLength(c.ClipLength); err != nil {
		return err
	}
	return validateVolume(c.Volume)
}

func validateClipCount(n int) error {
	if n < MinClipCount || n > MaxClipCount {
		return fmt.Errorf("%w: clip count %d outside [%d, %d]", ErrValidation, n, MinClipCount, MaxClipCount)
	}
	return nil
}

func validateClipLength(l float64) error {
	if l < MinClipLength || l > MaxClipLength {
		return fmt.Errorf("%w: clip length %.1f outside [%.0f, %.0f]", ErrValidation, l, MinClipLength, MaxClipLength)
	}
	return nil
}

func validateVolume(v float64) error {
	if v < 0 || v > MaxVolume {
		return fmt.Errorf("%w: volume %.2f outside [0, %.0f]", ErrValidation, v, MaxVolume)
	}
	return nil
}

// RevealInfo describes the current track once players give up.
type RevealInfo struct {
	TrackID       string
	TotalDuration float64
	Windows       []Range
}

// Session is one game bound to a guild's voice channel.
type Session struct {
	GuildID        snowflake.ID
	VoiceChannelID snowflake.ID
	TextChannelID  snowflake.ID
	StartedAt      time.Time

	player   Player
	preparer TrackPreparer

	mu        sync.Mutex
	rng       *rand.Rand
	remaining []string
	seen      []string
	seenSet   map[string]struct{}
	track     *PreparedTrack
	pending   []*Clip
	played    []*Clip
	active    *Clip
	state     State
	cfg       SessionConfig
	closed    bool

	preparing atomic.Bool
}

type SessionOption func(*Session)

func WithSessionRand(rng *rand.Rand) SessionOption {
	return func(s *Session) { s.rng = rng }
}

func WithChannels(voiceID, textID snowflake.ID) SessionOption {
	return func(s *Session) {
		s.VoiceChannelID = voiceID
		s.TextChannelID = textID
	}
}

// NewSession creates an idle session over tracks. Duplicate identifiers are dropped.
func NewSession(guildID snowflake.ID, tracks []string, player Player, preparer TrackPreparer, cfg SessionConfig, opts ...SessionOption) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		GuildID:   guildID,
		StartedAt: time.Now(),
		player:    player,
		preparer:  preparer,
		seenSet:   make(map[string]struct{}),
		cfg:       cfg,
	}
	for _, o := range opts {
		o(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(guildID)))
	}
	if s.enqueue(tracks) == 0 {
		return nil, fmt.Errorf("%w: playlist has no tracks", ErrValidation)
	}
	player.SetVolume(cfg.Volume)
	return s, nil
}

// enqueue must be called with mu held or before the session is shared.
func (s *Session) enqueue(ids []string) int {
	added := 0
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := s.seenSet[id]; ok {
			continue
		}
		s.seenSet[id] = struct{}{}
		s.seen = append(s.seen, id)
		s.remaining = append(s.remaining, id)
		added++
	}
	return added
}

func (s *Session) popRandom() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.remaining)
	if n == 0 {
		return "", false
	}
	i := s.rng.Intn(n)
	id := s.remaining[i]
	s.remaining[i] = s.remaining[n-1]
	s.remaining = s.remaining[:n-1]
	return id, true
}

func (s *Session) IsPreparing() bool {
	return s.preparing.Load()
}

func (s *Session) State() State {
	if s.preparing.Load() {
		return StatePreparing
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AdvanceToNextTrack draws a random unplayed track and prepares its clips. A failed
// track is abandoned for another one, up to MaxTrackAttempts tracks in total.
func (s *Session) AdvanceToNextTrack(ctx context.Context) (string, error) {
	if !s.preparing.CompareAndSwap(false, true) {
		return "", ErrPreparing
	}
	defer s.preparing.Store(false)

	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}
	s.state = StatePreparing
	s.track, s.active, s.pending, s.played = nil, nil, nil, nil
	cfg := s.cfg
	s.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= MaxTrackAttempts; attempt++ {
		id, ok := s.popRandom()
		if !ok {
			sys.LogGame(MsgSessionExhausted, s.GuildID)
			s.end()
			return "", ErrNoMoreTracks
		}

		s.preparer.EnforceDiskBudget()
		track, err := s.preparer.Prepare(ctx, id, cfg.ClipCount, cfg.ClipLength)
		if err == nil {
			return id, s.install(track)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.end()
			return "", ctxErr
		}
		sys.LogGame(MsgSessionTrackAttempt, s.GuildID, attempt, MaxTrackAttempts, id, err)
		lastErr = err
	}

	sys.LogGame(MsgSessionFatal, s.GuildID, MaxTrackAttempts)
	s.end()
	return "", fmt.Errorf("%w: %v", ErrSessionFatal, lastErr)
}

// install makes track current and starts its first clip.
func (s *Session) install(track *PreparedTrack) error {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	clips := slices.Clone(track.Clips)
	if s.cfg.Shuffle {
		s.rng.Shuffle(len(clips), func(i, j int) { clips[i], clips[j] = clips[j], clips[i] })
	}
	s.track = track
	s.played = nil
	s.active, s.pending = nil, nil
	if len(clips) > 0 {
		s.active, s.pending = clips[0], clips[1:]
		s.state = StatePlaying
	} else {
		s.state = StateAwaitingNext
	}
	active := s.active
	left := len(s.remaining)
	s.mu.Unlock()

	sys.LogGame(MsgSessionTrackReady, s.GuildID, track.TrackID, len(clips), left)
	if active == nil {
		return ErrNoActiveClip
	}
	return s.player.Play(active.Data)
}

func (s *Session) end() {
	s.mu.Lock()
	s.state = StateEnded
	s.mu.Unlock()
}

// AdvanceToNextClip plays the next pending clip of the current track. When none is
// left it returns ErrNoMoreClips and changes nothing else.
func (s *Session) AdvanceToNextClip() (*Clip, error) {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if len(s.pending) == 0 {
		if s.active != nil {
			s.state = StateAwaitingNext
		}
		s.mu.Unlock()
		return nil, ErrNoMoreClips
	}
	next := s.pending[0]
	s.pending = s.pending[1:]
	if s.active != nil {
		s.played = append(s.played, s.active)
	}
	s.active = next
	s.state = StatePlaying
	s.mu.Unlock()

	return next, s.player.Play(next.Data)
}

// ReturnToPreviousClip puts the active clip back at the front of the pending clips
// and plays the most recently played one.
func (s *Session) ReturnToPreviousClip() (*Clip, error) {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.active == nil || len(s.played) == 0 {
		s.mu.Unlock()
		return nil, ErrNoPreviousClip
	}
	last := len(s.played) - 1
	prev := s.played[last]
	s.played = s.played[:last]
	s.pending = append([]*Clip{s.active}, s.pending...)
	s.active = prev
	s.state = StatePlaying
	s.mu.Unlock()

	return prev, s.player.Play(prev.Data)
}

func (s *Session) ReplayActiveClip() (*Clip, error) {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	active := s.active
	if active == nil {
		s.mu.Unlock()
		return nil, ErrNoActiveClip
	}
	s.state = StatePlaying
	s.mu.Unlock()

	return active, s.player.Play(active.Data)
}

// PlayFullTrack plays the whole current track from the start.
func (s *Session) PlayFullTrack() error {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.track == nil || len(s.track.Full) == 0 {
		s.mu.Unlock()
		return ErrNoFullTrack
	}
	full := s.track.Full
	s.state = StatePlaying
	s.mu.Unlock()

	return s.player.Play(full)
}

// SetVolume applies v to the clip that is playing now and to every later one.
func (s *Session) SetVolume(v float64) error {
	if err := validateVolume(v); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg.Volume = v
	s.mu.Unlock()
	s.player.SetVolume(v)
	return nil
}

// SetClipCount changes how many clips the next prepared track gets.
func (s *Session) SetClipCount(n int) error {
	if err := validateClipCount(n); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg.ClipCount = n
	s.mu.Unlock()
	return nil
}

func (s *Session) SetClipLength(l float64) error {
	if err := validateClipLength(l); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg.ClipLength = l
	s.mu.Unlock()
	return nil
}

func (s *Session) Config() SessionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// AddTracks appends identifiers that were never queued before and returns how many were added.
func (s *Session) AddTracks(ids ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnded {
		return 0, ErrSessionClosed
	}
	return s.enqueue(ids), nil
}

// Repick draws new windows over the current track's audio and starts the first one.
func (s *Session) Repick(ctx context.Context) error {
	if !s.preparing.CompareAndSwap(false, true) {
		return ErrPreparing
	}
	defer s.preparing.Store(false)

	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	track := s.track
	cfg := s.cfg
	s.mu.Unlock()
	if track == nil {
		return ErrNoFullTrack
	}

	fresh, err := s.preparer.Reselect(ctx, track, cfg.ClipCount, cfg.ClipLength)
	if err != nil {
		return err
	}
	return s.install(fresh)
}

// HintCandidates returns up to n identifiers in random order, one of which is the
// current track. The others are drawn from every track this session has queued.
func (s *Session) HintCandidates(n int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.track == nil {
		return nil, ErrNoActiveClip
	}
	current := s.track.TrackID

	others := make([]string, 0, len(s.seen))
	for _, id := range s.seen {
		if id != current {
			others = append(others, id)
		}
	}
	s.rng.Shuffle(len(others), func(i, j int) { others[i], others[j] = others[j], others[i] })

	if n < 1 {
		n = 1
	}
	if n-1 < len(others) {
		others = others[:n-1]
	}
	out := append(others, current)
	s.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out, nil
}

// Reveal reports the current track and where each of its clips was cut from.
func (s *Session) Reveal() (RevealInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.track == nil {
		return RevealInfo{}, ErrNoActiveClip
	}
	windows := make([]Range, 0, len(s.track.Clips))
	for _, c := range s.track.Clips {
		windows = append(windows, c.Window)
	}
	slices.SortFunc(windows, func(a, b Range) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})
	return RevealInfo{
		TrackID:       s.track.TrackID,
		TotalDuration: s.track.TotalDuration,
		Windows:       windows,
	}, nil
}

// ClipPosition returns the 1-based number of the active clip and the clip total.
func (s *Session) ClipPosition() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := len(s.played) + len(s.pending)
	if s.active == nil {
		return 0, total
	}
	return len(s.played) + 1, total + 1
}

func (s *Session) CurrentTrackID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.track == nil {
		return ""
	}
	return s.track.TrackID
}

func (s *Session) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.remaining)
}

func (s *Session) SeenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Close ends the session and silences it. Calling it again is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = StateEnded
	s.track, s.active, s.pending, s.played = nil, nil, nil, nil
	s.mu.Unlock()

	s.player.Stop()
	sys.LogGame(MsgSessionClosed, s.GuildID)
}

// IsTerminal reports whether err means the session has to be torn down.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrNoMoreTracks) || errors.Is(err, ErrSessionFatal) || errors.Is(err, ErrSessionClosed)
}
