package proc

import (
	"sync"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/tunequiz/sys"
)

const MsgRegistryShutdown = "Closing %d active sessions"

// Registry owns every running session, keyed by guild.
type Registry struct {
	mu        sync.Mutex
	sessions  map[snowflake.ID]*Session
	onDestroy func(guildID snowflake.ID)
}

// NewRegistry creates an empty registry. onDestroy runs after a session is closed,
// outside the registry lock, and may be nil.
func NewRegistry(onDestroy func(guildID snowflake.ID)) *Registry {
	return &Registry{
		sessions:  make(map[snowflake.ID]*Session),
		onDestroy: onDestroy,
	}
}

func (r *Registry) Get(guildID snowflake.ID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[guildID]
	return s, ok
}

// Create stores s under its guild. It fails with ErrSessionExists when the guild
// already has a session, leaving the existing one in place.
func (r *Registry) Create(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.GuildID]; ok {
		return ErrSessionExists
	}
	r.sessions[s.GuildID] = s
	return nil
}

// Destroy removes and closes the guild's session. It reports whether one existed.
func (r *Registry) Destroy(guildID snowflake.ID) bool {
	r.mu.Lock()
	s, ok := r.sessions[guildID]
	delete(r.sessions, guildID)
	r.mu.Unlock()

	if !ok {
		return false
	}
	s.Close()
	if r.onDestroy != nil {
		r.onDestroy(guildID)
	}
	return true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown destroys every session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	ids := make([]snowflake.ID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	if len(ids) > 0 {
		sys.LogGame(MsgRegistryShutdown, len(ids))
	}
	for _, id := range ids {
		r.Destroy(id)
	}
}
