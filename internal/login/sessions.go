package login

import (
	"sync"

	"github.com/SgtCoDFish/PlayPG/internal/core/client"
)

// PlayerSession is an authenticated player connection. It owns its client.
type PlayerSession struct {
	PlayerID   uint64
	Username   string
	SessionKey string
	// Unique per process and increasing in creation order.
	GUID          uint64
	Authenticated bool
	// Set once, when the player selects a character.
	CharacterID *uint64

	client *client.Client
}

// Client returns the session's connection.
func (s *PlayerSession) Client() *client.Client { return s.client }

// SessionRegistry holds every connected player session, indexed by username.
// Entries removed during a processing pass leave a nil hole in the list that is
// compacted at the end of the pass.
type SessionRegistry struct {
	mu         sync.Mutex
	sessions   []*PlayerSession
	byUsername map[string]*PlayerSession
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{byUsername: make(map[string]*PlayerSession)}
}

// Add inserts a session. If the username already has a session, the old session
// is disconnected and returned.
func (r *SessionRegistry) Add(s *PlayerSession) *PlayerSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.byUsername[s.Username]
	if previous != nil {
		for i, existing := range r.sessions {
			if existing == previous {
				r.sessions[i] = nil
			}
		}
		_ = previous.client.Close()
		r.compact()
	}

	r.sessions = append(r.sessions, s)
	r.byUsername[s.Username] = s
	activeSessions.Set(float64(len(r.byUsername)))
	return previous
}

// Lookup returns the session for username, or nil.
func (r *SessionRegistry) Lookup(username string) *PlayerSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byUsername[username]
}

func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUsername)
}

// each calls fn for every session while holding the registry lock. fn returns
// false to remove the session, which is then closed and dropped from the index
// immediately.
func (r *SessionRegistry) each(fn func(s *PlayerSession) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.sessions {
		if s == nil {
			continue
		}
		if !fn(s) {
			r.removeAt(i)
		}
	}
	r.compact()
	activeSessions.Set(float64(len(r.byUsername)))
}

func (r *SessionRegistry) removeAt(i int) {
	s := r.sessions[i]
	if r.byUsername[s.Username] == s {
		delete(r.byUsername, s.Username)
	}
	_ = s.client.Close()
	r.sessions[i] = nil
}

func (r *SessionRegistry) compact() {
	kept := r.sessions[:0]
	for _, s := range r.sessions {
		if s != nil {
			kept = append(kept, s)
		}
	}
	for i := len(kept); i < len(r.sessions); i++ {
		r.sessions[i] = nil
	}
	r.sessions = kept
}

// CloseAll disconnects every session.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.sessions {
		if s != nil {
			r.removeAt(i)
		}
	}
	r.compact()
	activeSessions.Set(0)
}
