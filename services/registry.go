package services

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"match-coordinator/apperrors"

	"github.com/jonboulle/clockwork"
)

// ExpiryScheduler arms a one-shot task at a deadline. The returned cancel
// func must be safe to call after the task ran.
type ExpiryScheduler interface {
	Schedule(name string, at time.Time, task func()) (cancel func(), err error)
}

// ExpiryHandler receives the effects of a session torn down by its timer.
type ExpiryHandler func(s *Session, eff Effects)

// Registry maps match ids to live sessions. Its lock covers the map only;
// session logic runs under each session's own lock.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	onExpire ExpiryHandler

	scheduler ExpiryScheduler
	clock     clockwork.Clock
	ttl       time.Duration
}

func NewRegistry(scheduler ExpiryScheduler, clock clockwork.Clock, ttl time.Duration) *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		scheduler: scheduler,
		clock:     clock,
		ttl:       ttl,
	}
}

// OnExpire installs the handler that delivers expiry effects.
func (r *Registry) OnExpire(h ExpiryHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = h
}

// GetOrCreate returns the live session for matchID, creating it and arming
// its expiry deadline when none exists.
func (r *Registry) GetOrCreate(matchID string) (*Session, bool, error) {
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return nil, false, apperrors.New(apperrors.CodeInvalidInput, "match id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[matchID]; ok && !s.Closed() {
		return s, false, nil
	}

	s := newSession(matchID, r.clock, r.ttl)
	cancel, err := r.scheduler.Schedule("session-expiry:"+matchID, s.expiresAt, func() { r.expire(s) })
	if err != nil {
		return nil, false, fmt.Errorf("schedule expiry for match %s: %w", matchID, err)
	}
	s.armExpiry(cancel)
	r.sessions[matchID] = s

	log.Printf("[REGISTRY] 🆕 session %s created, expires at %s (%d live)", matchID, s.expiresAt.Format(time.RFC3339), len(r.sessions))
	return s, true, nil
}

// Get returns the session registered under matchID.
func (r *Registry) Get(matchID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[strings.TrimSpace(matchID)]
	return s, ok
}

// Remove drops s from the map. Removing twice, or removing a session that
// was already replaced under the same id, is a no-op.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.sessions[s.matchID]; ok && current == s {
		delete(r.sessions, s.matchID)
		log.Printf("[REGISTRY] session %s removed (%d live)", s.matchID, len(r.sessions))
	}
}

// Sessions returns the live sessions ordered by match id.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].matchID < out[j].matchID })
	return out
}

// Len is the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) expire(s *Session) {
	eff := s.Expire()
	if !eff.Terminal {
		return
	}
	r.Remove(s)

	r.mu.Lock()
	h := r.onExpire
	r.mu.Unlock()
	if h != nil {
		h(s, eff)
	}
}
