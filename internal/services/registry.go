package services

import (
	"context"
	"sync"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/google/uuid"
)

// Registry keeps one planning session per client and expires sessions that
// have been idle longer than the TTL
type Registry struct {
	deps Dependencies
	ttl  time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time

	// Background cleanup control
	stopChan chan struct{}
	running  bool
}

// NewRegistry creates a registry whose sessions share deps
func NewRegistry(deps Dependencies, ttl time.Duration) *Registry {
	return &Registry{
		deps:     deps,
		ttl:      ttl,
		sessions: make(map[string]*Session),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Get returns the session with id
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// GetOrCreate returns the session with id, creating it if needed. An empty
// id always creates a new session.
func (r *Registry) GetOrCreate(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	if s, ok := r.sessions[id]; ok {
		return s
	}

	s := NewSession(id, r.deps)
	s.now = r.now
	s.lastUsed = r.now()
	r.sessions[id] = s
	return s
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Expire closes and removes sessions idle for longer than the TTL
func (r *Registry) Expire() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ttl <= 0 {
		return 0
	}

	cutoff := r.now().Add(-r.ttl)
	removed := 0
	for id, s := range r.sessions {
		if s.idleSince().Before(cutoff) {
			s.Close()
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// StartCleanup begins expiring idle sessions every interval. A context
// without a logger gets a development logger.
func (r *Registry) StartCleanup(ctx context.Context, interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true

	ctx = logging.EnsureLogger(ctx)
	logging.Infow(ctx, "Starting session cleanup", "interval", interval, "ttl", r.ttl)
	go r.cleanupLoop(ctx, interval)
}

// Stop halts background cleanup
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.running = false
	close(r.stopChan)
}

func (r *Registry) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Infow(ctx, "Session cleanup stopping due to context cancellation")
			return
		case <-r.stopChan:
			logging.Infow(ctx, "Session cleanup stopping due to stop signal")
			return
		case <-ticker.C:
			if removed := r.Expire(); removed > 0 {
				logging.Infow(ctx, "Expired idle sessions", "removed", removed, "remaining", r.Len())
			}
		}
	}
}
