package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/storebot/core/logger"
)

// MemoryStore keeps sessions in a mutex-guarded map.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// MemoryOption customises a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source, mostly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemoryStore builds an in-memory store. A ttl of zero keeps sessions until consumed.
func NewMemoryStore(ttl time.Duration, opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create stores a new pending session.
func (m *MemoryStore) Create(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if s, ok := m.sessions[code]; ok && !m.expired(s, now) {
		return ErrCodeExists
	}
	s := &Session{Code: code, Status: StatusPending, CreatedAt: now}
	if m.ttl > 0 {
		s.ExpiresAt = now.Add(m.ttl)
	}
	m.sessions[code] = s
	return nil
}

// Get returns a copy of the session for code.
func (m *MemoryStore) Get(_ context.Context, code string) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.lookup(code)
	if !ok {
		return Session{}, false, nil
	}
	return s.clone(), true, nil
}

// Resolve marks the session resolved with user; last write wins.
func (m *MemoryStore) Resolve(_ context.Context, code string, user User) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.lookup(code)
	if !ok {
		return false, nil
	}
	u := user
	s.Status = StatusResolved
	s.User = &u
	return true, nil
}

// Consume removes the session and returns its last state.
func (m *MemoryStore) Consume(_ context.Context, code string) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.lookup(code)
	if !ok {
		return Session{}, false, nil
	}
	delete(m.sessions, code)
	return s.clone(), true, nil
}

// Len reports the number of stored sessions, expired ones included until swept.
func (m *MemoryStore) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions), nil
}

// Sweep drops expired sessions and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for code, s := range m.sessions {
		if m.expired(s, now) {
			delete(m.sessions, code)
			removed++
		}
	}
	return removed
}

// Run sweeps expired sessions every interval until ctx is done.
func (m *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	if m.ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := m.Sweep(); removed > 0 {
				logger.Debug(ctx, "session.store", "sweep",
					slog.String("status", "ok"),
					slog.Int("count", removed),
				)
			}
		}
	}
}

// lookup must be called with m.mu held. Expired entries are dropped on read.
func (m *MemoryStore) lookup(code string) (*Session, bool) {
	s, ok := m.sessions[code]
	if !ok {
		return nil, false
	}
	if m.expired(s, m.now()) {
		delete(m.sessions, code)
		return nil, false
	}
	return s, true
}

func (m *MemoryStore) expired(s *Session, now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

func (s *Session) clone() Session {
	out := *s
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
