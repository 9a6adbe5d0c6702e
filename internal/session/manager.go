package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = eris.New("session: not found")

// Manager owns the live sessions.
type Manager struct {
	deps Deps
	opts Options
	log  *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty manager.
func NewManager(deps Deps, opts Options) *Manager {
	return &Manager{
		deps:     deps,
		opts:     opts,
		log:      zap.L().With(zap.String("component", "session")),
		sessions: make(map[string]*Session),
	}
}

// Create starts a new session.
func (m *Manager) Create() *Session {
	s := New(uuid.NewString(), m.deps, m.opts)
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	m.log.Info("session created", zap.String("session", s.ID()))
	return s
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "session %s", id)
	}
	return s, nil
}

// Remove closes and forgets the session with id.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return eris.Wrapf(ErrNotFound, "session %s", id)
	}
	s.Close()
	m.log.Info("session removed", zap.String("session", id))
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Reap closes sessions idle since before now-idle that have no open stream.
func (m *Manager) Reap(now time.Time, idle time.Duration) int {
	m.mu.Lock()
	var stale []*Session
	for id, s := range m.sessions {
		if s.Subscribers() == 0 && now.Sub(s.LastActive()) > idle {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	if len(stale) > 0 {
		m.log.Info("reaped idle sessions", zap.Int("count", len(stale)))
	}
	return len(stale)
}

// RunReaper reaps idle sessions every interval until ctx is done.
func (m *Manager) RunReaper(ctx context.Context, interval, idle time.Duration) {
	if interval <= 0 || idle <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Reap(now, idle)
		}
	}
}

// Close closes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}
