package store

import (
	"context"
	"sync"
)

// Memory is a thread-safe in-process Store. Mappings live as long as the
// process and are never shared with other processes.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]map[string]string
	closed   bool
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]map[string]string)}
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, sessionID, token, value string) error {
	if err := checkSession(sessionID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.sessionLocked(sessionID)[token] = value
	return nil
}

// SetIfAbsent implements Store.
func (m *Memory) SetIfAbsent(_ context.Context, sessionID, token, value string) (bool, error) {
	if err := checkSession(sessionID); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	s := m.sessionLocked(sessionID)
	if _, exists := s[token]; exists {
		return false, nil
	}
	s[token] = value
	return true, nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, sessionID, token string) (string, bool, error) {
	if err := checkSession(sessionID); err != nil {
		return "", false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, ErrClosed
	}
	v, ok := m.sessions[sessionID][token]
	return v, ok, nil
}

// GetAll implements Store.
func (m *Memory) GetAll(_ context.Context, sessionID string) (map[string]string, error) {
	if err := checkSession(sessionID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	s := m.sessions[sessionID]
	out := make(map[string]string, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}

// Clear implements Store.
func (m *Memory) Clear(_ context.Context, sessionID string) error {
	if err := checkSession(sessionID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.sessions, sessionID)
	return nil
}

// Close implements Store. Mappings are discarded.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.sessions = nil
	m.mu.Unlock()
	return nil
}

// sessionLocked returns the session's map, creating it on first use.
// Caller must hold m.mu for writing.
func (m *Memory) sessionLocked(sessionID string) map[string]string {
	s, ok := m.sessions[sessionID]
	if !ok {
		s = make(map[string]string)
		m.sessions[sessionID] = s
	}
	return s
}
