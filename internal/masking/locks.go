package masking

import "sync"

// sessionLocks hands out one mutex per session, dropping it once no caller
// holds or waits on it so the table does not grow with every session seen.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// lock blocks until the caller owns sessionID and returns the release func.
func (t *sessionLocks) lock(sessionID string) func() {
	t.mu.Lock()
	l, ok := t.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		t.locks[sessionID] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, sessionID)
		}
		t.mu.Unlock()
	}
}

func (t *sessionLocks) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
