// Package store holds the per-session token mappings that make unmasking
// possible.
//
// A session mapping is a set of token → original value pairs, e.g.
// "{{PER_1}}" → "Amit Kumar". Mappings are created lazily on the first write
// for a session and disappear on expiry or an explicit Clear.
//
// Three implementations are provided:
//   - Memory: process-local maps, no expiry. Default; used in tests.
//   - Redis: one hash per session ("kavach:session:<id>"), whole-hash TTL
//     refreshed on every write. Shared across gateway replicas.
//   - Bolt: embedded bbolt database with the same TTL semantics as Redis,
//     for single-node deployments that must survive restarts.
//
// All implementations are safe for concurrent use and give read-your-writes
// consistency within a session.
package store

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is how long a session mapping lives after its most recent write.
const DefaultTTL = 24 * time.Hour

var (
	// ErrClosed is returned by operations on a store after Close.
	ErrClosed = errors.New("store: closed")

	// ErrEmptySession is returned when a session ID is empty.
	ErrEmptySession = errors.New("store: empty session id")
)

// Store is the session mapping backend used by the masking engine.
type Store interface {
	// Set stores token → value for the session, overwriting any existing
	// entry, and refreshes the session's expiry.
	Set(ctx context.Context, sessionID, token, value string) error

	// SetIfAbsent stores token → value only if the token is not yet bound in
	// the session. It reports whether the write happened; the session's
	// expiry is refreshed only when it did.
	SetIfAbsent(ctx context.Context, sessionID, token, value string) (bool, error)

	// Get returns the value bound to token, if present.
	Get(ctx context.Context, sessionID, token string) (value string, ok bool, err error)

	// GetAll returns a copy of the session's full mapping. An unknown or
	// expired session yields an empty, non-nil map.
	GetAll(ctx context.Context, sessionID string) (map[string]string, error)

	// Clear drops the whole session mapping.
	Clear(ctx context.Context, sessionID string) error

	// Close releases any resources held by the store.
	Close() error
}

func checkSession(sessionID string) error {
	if sessionID == "" {
		return ErrEmptySession
	}
	return nil
}
