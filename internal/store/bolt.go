package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	boltSessionsBucket = "sessions"       // sessions/<id>/<token> = value
	boltExpiryBucket   = "session_expiry" // <id> = unix-nano deadline (big endian)
)

// BoltOptions configures a Bolt store.
type BoltOptions struct {
	TTL           time.Duration // default DefaultTTL; negative disables expiry
	SweepInterval time.Duration // default 1h; negative disables the sweeper
}

// Bolt is a Store backed by an embedded bbolt database. Entries survive
// process restarts. Each session is a nested bucket; a second bucket records
// each session's expiry deadline, refreshed on every write. Expired sessions
// read as empty and are removed by the next write or sweep.
type Bolt struct {
	db  *bolt.DB
	ttl time.Duration
	now func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewBolt opens (or creates) the bbolt database at path and ensures the
// top-level buckets exist.
func NewBolt(path string, opts BoltOptions) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt store %q: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{boltSessionsBucket, boltExpiryBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create bbolt buckets: %w", err)
	}

	ttl := opts.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	b := &Bolt{db: db, ttl: ttl, now: time.Now, stop: make(chan struct{})}

	interval := opts.SweepInterval
	if interval == 0 {
		interval = time.Hour
	}
	if ttl > 0 && interval > 0 {
		b.wg.Add(1)
		go b.sweepLoop(interval)
	}

	log.Printf("[STORE] bbolt session store opened at %s", path)
	return b, nil
}

// Set implements Store.
func (b *Bolt) Set(_ context.Context, sessionID, token, value string) error {
	if err := checkSession(sessionID); err != nil {
		return err
	}
	return b.update(func(tx *bolt.Tx) error {
		sb, err := b.liveSessionBucket(tx, sessionID)
		if err != nil {
			return err
		}
		if err := sb.Put([]byte(token), []byte(value)); err != nil {
			return err
		}
		return b.touch(tx, sessionID)
	})
}

// SetIfAbsent implements Store.
func (b *Bolt) SetIfAbsent(_ context.Context, sessionID, token, value string) (bool, error) {
	if err := checkSession(sessionID); err != nil {
		return false, err
	}
	var written bool
	err := b.update(func(tx *bolt.Tx) error {
		sb, err := b.liveSessionBucket(tx, sessionID)
		if err != nil {
			return err
		}
		if sb.Get([]byte(token)) != nil {
			return nil
		}
		if err := sb.Put([]byte(token), []byte(value)); err != nil {
			return err
		}
		written = true
		return b.touch(tx, sessionID)
	})
	return written, err
}

// Get implements Store.
func (b *Bolt) Get(_ context.Context, sessionID, token string) (string, bool, error) {
	if err := checkSession(sessionID); err != nil {
		return "", false, err
	}
	var (
		value string
		found bool
	)
	err := b.view(func(tx *bolt.Tx) error {
		sb := b.readableSessionBucket(tx, sessionID)
		if sb == nil {
			return nil
		}
		if v := sb.Get([]byte(token)); v != nil {
			value, found = string(v), true
		}
		return nil
	})
	return value, found, err
}

// GetAll implements Store.
func (b *Bolt) GetAll(_ context.Context, sessionID string) (map[string]string, error) {
	if err := checkSession(sessionID); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	err := b.view(func(tx *bolt.Tx) error {
		sb := b.readableSessionBucket(tx, sessionID)
		if sb == nil {
			return nil
		}
		return sb.ForEach(func(k, v []byte) error {
			out[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Clear implements Store.
func (b *Bolt) Clear(_ context.Context, sessionID string) error {
	if err := checkSession(sessionID); err != nil {
		return err
	}
	return b.update(func(tx *bolt.Tx) error {
		return deleteSession(tx, sessionID)
	})
}

// PurgeExpired removes every session whose deadline has passed and returns
// how many were removed.
func (b *Bolt) PurgeExpired() (int, error) {
	if b.ttl <= 0 {
		return 0, nil
	}
	var removed int
	err := b.update(func(tx *bolt.Tx) error {
		now := b.now()
		var expired []string
		if err := tx.Bucket([]byte(boltExpiryBucket)).ForEach(func(k, v []byte) error {
			if deadlineExpired(v, now) {
				expired = append(expired, string(k))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, id := range expired {
			if err := deleteSession(tx, id); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	return removed, err
}

// Close stops the sweeper and closes the database.
func (b *Bolt) Close() error {
	b.stopOnce.Do(func() { close(b.stop) })
	b.wg.Wait()
	return b.db.Close()
}

func (b *Bolt) sweepLoop(interval time.Duration) {
	defer b.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-t.C:
			if n, err := b.PurgeExpired(); err != nil {
				log.Printf("[STORE] bbolt sweep error: %v", err)
			} else if n > 0 {
				log.Printf("[STORE] bbolt sweep removed %d expired sessions", n)
			}
		}
	}
}

// liveSessionBucket returns the session's bucket for writing, first dropping
// the session if it has expired so stale entries never come back to life.
func (b *Bolt) liveSessionBucket(tx *bolt.Tx, sessionID string) (*bolt.Bucket, error) {
	if b.expired(tx, sessionID) {
		if err := deleteSession(tx, sessionID); err != nil {
			return nil, err
		}
	}
	return tx.Bucket([]byte(boltSessionsBucket)).CreateBucketIfNotExists([]byte(sessionID))
}

// readableSessionBucket returns the session's bucket, or nil if the session
// is unknown or expired.
func (b *Bolt) readableSessionBucket(tx *bolt.Tx, sessionID string) *bolt.Bucket {
	if b.expired(tx, sessionID) {
		return nil
	}
	return tx.Bucket([]byte(boltSessionsBucket)).Bucket([]byte(sessionID))
}

func (b *Bolt) expired(tx *bolt.Tx, sessionID string) bool {
	if b.ttl <= 0 {
		return false
	}
	v := tx.Bucket([]byte(boltExpiryBucket)).Get([]byte(sessionID))
	return v != nil && deadlineExpired(v, b.now())
}

// touch pushes the session's deadline to now + ttl.
func (b *Bolt) touch(tx *bolt.Tx, sessionID string) error {
	if b.ttl <= 0 {
		return nil
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(b.now().Add(b.ttl).UnixNano()))
	return tx.Bucket([]byte(boltExpiryBucket)).Put([]byte(sessionID), buf)
}

func (b *Bolt) update(fn func(tx *bolt.Tx) error) error {
	err := b.db.Update(fn)
	if err == bolt.ErrDatabaseNotOpen {
		return ErrClosed
	}
	return err
}

func (b *Bolt) view(fn func(tx *bolt.Tx) error) error {
	err := b.db.View(fn)
	if err == bolt.ErrDatabaseNotOpen {
		return ErrClosed
	}
	return err
}

func deleteSession(tx *bolt.Tx, sessionID string) error {
	sessions := tx.Bucket([]byte(boltSessionsBucket))
	if sessions.Bucket([]byte(sessionID)) != nil {
		if err := sessions.DeleteBucket([]byte(sessionID)); err != nil {
			return err
		}
	}
	return tx.Bucket([]byte(boltExpiryBucket)).Delete([]byte(sessionID))
}

func deadlineExpired(v []byte, now time.Time) bool {
	if len(v) != 8 {
		return false
	}
	return now.UnixNano() >= int64(binary.BigEndian.Uint64(v))
}
