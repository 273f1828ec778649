package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backend builds a fresh Store for the contract tests below.
type backend struct {
	name string
	open func(t *testing.T) Store
}

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisFromClient(client, RedisOptions{}), mr
}

func newTestBolt(t *testing.T) *Bolt {
	t.Helper()
	b, err := NewBolt(filepath.Join(t.TempDir(), "sessions.db"), BoltOptions{SweepInterval: -1})
	require.NoError(t, err)
	return b
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) Store { return NewMemory() }},
		{"redis", func(t *testing.T) Store { r, _ := newTestRedis(t); return r }},
		{"bolt", func(t *testing.T) Store { return newTestBolt(t) }},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s)
		})
	}
}

func TestStore_SetGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, ok, err := s.Get(ctx, "sess-1", "{{PER_1}}")
		require.NoError(t, err)
		assert.False(t, ok, "expected miss on empty store")

		require.NoError(t, s.Set(ctx, "sess-1", "{{PER_1}}", "Amit Kumar"))
		v, ok, err := s.Get(ctx, "sess-1", "{{PER_1}}")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "Amit Kumar", v)

		require.NoError(t, s.Set(ctx, "sess-1", "{{PER_1}}", "Priya Singh"))
		v, _, err = s.Get(ctx, "sess-1", "{{PER_1}}")
		require.NoError(t, err)
		assert.Equal(t, "Priya Singh", v, "Set should overwrite")
	})
}

func TestStore_GetAllUnknownSessionIsEmpty(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		m, err := s.GetAll(context.Background(), "never-written")
		require.NoError(t, err)
		assert.NotNil(t, m)
		assert.Empty(t, m)
	})
}

func TestStore_SetIfAbsent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		written, err := s.SetIfAbsent(ctx, "sess", "{{LOC_1}}", "Bangalore")
		require.NoError(t, err)
		assert.True(t, written)

		written, err = s.SetIfAbsent(ctx, "sess", "{{LOC_1}}", "Mumbai")
		require.NoError(t, err)
		assert.False(t, written, "second write of the same token must be refused")

		v, _, err := s.Get(ctx, "sess", "{{LOC_1}}")
		require.NoError(t, err)
		assert.Equal(t, "Bangalore", v)
	})
}

func TestStore_SessionIsolation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "alice", "{{ORG_1}}", "Google"))
		require.NoError(t, s.Set(ctx, "bob", "{{ORG_1}}", "Infosys"))

		a, err := s.GetAll(ctx, "alice")
		require.NoError(t, err)
		b, err := s.GetAll(ctx, "bob")
		require.NoError(t, err)

		assert.Equal(t, map[string]string{"{{ORG_1}}": "Google"}, a)
		assert.Equal(t, map[string]string{"{{ORG_1}}": "Infosys"}, b)
	})
}

func TestStore_Clear(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "sess", "{{PER_1}}", "Amit"))
		require.NoError(t, s.Set(ctx, "other", "{{PER_1}}", "Ravi"))

		require.NoError(t, s.Clear(ctx, "sess"))
		require.NoError(t, s.Clear(ctx, "never-written"))

		m, err := s.GetAll(ctx, "sess")
		require.NoError(t, err)
		assert.Empty(t, m)

		m, err = s.GetAll(ctx, "other")
		require.NoError(t, err)
		assert.Len(t, m, 1, "Clear must not touch other sessions")
	})
}

func TestStore_EmptySessionRejected(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		assert.ErrorIs(t, s.Set(ctx, "", "{{PER_1}}", "x"), ErrEmptySession)
		_, err := s.GetAll(ctx, "")
		assert.ErrorIs(t, err, ErrEmptySession)
	})
}

func TestStore_ClosedReturnsErrClosed(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			require.NoError(t, s.Close())
			err := s.Set(context.Background(), "sess", "{{PER_1}}", "x")
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

// TestStore_BackendsInterchangeable replays one operation sequence against
// every backend and expects identical GetAll results.
func TestStore_BackendsInterchangeable(t *testing.T) {
	type op struct {
		kind           string // set | setnx | clear
		session, token string
		value          string
	}
	ops := []op{
		{"set", "s1", "{{PER_1}}", "Amit Kumar"},
		{"setnx", "s1", "{{LOC_1}}", "Bangalore"},
		{"setnx", "s1", "{{LOC_1}}", "Chennai"},
		{"set", "s2", "{{PER_1}}", "Sara"},
		{"set", "s1", "{{ORG_1}}", "Google"},
		{"clear", "s2", "", ""},
		{"setnx", "s2", "{{ORG_1}}", "Wipro"},
		{"set", "s1", "{{PER_2}}", "Ravi {{not-a-token}}"},
	}

	results := make(map[string]map[string]map[string]string)
	for _, b := range backends() {
		s := b.open(t)
		ctx := context.Background()
		for _, o := range ops {
			var err error
			switch o.kind {
			case "set":
				err = s.Set(ctx, o.session, o.token, o.value)
			case "setnx":
				_, err = s.SetIfAbsent(ctx, o.session, o.token, o.value)
			case "clear":
				err = s.Clear(ctx, o.session)
			}
			require.NoError(t, err, "%s: %+v", b.name, o)
		}
		results[b.name] = make(map[string]map[string]string)
		for _, sess := range []string{"s1", "s2"} {
			m, err := s.GetAll(ctx, sess)
			require.NoError(t, err)
			results[b.name][sess] = m
		}
		require.NoError(t, s.Close())
	}

	assert.Equal(t, results["memory"], results["redis"])
	assert.Equal(t, results["memory"], results["bolt"])
	assert.Equal(t, map[string]string{"{{ORG_1}}": "Wipro"}, results["memory"]["s2"])
}

func TestStore_ConcurrentSetIfAbsentSingleWinner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		const writers = 16

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := s.SetIfAbsent(ctx, "race", "{{PER_1}}", fmt.Sprintf("value-%d", i))
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})
}
