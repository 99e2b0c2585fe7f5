package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/harvest-tasks/pkg/core"
)

// Both backends must behave the same for the operations the queue relies on.
func backends(t *testing.T) map[string]func(t *testing.T) core.KVStore {
	return map[string]func(t *testing.T) core.KVStore{
		"gorm": func(t *testing.T) core.KVStore { return newGormStore(t) },
		"redis": func(t *testing.T) core.KVStore {
			s, _ := newRedisStore(t)
			return s
		},
	}
}

func TestStore_Values(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, core.ErrKeyNotFound)

			require.NoError(t, s.Set(ctx, "greeting", "hello", 0))
			v, err := s.Get(ctx, "greeting")
			require.NoError(t, err)
			assert.Equal(t, "hello", v)

			require.NoError(t, s.Set(ctx, "greeting", "bye", time.Hour))
			v, err = s.Get(ctx, "greeting")
			require.NoError(t, err)
			assert.Equal(t, "bye", v)

			require.NoError(t, s.Delete(ctx, "greeting", "never-existed"))
			_, err = s.Get(ctx, "greeting")
			assert.ErrorIs(t, err, core.ErrKeyNotFound)
		})
	}
}

func TestStore_Hashes(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			empty, err := s.HGetAll(ctx, "task:none:1")
			require.NoError(t, err)
			assert.Empty(t, empty)

			require.NoError(t, s.HSet(ctx, "task:none:1", map[string]string{"status": "enqueued", "name": "rds"}))
			require.NoError(t, s.HSet(ctx, "task:none:1", map[string]string{"status": "running"}))

			fields, err := s.HGetAll(ctx, "task:none:1")
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"status": "running", "name": "rds"}, fields)

			require.NoError(t, s.Delete(ctx, "task:none:1"))
			fields, err = s.HGetAll(ctx, "task:none:1")
			require.NoError(t, err)
			assert.Empty(t, fields)
		})
	}
}

func TestStore_Lists(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			values, err := s.LRange(ctx, "queue::1")
			require.NoError(t, err)
			assert.Empty(t, values)

			require.NoError(t, s.RPush(ctx, "queue::1", "a", "b"))
			require.NoError(t, s.RPush(ctx, "queue::1", "c", "b"))
			require.NoError(t, s.LPush(ctx, "queue::1", "z"))

			values, err = s.LRange(ctx, "queue::1")
			require.NoError(t, err)
			assert.Equal(t, []string{"z", "a", "b", "c", "b"}, values)

			removed, err := s.LRem(ctx, "queue::1", "b")
			require.NoError(t, err)
			assert.Equal(t, int64(2), removed)

			head, err := s.LPop(ctx, "queue::1")
			require.NoError(t, err)
			assert.Equal(t, "z", head)

			values, err = s.LRange(ctx, "queue::1")
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "c"}, values)

			for range 2 {
				_, err = s.LPop(ctx, "queue::1")
				require.NoError(t, err)
			}
			_, err = s.LPop(ctx, "queue::1")
			assert.ErrorIs(t, err, core.ErrKeyNotFound)

			removed, err = s.LRem(ctx, "queue::1", "a")
			require.NoError(t, err)
			assert.Equal(t, int64(0), removed)
		})
	}
}

func TestStore_Scan(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			for _, key := range []string{"task::aaa", "task:aaa:bbb", "task::ccc", "queue::5", "agent::node-1"} {
				require.NoError(t, s.HSet(ctx, key, map[string]string{"k": "v"}))
			}

			keys, err := core.ScanAll(ctx, s, "task:*", 1)
			require.NoError(t, err)
			sort.Strings(keys)
			assert.Equal(t, []string{"task::aaa", "task::ccc", "task:aaa:bbb"}, keys)

			keys, err = core.ScanAll(ctx, s, "*aaa*", 100)
			require.NoError(t, err)
			sort.Strings(keys)
			assert.Equal(t, []string{"task::aaa", "task:aaa:bbb"}, keys)

			keys, err = core.ScanAll(ctx, s, "queue::?", 100)
			require.NoError(t, err)
			assert.Equal(t, []string{"queue::5"}, keys)
		})
	}
}

func TestStore_WrongKind(t *testing.T) {
	ctx := context.Background()
	s := newGormStore(t)

	require.NoError(t, s.Set(ctx, "plain", "v", 0))
	_, err := s.LPop(ctx, "plain")
	assert.ErrorIs(t, err, ErrWrongKind)
	assert.ErrorIs(t, s.HSet(ctx, "plain", map[string]string{"a": "b"}), ErrWrongKind)

	require.NoError(t, s.RPush(ctx, "list", "x"))
	_, err = s.Get(ctx, "list")
	assert.ErrorIs(t, err, ErrWrongKind)
}

func TestGormStore_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := newGormStore(t, WithClock(func() time.Time { return now }))

	require.NoError(t, s.HSet(ctx, "task::x", map[string]string{"status": "enqueued"}))
	require.NoError(t, s.Expire(ctx, "task::x", time.Hour))
	require.NoError(t, s.Set(ctx, "agent::a", "{}", 5*time.Second))
	require.NoError(t, s.Set(ctx, "forever", "v", 0))

	now = now.Add(10 * time.Second)

	_, err := s.Get(ctx, "agent::a")
	assert.ErrorIs(t, err, core.ErrKeyNotFound)

	keys, err := core.ScanAll(ctx, s, "*", 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"task::x", "forever"}, keys)

	now = now.Add(time.Hour)
	purged, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	fields, err := s.HGetAll(ctx, "task::x")
	require.NoError(t, err)
	assert.Empty(t, fields)

	v, err := s.Get(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestGormStore_ExpireNonPositiveDeletes(t *testing.T) {
	ctx := context.Background()
	s := newGormStore(t)

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	require.NoError(t, s.Expire(ctx, "k", 0))
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, core.ErrKeyNotFound)

	assert.NoError(t, s.Expire(ctx, "missing", time.Minute))
}

// Pushers race to recreate the list entry while a popper keeps draining
// and dropping it. Runs against PostgreSQL when TEST_DATABASE_URL is set.
func TestGormStore_ConcurrentPush(t *testing.T) {
	ctx := context.Background()
	s := newGormStore(t)

	const producers, perProducer = 4, 15
	var (
		wg     sync.WaitGroup
		pushMu sync.Mutex
		errs   []error
	)
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range perProducer {
				if err := s.RPush(ctx, "queue::0", fmt.Sprintf("p%d-%d", p, n)); err != nil {
					pushMu.Lock()
					errs = append(errs, err)
					pushMu.Unlock()
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var popped []string
	drain := func() {
		for {
			v, err := s.LPop(ctx, "queue::0")
			if errors.Is(err, core.ErrKeyNotFound) {
				return
			}
			require.NoError(t, err)
			popped = append(popped, v)
		}
	}
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
			drain()
		}
	}
	drain()

	require.Empty(t, errs)
	require.Len(t, popped, producers*perProducer)

	last := make(map[string]int)
	for _, v := range popped {
		producer, n, ok := strings.Cut(v, "-")
		require.True(t, ok)
		seq, err := strconv.Atoi(n)
		require.NoError(t, err)
		prev, seen := last[producer]
		if seen {
			assert.Greater(t, seq, prev, "out of order pop for %s", producer)
		}
		last[producer] = seq
	}
	assert.Len(t, last, producers)
}

func TestGormStore_PushRecreatesExpiredList(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := newGormStore(t, WithClock(func() time.Time { return now }))

	require.NoError(t, s.RPush(ctx, "queue::1", "old"))
	require.NoError(t, s.Expire(ctx, "queue::1", time.Minute))
	now = now.Add(2 * time.Minute)

	require.NoError(t, s.RPush(ctx, "queue::1", "new"))
	values, err := s.LRange(ctx, "queue::1")
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, values)

	require.NoError(t, s.HSet(ctx, "task::h", map[string]string{"a": "1"}))
	assert.ErrorIs(t, s.RPush(ctx, "task::h", "x"), ErrWrongKind)
}

func TestRedisStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)

	require.NoError(t, s.HSet(ctx, "task::x", map[string]string{"status": "enqueued"}))
	require.NoError(t, s.Expire(ctx, "task::x", time.Hour))
	assert.Equal(t, time.Hour, mr.TTL("task::x"))

	mr.FastForward(2 * time.Hour)
	fields, err := s.HGetAll(ctx, "task::x")
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func TestGlobToLike(t *testing.T) {
	tests := map[string]string{
		"task:*":     "task:%",
		"*abc*":      "%abc%",
		"queue::?":   "queue::_",
		"100%_done":  `100\%\_done`,
		`literal\*`:  "literal*",
		`back\\t`:    `back\\t`,
		"plain-text": "plain-text",
	}
	for glob, want := range tests {
		assert.Equal(t, want, globToLike(glob), glob)
	}
}
