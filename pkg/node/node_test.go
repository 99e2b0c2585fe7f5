package node

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/harvest-tasks/pkg/core"
	"github.com/jdziat/harvest-tasks/pkg/kv"
)

func newStore(t *testing.T) (core.KVStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return kv.NewRedisStore(rdb), mr
}

func TestKey(t *testing.T) {
	assert.Equal(t, "api::host1", Key("api", "host1", 0))
	assert.Equal(t, "api::host1::8000", Key("api", "host1", 8000))

	info := Info{Role: RoleAgent, Name: "collector"}
	assert.Equal(t, "agent::collector", info.Key())
}

func TestLocalInfo(t *testing.T) {
	info := LocalInfo(RoleAPI, "1.2.3")
	assert.NotEmpty(t, info.Name)
	assert.Equal(t, RoleAPI, info.Role)
	assert.NotZero(t, info.PID)
	assert.NotEmpty(t, info.OS)
	assert.Equal(t, "1.2.3", info.Version)
}

func TestNewHeartbeat_Validates(t *testing.T) {
	store, _ := newStore(t)

	_, err := NewHeartbeat(store, Info{Role: "", Name: "x"})
	assert.ErrorIs(t, err, core.ErrInvalidName)

	_, err = NewHeartbeat(store, Info{Role: RoleAgent, Name: "a*b"})
	assert.ErrorIs(t, err, core.ErrInvalidName)
}

func TestHeartbeat_Beat(t *testing.T) {
	ctx := context.Background()
	store, mr := newStore(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start

	h, err := NewHeartbeat(store, Info{Role: RoleAgent, Name: "collector", Port: 9000, Accounts: []string{"aws:prod"}},
		Interval(2*time.Second), ExpiryMultiplier(3), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	assert.Equal(t, 6*time.Second, h.Expiry())

	now = start.Add(10 * time.Second)
	require.NoError(t, h.Beat(ctx))

	assert.Equal(t, 6*time.Second, mr.TTL("agent::collector::9000"))

	nodes, err := List(ctx, store, RoleAgent)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "collector", nodes[0].Name)
	assert.Equal(t, 10.0, nodes[0].Duration)
	assert.Equal(t, 2.0, nodes[0].HeartbeatSeconds)
	assert.Equal(t, []string{"aws:prod"}, Accounts(nodes))

	mr.FastForward(7 * time.Second)
	nodes, err = List(ctx, store, RoleAgent)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestHeartbeat_Run(t *testing.T) {
	store, mr := newStore(t)
	h, err := NewHeartbeat(store, Info{Role: RoleAPI, Name: "api1"},
		Interval(10*time.Millisecond), WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Run(ctx), context.DeadlineExceeded)
	assert.True(t, mr.Exists("api::api1"))
}

func TestList_SkipsOtherRolesAndGarbage(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	require.NoError(t, store.Set(ctx, "agent::b", `{"name":"b","role":"agent"}`, time.Minute))
	require.NoError(t, store.Set(ctx, "agent::a", `{"name":"a","role":"agent"}`, time.Minute))
	require.NoError(t, store.Set(ctx, "agent::bad", `not json`, time.Minute))
	require.NoError(t, store.Set(ctx, "api::c", `{"name":"c","role":"api"}`, time.Minute))

	nodes, err := List(ctx, store, RoleAgent)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "a", nodes[0].Name)
	assert.Equal(t, "b", nodes[1].Name)

	_, err = List(ctx, store, "*")
	assert.ErrorIs(t, err, core.ErrInvalidName)
}
