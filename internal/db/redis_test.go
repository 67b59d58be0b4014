package db

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/adcortex-go/pkg/client"
)

func newTestCadenceStore(t *testing.T, ttl time.Duration) (*CadenceStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rs := &RedisStore{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
	t.Cleanup(rs.Close)
	return NewCadenceStore(rs, ttl), mr
}

func TestCadenceStore_Observe(t *testing.T) {
	store, mr := newTestCadenceStore(t, time.Hour)
	ctx := context.Background()

	st, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, client.CadenceState{}, st)

	for i := 0; i < 3; i++ {
		st, err = store.Observe(ctx, "s1")
		require.NoError(t, err)
	}
	assert.Equal(t, client.CadenceState{Observed: 3, SinceLast: 3}, st)
	assert.Equal(t, time.Hour, mr.TTL("cadence:s1"))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, st, got)
}

func TestCadenceStore_MarkFetched(t *testing.T) {
	store, _ := newTestCadenceStore(t, 0)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := store.Observe(ctx, "s1")
		require.NoError(t, err)
	}
	require.NoError(t, store.MarkFetched(ctx, "s1"))

	st, err := store.Observe(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, client.CadenceState{Observed: 5, SinceLast: 1, Shown: true}, st)

	other, err := store.Observe(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, client.CadenceState{Observed: 1, SinceLast: 1}, other)
}

func TestCadenceStore_Reset(t *testing.T) {
	store, mr := newTestCadenceStore(t, time.Minute)
	ctx := context.Background()

	_, err := store.Observe(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, store.Reset(ctx, "s1"))
	assert.False(t, mr.Exists("cadence:s1"))
}

func TestCadenceStore_Expiry(t *testing.T) {
	store, mr := newTestCadenceStore(t, time.Minute)
	ctx := context.Background()

	_, err := store.Observe(ctx, "s1")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	st, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, client.CadenceState{}, st)
}

func TestCadenceStore_DrivesCadence(t *testing.T) {
	store, _ := newTestCadenceStore(t, time.Hour)
	ctx := context.Background()
	cadence := client.NewCadence(2, 3)

	var due []int
	for i := 1; i <= 10; i++ {
		st, err := store.Observe(ctx, "s1")
		require.NoError(t, err)
		if cadence.Due(st) {
			due = append(due, i)
			require.NoError(t, store.MarkFetched(ctx, "s1"))
		}
	}
	assert.Equal(t, []int{2, 5, 8}, due)
}
