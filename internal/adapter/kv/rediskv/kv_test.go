package rediskv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb), mr
}

func TestGetMissingKey(t *testing.T) {
	s, _ := newStore(t)
	v, ok, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, v)
}

func TestSetGetRoundTrip(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "cursor.stream.anomaly.detected", "1700000000000-5", 0))
	v, ok, err := s.Get(ctx, "cursor.stream.anomaly.detected")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1700000000000-5", v)

	// TTL zero means no expiry.
	assert.Equal(t, time.Duration(0), mr.TTL("cursor.stream.anomaly.detected"))
}

func TestSetWithTTL(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "notify.glitch.g1", "1", 24*time.Hour))
	assert.Equal(t, 24*time.Hour, mr.TTL("notify.glitch.g1"))

	mr.FastForward(25 * time.Hour)
	_, ok, err := s.Get(ctx, "notify.glitch.g1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetNX(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "k", "first", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "k", "second", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	v, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "first", v)
}

func TestIncrAndIncrBy(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	n, err := s.Incr(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.IncrBy(ctx, "c", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestExistsAndDel(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	ok, err = s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Del(ctx, "k"))
	ok, err = s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting a missing key is not an error.
	require.NoError(t, s.Del(ctx, "k"))
}

func TestKeysPattern(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "metrics.a", "1", 0))
	require.NoError(t, s.Set(ctx, "metrics.b", "2", 0))
	require.NoError(t, s.Set(ctx, "other", "3", 0))

	keys, err := s.Keys(ctx, "metrics.*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"metrics.a", "metrics.b"}, keys)
}
