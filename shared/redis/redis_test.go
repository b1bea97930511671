package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(Options{URL: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestSetGet(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Ping(ctx))
	require.NoError(t, client.Set(ctx, "user:1", []byte(`{"a":1}`), time.Minute))

	val, ok, err := client.Get(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte(`{"a":1}`), val)

	_, ok, err = client.Get(ctx, "user:2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTTL(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "k", []byte("v"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParsesRedisURL(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(Options{URL: "redis://" + mr.Addr() + "/0"})
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, client.Ping(context.Background()))
}
