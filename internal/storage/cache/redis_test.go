package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedis(client, "portal:")
}

func TestRedisGetSetDelete(t *testing.T) {
	ctx := context.Background()
	mr, c := setupRedis(t)

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err, "a missing key is a miss, not an error")
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "session:abc", []byte(`{"email":"ke.toan@phucdat.vn"}`), time.Minute))
	assert.True(t, mr.Exists("portal:session:abc"))
	assert.False(t, mr.Exists("session:abc"))

	got, ok, err := c.Get(ctx, "session:abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"email":"ke.toan@phucdat.vn"}`, string(got))

	require.NoError(t, c.Delete(ctx, "session:abc"))
	assert.False(t, mr.Exists("portal:session:abc"))
	_, ok, err = c.Get(ctx, "session:abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisExpiry(t *testing.T) {
	ctx := context.Background()
	mr, c := setupRedis(t)

	require.NoError(t, c.Set(ctx, "chatflows", []byte("[]"), 30*time.Second))
	assert.Equal(t, 30*time.Second, mr.TTL("portal:chatflows"))

	mr.FastForward(31 * time.Second)
	_, ok, err := c.Get(ctx, "chatflows")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "forever", []byte("1"), -time.Second))
	assert.Equal(t, time.Duration(0), mr.TTL("portal:forever"), "a negative ttl stores without expiry")
	mr.FastForward(time.Hour)
	_, ok, err = c.Get(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisPingAndOutage(t *testing.T) {
	ctx := context.Background()
	mr, c := setupRedis(t)

	require.NoError(t, c.Ping(ctx))

	mr.SetError("ERR unavailable")
	_, ok, err := c.Get(ctx, "k")
	assert.Error(t, err)
	assert.False(t, ok)
	mr.SetError("")
	require.NoError(t, c.Ping(ctx))
}
