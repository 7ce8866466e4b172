package lease

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	f.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestClaimIsExclusive(t *testing.T) {
	t.Parallel()

	fake := newFakeRedis()
	c := newClaimer(fake, "", 0)
	ctx := context.Background()

	ok, err := c.Claim(ctx, "abc", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", fake.values["thread-recovery:lease:abc"])
	assert.Equal(t, DefaultTTL, fake.ttls["thread-recovery:lease:abc"])

	ok, err = c.Claim(ctx, "abc", 2)
	require.NoError(t, err)
	assert.False(t, ok, "another worker must not take a held lease")

	ok, err = c.Claim(ctx, "abc", 1)
	require.NoError(t, err)
	assert.True(t, ok, "the holder may re-claim its own lease")
}

func TestReleaseAllowsOthers(t *testing.T) {
	t.Parallel()

	c := newClaimer(newFakeRedis(), "jobs", time.Minute)
	ctx := context.Background()

	ok, err := c.Claim(ctx, "abc", 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, c.Release(ctx, "abc"))

	ok, err = c.Claim(ctx, "abc", 2)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestClaimError(t *testing.T) {
	t.Parallel()

	fake := newFakeRedis()
	fake.err = errors.New("connection refused")
	c := newClaimer(fake, "", 0)

	_, err := c.Claim(context.Background(), "abc", 1)
	require.ErrorContains(t, err, "connection refused")
	require.NoError(t, c.Close())
}

func TestNewRedisClaimerBadURL(t *testing.T) {
	t.Parallel()

	_, err := NewRedisClaimer(context.Background(), Config{URL: "://bad"})
	require.Error(t, err)
}

func TestNop(t *testing.T) {
	t.Parallel()

	ok, err := Nop{}.Claim(context.Background(), "x", 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, Nop{}.Release(context.Background(), "x"))
}
