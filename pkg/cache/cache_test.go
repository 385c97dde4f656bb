package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ha1tch/olu-graph/pkg/cache"
)

func TestMemoryCache(t *testing.T) {
	c := cache.NewMemoryCache(16, time.Minute)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "entity:a", []byte("A"), 0))
	require.NoError(t, c.Set(ctx, "entity:b", []byte("B"), 0))
	require.NoError(t, c.Set(ctx, "apikey:k", []byte("K"), 0))

	got, err := c.Get(ctx, "entity:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("A"), got)

	require.NoError(t, c.DeletePattern(ctx, "entity:*"))
	ok, err := c.Exists(ctx, "entity:b")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = c.Exists(ctx, "apikey:k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Delete(ctx, "apikey:k"))
	_, err = c.Get(ctx, "apikey:k")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
	assert.NoError(t, c.Close())
}

func TestMemoryCacheExpires(t *testing.T) {
	c := cache.NewMemoryCache(16, 20*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))

	assert.Eventually(t, func() bool {
		_, err := c.Get(ctx, "k")
		return err != nil
	}, time.Second, 10*time.Millisecond)
}

func TestJSONHelpers(t *testing.T) {
	type doc struct {
		Name string `json:"name"`
	}
	c := cache.NewMemoryCache(4, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.SetJSON(ctx, c, "d", doc{Name: "acme"}, 0))
	got, err := cache.GetJSON[doc](ctx, c, "d")
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Name)

	_, err = cache.GetJSON[doc](ctx, c, "nope")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestNew(t *testing.T) {
	c, err := cache.New("memory", 8, time.Minute, "", 0)
	require.NoError(t, err)
	assert.IsType(t, &cache.MemoryCache{}, c)

	_, err = cache.New("memcached", 8, time.Minute, "", 0)
	assert.Error(t, err)
}

func TestGuardDropsFillAfterInvalidation(t *testing.T) {
	var g cache.Guard
	c := cache.NewMemoryCache(8, time.Minute)
	ctx := context.Background()

	ticket := g.Ticket("entity:a")
	require.NoError(t, g.Invalidate([]string{"entity:a"}, func() error {
		return c.Delete(ctx, "entity:a")
	}))

	stored, err := g.FillJSON(ctx, c, "entity:a", "stale", 0, ticket)
	require.NoError(t, err)
	assert.False(t, stored)
	_, err = c.Get(ctx, "entity:a")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	stored, err = g.FillJSON(ctx, c, "entity:a", "fresh", 0, g.Ticket("entity:a"))
	require.NoError(t, err)
	assert.True(t, stored)
	got, err := cache.GetJSON[string](ctx, c, "entity:a")
	require.NoError(t, err)
	assert.Equal(t, "fresh", got)
}

func TestGuardInvalidateAll(t *testing.T) {
	var g cache.Guard
	c := cache.NewMemoryCache(8, time.Minute)
	ctx := context.Background()

	tickets := map[string]cache.Ticket{}
	for _, k := range []string{"apikey:a", "apikey:b", "apikey:c"} {
		tickets[k] = g.Ticket(k)
	}
	require.NoError(t, g.InvalidateAll(nil))

	for k, ticket := range tickets {
		stored, err := g.FillJSON(ctx, c, k, k, 0, ticket)
		require.NoError(t, err)
		assert.False(t, stored, k)
	}
}
