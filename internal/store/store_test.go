package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newRedisBackend(t *testing.T) *Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func backends(t *testing.T) map[string]Backend {
	return map[string]Backend{
		"memory": NewMemory(),
		"redis":  newRedisBackend(t),
	}
}

func TestCollectionContract(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := NewCollection[widget](backend, "widgets")

			_, err := c.Get(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)
			require.ErrorIs(t, c.Delete(ctx, "missing"), ErrNotFound)

			list, err := c.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, list)

			for _, w := range []widget{{ID: "b", Name: "second"}, {ID: "a", Name: "first"}, {ID: "c", Name: "third"}} {
				require.NoError(t, c.Put(ctx, w.ID, w))
			}

			got, err := c.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, widget{ID: "a", Name: "first"}, got)

			// replacing keeps position
			require.NoError(t, c.Put(ctx, "b", widget{ID: "b", Name: "second", Count: 2}))
			list, err = c.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, []string{"b", "a", "c"}, []string{list[0].ID, list[1].ID, list[2].ID})
			assert.Equal(t, 2, list[0].Count)

			require.NoError(t, c.Delete(ctx, "a"))
			_, err = c.Get(ctx, "a")
			require.ErrorIs(t, err, ErrNotFound)

			list, err = c.List(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 2)

			// re-adding a deleted id appends it
			require.NoError(t, c.Put(ctx, "a", widget{ID: "a"}))
			list, err = c.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, "a", list[2].ID)

			require.NoError(t, backend.Ping(ctx))
		})
	}
}

func TestCollectionsAreIsolated(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := NewCollection[widget](backend, "a")
			b := NewCollection[widget](backend, "b")
			require.NoError(t, a.Put(ctx, "x", widget{ID: "x"}))

			_, err := b.Get(ctx, "x")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRedisKeyLayout(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedisWithClient(client, "test")
	t.Cleanup(func() { _ = r.Close() })

	c := NewCollection[widget](r, "apps")
	require.NoError(t, c.Put(context.Background(), "app-1", widget{ID: "app-1"}))

	assert.True(t, mr.Exists("test:apps:docs"))
	assert.True(t, mr.Exists("test:apps:order"))
	members, err := mr.ZMembers("test:apps:order")
	require.NoError(t, err)
	assert.Equal(t, []string{"app-1"}, members)
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "://nope")
	require.Error(t, err)
}
