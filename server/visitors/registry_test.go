package visitors_test

import (
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/fairway-identity/server/visitors"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	var (
		mu      sync.Mutex
		evicted []string
	)
	onEvict := func(id string, _ int) {
		mu.Lock()
		defer mu.Unlock()
		evicted = append(evicted, id)
	}

	t.Run("upsert get delete", func(t *testing.T) {
		r := visitors.NewRegistry[int](10, time.Minute, onEvict)

		require.Error(t, r.Upsert("", 1))
		require.NoError(t, r.Upsert("v1", 1))
		v, ok := r.Get("v1")
		require.True(t, ok)
		require.Equal(t, 1, v)

		r.Delete("v1")
		_, ok = r.Get("v1")
		require.False(t, ok)
		require.Zero(t, r.Len())
	})

	t.Run("least recently seen is evicted", func(t *testing.T) {
		mu.Lock()
		evicted = nil
		mu.Unlock()
		r := visitors.NewRegistry[int](2, time.Minute, onEvict)

		require.NoError(t, r.Upsert("v1", 1))
		require.NoError(t, r.Upsert("v2", 2))
		_, _ = r.Get("v1")
		require.NoError(t, r.Upsert("v3", 3))

		_, ok := r.Get("v2")
		require.False(t, ok)
		mu.Lock()
		require.Equal(t, []string{"v2"}, evicted)
		mu.Unlock()
	})
}
