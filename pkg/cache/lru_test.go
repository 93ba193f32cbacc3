package cache_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/lexbilling/pkg/cache"
)

func TestLRU(t *testing.T) {
	t.Parallel()

	t.Run("put and get", func(t *testing.T) {
		t.Parallel()
		c := cache.NewLRU[string, int](2, 0)
		c.Put("a", 1)
		c.Put("b", 2)

		v, ok := c.Get("a")
		assert.True(t, ok)
		assert.Equal(t, 1, v)

		_, ok = c.Get("missing")
		assert.False(t, ok)
	})

	t.Run("evicts least recently used", func(t *testing.T) {
		t.Parallel()
		c := cache.NewLRU[string, int](2, 0)
		c.Put("a", 1)
		c.Put("b", 2)
		c.Get("a")
		c.Put("c", 3)

		_, ok := c.Get("b")
		assert.False(t, ok)
		_, ok = c.Get("a")
		assert.True(t, ok)
		assert.Equal(t, 2, c.Len())
	})

	t.Run("update keeps single entry", func(t *testing.T) {
		t.Parallel()
		c := cache.NewLRU[string, int](2, 0)
		c.Put("a", 1)
		c.Put("a", 5)

		v, _ := c.Get("a")
		assert.Equal(t, 5, v)
		assert.Equal(t, 1, c.Len())
	})

	t.Run("entries expire", func(t *testing.T) {
		t.Parallel()
		now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		c := cache.NewLRU[string, int](4, time.Minute).WithClock(func() time.Time { return now })
		c.Put("a", 1)

		now = now.Add(30 * time.Second)
		_, ok := c.Get("a")
		assert.True(t, ok)

		now = now.Add(31 * time.Second)
		_, ok = c.Get("a")
		assert.False(t, ok)
		assert.Equal(t, 0, c.Len())
	})

	t.Run("remove", func(t *testing.T) {
		t.Parallel()
		c := cache.NewLRU[string, int](2, 0)
		c.Put("a", 1)
		c.Remove("a")
		c.Remove("never")
		assert.Equal(t, 0, c.Len())
	})

	t.Run("zero capacity panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { cache.NewLRU[string, int](0, 0) })
	})

	t.Run("concurrent access", func(t *testing.T) {
		t.Parallel()
		c := cache.NewLRU[int, int](16, time.Minute)
		var wg sync.WaitGroup
		for i := range 32 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.Put(i%20, i)
				c.Get(i % 20)
			}()
		}
		wg.Wait()
		assert.LessOrEqual(t, c.Len(), 16)
	})
}
