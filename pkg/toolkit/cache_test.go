package toolkit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHTMLCache(t *testing.T) {
	t.Run("should store and retrieve entries", func(t *testing.T) {
		cache := NewHTMLCache(10, time.Hour)

		cache.Set("http://quiz/q1", "<html>one</html>")

		value, ok := cache.Get("http://quiz/q1")
		assert.True(t, ok)
		assert.Equal(t, "<html>one</html>", value)
	})

	t.Run("should miss on absent keys", func(t *testing.T) {
		cache := NewHTMLCache(10, time.Hour)

		_, ok := cache.Get("http://quiz/unknown")
		assert.False(t, ok)
	})

	t.Run("should overwrite existing entries", func(t *testing.T) {
		cache := NewHTMLCache(10, time.Hour)

		cache.Set("http://quiz/q1", "old")
		cache.Set("http://quiz/q1", "new")

		value, _ := cache.Get("http://quiz/q1")
		assert.Equal(t, "new", value)
		assert.Equal(t, 1, cache.Size())
	})

	t.Run("should expire entries past their TTL", func(t *testing.T) {
		cache := NewHTMLCache(10, time.Minute)

		now := time.Now()
		cache.now = func() time.Time { return now }
		cache.Set("http://quiz/q1", "fresh")

		cache.now = func() time.Time { return now.Add(2 * time.Minute) }

		_, ok := cache.Get("http://quiz/q1")
		assert.False(t, ok)
		assert.Equal(t, 0, cache.Size())
	})

	t.Run("should evict the least recently used entry at capacity", func(t *testing.T) {
		cache := NewHTMLCache(3, time.Hour)

		for i := 1; i <= 3; i++ {
			cache.Set(fmt.Sprintf("http://quiz/q%d", i), "html")
		}

		// Touch q1 so q2 becomes the eviction candidate.
		cache.Get("http://quiz/q1")
		cache.Set("http://quiz/q4", "html")

		_, ok := cache.Get("http://quiz/q2")
		assert.False(t, ok)
		for _, u := range []string{"http://quiz/q1", "http://quiz/q3", "http://quiz/q4"} {
			_, ok := cache.Get(u)
			assert.True(t, ok, u)
		}
	})

	t.Run("should delete and clear", func(t *testing.T) {
		cache := NewHTMLCache(10, time.Hour)

		cache.Set("http://quiz/q1", "one")
		cache.Set("http://quiz/q2", "two")

		assert.True(t, cache.Delete("http://quiz/q1"))
		assert.False(t, cache.Delete("http://quiz/q1"))

		cache.Clear()
		assert.Equal(t, 0, cache.Size())
	})

	t.Run("should report stats", func(t *testing.T) {
		cache := NewHTMLCache(5, time.Hour)

		stats := cache.Stats()
		assert.Equal(t, 0, stats.Size)
		assert.Equal(t, 5, stats.MaxSize)

		cache.Set("http://quiz/q1", "one")
		stats = cache.Stats()
		assert.Equal(t, 1, stats.Size)
	})
}
