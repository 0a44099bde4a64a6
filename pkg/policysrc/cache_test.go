package policysrc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_SetAndGet(t *testing.T) {
	cache := NewCache(1 * time.Minute)

	cache.Set("https://example.com/policy.yaml", "version: v1")

	content, ok := cache.Get("https://example.com/policy.yaml")
	assert.True(t, ok)
	assert.Equal(t, "version: v1", content)
}

func TestCache_Miss(t *testing.T) {
	cache := NewCache(1 * time.Minute)

	content, ok := cache.Get("https://example.com/nonexistent.yaml")
	assert.False(t, ok)
	assert.Equal(t, "", content)
}

func TestCache_TTLExpiry(t *testing.T) {
	cache := NewCache(50 * time.Millisecond)

	cache.Set("https://example.com/policy.yaml", "content")

	content, ok := cache.Get("https://example.com/policy.yaml")
	assert.True(t, ok)
	assert.Equal(t, "content", content)

	time.Sleep(60 * time.Millisecond)

	content, ok = cache.Get("https://example.com/policy.yaml")
	assert.False(t, ok)
	assert.Equal(t, "", content)
}

func TestCache_Overwrite(t *testing.T) {
	cache := NewCache(1 * time.Minute)

	cache.Set("https://example.com/policy.yaml", "old content")
	cache.Set("https://example.com/policy.yaml", "new content")

	content, ok := cache.Get("https://example.com/policy.yaml")
	assert.True(t, ok)
	assert.Equal(t, "new content", content)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := NewCache(1 * time.Minute)
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(_ int) {
			defer wg.Done()
			cache.Set("shared-key", "content")
		}(i)
	}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache.Get("shared-key")
		}()
	}
	wg.Wait()

	content, ok := cache.Get("shared-key")
	assert.True(t, ok)
	assert.Equal(t, "content", content)
}
