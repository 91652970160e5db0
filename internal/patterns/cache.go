package patterns

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache holds pattern summaries in memory with expiry
type Cache struct {
	cache *gocache.Cache
}

// NewCache creates a cache; a non-positive TTL keeps entries until deleted
func NewCache(defaultTTL, cleanupInterval time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = gocache.NoExpiration
		cleanupInterval = 0
	}
	return &Cache{cache: gocache.New(defaultTTL, cleanupInterval)}
}

func (c *Cache) Get(municipality string) (Summary, bool) {
	if val, found := c.cache.Get(municipality); found {
		return val.(Summary), true
	}
	return Summary{}, false
}

func (c *Cache) Set(municipality string, summary Summary) {
	c.cache.Set(municipality, summary, gocache.DefaultExpiration)
}

func (c *Cache) Delete(municipality string) {
	c.cache.Delete(municipality)
}
