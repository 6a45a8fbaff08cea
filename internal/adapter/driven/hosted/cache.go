package hosted

import (
	"github.com/gregjones/httpcache"
	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultCacheEntries bounds the response cache of one handle. Object
// downloads are never stored, so entries are JSON row responses.
const defaultCacheEntries = 256

var _ httpcache.Cache = (*boundedCache)(nil)

// boundedCache is an httpcache.Cache that evicts the least recently used
// response once it holds its configured number of entries.
type boundedCache struct {
	entries *lru.Cache[string, []byte]
}

func newBoundedCache(size int) *boundedCache {
	if size <= 0 {
		size = defaultCacheEntries
	}
	// lru.New only fails for a non-positive size.
	entries, _ := lru.New[string, []byte](size)
	return &boundedCache{entries: entries}
}

func (c *boundedCache) Get(key string) ([]byte, bool) {
	return c.entries.Get(key)
}

func (c *boundedCache) Set(key string, resp []byte) {
	c.entries.Add(key, resp)
}

func (c *boundedCache) Delete(key string) {
	c.entries.Remove(key)
}

// Len reports the number of cached responses.
func (c *boundedCache) Len() int {
	return c.entries.Len()
}
