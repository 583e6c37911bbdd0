package geomessage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultCacheSize = 16
	defaultCacheTTL  = time.Hour
)

type cacheKey struct {
	path    string
	size    int64
	modTime int64
}

// Cache holds recently parsed logs so reloading an unchanged file is
// free. A file is parsed again whenever its size or modification time
// changes. Cached logs are shared and must not be modified.
type Cache struct {
	logs   *expirable.LRU[cacheKey, *Log]
	hits   atomic.Int64
	misses atomic.Int64
}

func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cache{logs: expirable.NewLRU[cacheKey, *Log](size, nil, ttl)}
}

// IsCapture reports whether filename looks like a packet capture.
func IsCapture(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pcap", ".pcapng", ".cap":
		return true
	}
	return false
}

// Load returns the log in filename, parsing it as a packet capture when
// the extension says so and as a geomessages document otherwise.
func (c *Cache) Load(filename string) (*Log, error) {
	info, err := os.Stat(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to stat event log %s: %w", filename, err)
	}
	key := cacheKey{path: filename, size: info.Size(), modTime: info.ModTime().UnixNano()}

	if log, ok := c.logs.Get(key); ok {
		c.hits.Add(1)
		return log, nil
	}
	c.misses.Add(1)

	var log *Log
	if IsCapture(filename) {
		log, _, err = ReadPcapFile(filename, 0)
	} else {
		log, err = ReadFile(filename)
	}
	if err != nil {
		return nil, err
	}
	c.logs.Add(key, log)
	return log, nil
}

// Stats returns the hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache) Len() int {
	return c.logs.Len()
}
