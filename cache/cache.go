package cache

import (
	"fmt"
	"os"
	"time"

	"github.com/patrickmn/go-cache"
)

// ArtifactCache memoises values derived from host artifacts (certificates,
// key files, command output) across update runs of a long-lived process.
type ArtifactCache struct {
	c *cache.Cache
}

// NewArtifactCache creates an ArtifactCache with default expiration and cleanup.
func NewArtifactCache(defaultExpiration, cleanupInterval time.Duration) *ArtifactCache {
	return &ArtifactCache{
		c: cache.New(defaultExpiration, cleanupInterval),
	}
}

// FileKey identifies a file by path, size and mtime so a cached value is
// dropped as soon as the file is replaced.
func FileKey(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d:%d", path, fi.Size(), fi.ModTime().UnixNano()), nil
}

// GetOrLoad returns the cached value for key or calls load and caches its
// result for ttl. Errors are not cached.
func (a *ArtifactCache) GetOrLoad(key string, ttl time.Duration, load func() (interface{}, error)) (interface{}, error) {
	if a == nil {
		return load()
	}
	if v, found := a.c.Get(key); found {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	a.c.Set(key, v, ttl)
	return v, nil
}

// Flush clears the entire cache.
func (a *ArtifactCache) Flush() {
	if a != nil {
		a.c.Flush()
	}
}
