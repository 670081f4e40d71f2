// Package cache provides the in-memory image byte cache fronting the
// blob store on the thumbnail hot path.
package cache

import (
	"fmt"

	"github.com/coocood/freecache"

	"github.com/viewfinderco/viewfinder/internal/models"
)

// Cache is a byte cache keyed by (photo, size).
type Cache interface {
	Get(id models.PhotoID, size models.SizeClass) ([]byte, bool)
	Set(id models.PhotoID, size models.SizeClass, data []byte)
}

// New returns a freecache-backed cache of sizeMB megabytes, or a no-op
// cache when disabled.
func New(enabled bool, sizeMB int) Cache {
	if !enabled || sizeMB <= 0 {
		return noopCache{}
	}
	return &memCache{cache: freecache.NewCache(sizeMB * 1024 * 1024)}
}

type memCache struct {
	cache *freecache.Cache
}

func key(id models.PhotoID, size models.SizeClass) []byte {
	return []byte(fmt.Sprintf("i/%d/%d", id, size))
}

func (c *memCache) Get(id models.PhotoID, size models.SizeClass) ([]byte, bool) {
	val, err := c.cache.Get(key(id, size))
	if err != nil {
		return nil, false
	}
	return val, true
}

func (c *memCache) Set(id models.PhotoID, size models.SizeClass, data []byte) {
	// Entries above freecache's per-entry limit are simply not cached.
	_ = c.cache.Set(key(id, size), data, 0)
}

type noopCache struct{}

func (noopCache) Get(models.PhotoID, models.SizeClass) ([]byte, bool) { return nil, false }
func (noopCache) Set(models.PhotoID, models.SizeClass, []byte)        {}
