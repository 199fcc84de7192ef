package collab

import (
	"github.com/go-go-golems/scenesync/pkg/scene"
)

// VersionCache remembers, per element id, the version last exchanged with the
// room. It is replaced wholesale by every snapshot; an id missing from the
// cache has never been exchanged.
//
// VersionCache does no locking of its own. The Client guards it.
type VersionCache struct {
	versions map[string]int64
}

func NewVersionCache() *VersionCache {
	return &VersionCache{versions: map[string]int64{}}
}

func (c *VersionCache) Get(id string) (int64, bool) {
	v, ok := c.versions[id]
	return v, ok
}

// SetAll replaces the entire cache with mapping. The map is copied.
func (c *VersionCache) SetAll(mapping map[string]int64) {
	next := make(map[string]int64, len(mapping))
	for id, v := range mapping {
		next[id] = v
	}
	c.versions = next
}

// Matches reports whether every element's version equals the cached one.
// An empty list matches.
func (c *VersionCache) Matches(elements []scene.Element) bool {
	for _, el := range elements {
		v, ok := c.versions[el.ID]
		if !ok || v != el.Version {
			return false
		}
	}
	return true
}

func (c *VersionCache) Len() int {
	return len(c.versions)
}

func (c *VersionCache) Snapshot() map[string]int64 {
	out := make(map[string]int64, len(c.versions))
	for id, v := range c.versions {
		out[id] = v
	}
	return out
}

// VersionsOf builds the id -> version mapping of elements.
func VersionsOf(elements []scene.Element) map[string]int64 {
	return scene.Versions(elements)
}
