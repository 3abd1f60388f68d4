package skills

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

type DiscoverFunc func(ctx context.Context) ([]Skill, error)

// Cache memoizes a successful discovery. Concurrent callers that miss share
// one in-flight scan.
type Cache struct {
	key      string
	discover DiscoverFunc
	group    singleflight.Group

	mu         sync.Mutex
	skills     []Skill
	valid      bool
	generation uint64
}

func NewCache(key string, discover DiscoverFunc) *Cache {
	return &Cache{key: key, discover: discover}
}

// NewScannerCache caches s.Discover keyed by its roots.
func NewScannerCache(s *Scanner) *Cache {
	return NewCache(s.Roots().key(), s.Discover)
}

func (c *Cache) Get(ctx context.Context) ([]Skill, error) {
	c.mu.Lock()
	if c.valid {
		out := cloneSkills(c.skills)
		c.mu.Unlock()
		return out, nil
	}
	gen := c.generation
	c.mu.Unlock()

	ch := c.group.DoChan(c.key, func() (any, error) {
		skills, err := c.discover(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.generation == gen {
			c.skills = cloneSkills(skills)
			c.valid = true
		}
		c.mu.Unlock()
		return skills, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneSkills(res.Val.([]Skill)), nil
	}
}

// Invalidate drops the memoized result. A scan already in flight may still
// answer its waiters but is not stored.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.skills = nil
	c.generation++
	c.mu.Unlock()
	c.group.Forget(c.key)
}
