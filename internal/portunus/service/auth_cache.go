package service

import (
	"sort"
	"sync"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/types"
)

// AuthCache is the door-local set of tokens allowed to open the door.
// Readers never observe a half-applied reconciliation.
type AuthCache struct {
	mu     sync.RWMutex
	tokens map[types.Identifier]types.Token
}

func NewAuthCache() *AuthCache {
	return &AuthCache{tokens: make(map[types.Identifier]types.Token)}
}

// Has reports whether a token with id is cached. Trust is not compared.
func (c *AuthCache) Has(id types.Identifier) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tokens[id]
	return ok
}

func (c *AuthCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tokens)
}

// Snapshot returns the cached tokens ordered by identifier.
func (c *AuthCache) Snapshot() []types.Token {
	c.mu.RLock()
	out := make([]types.Token, 0, len(c.tokens))
	for _, t := range c.tokens {
		out = append(out, t)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reconcile makes the cache equal to fetched by applying only the symmetric
// difference, and returns how many tokens were added and removed.
func (c *AuthCache) Reconcile(fetched []types.Token) (added, removed int) {
	want := make(map[types.Identifier]types.Token, len(fetched))
	for _, t := range fetched {
		want[t.ID] = t
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.tokens {
		if _, ok := want[id]; !ok {
			delete(c.tokens, id)
			removed++
		}
	}
	for id, t := range want {
		if _, ok := c.tokens[id]; !ok {
			c.tokens[id] = t
			added++
		}
	}
	return added, removed
}
