package llm

import (
	"fmt"
	"sync"
)

// Lookup resolves a model key to its endpoint configuration. An empty key
// selects the default model.
type Lookup func(key string) (string, Config, error)

// Clients hands out completers per model key, rebuilding one when its
// configuration changes.
type Clients struct {
	lookup Lookup
	stats  *Stats

	mu    sync.Mutex
	cache map[string]cachedClient
}

type cachedClient struct {
	cfg    Config
	client Completer
}

func NewClients(lookup Lookup, stats *Stats) *Clients {
	return &Clients{lookup: lookup, stats: stats, cache: make(map[string]cachedClient)}
}

// Get returns the completer for key, or for the default model when key is
// empty.
func (c *Clients) Get(key string) (Completer, error) {
	resolved, cfg, err := c.lookup(key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cc, ok := c.cache[resolved]; ok && cc.cfg == cfg {
		return cc.client, nil
	}
	client, err := New(cfg)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", resolved, err)
	}
	client = WithStats(client, resolved, c.stats)
	c.cache[resolved] = cachedClient{cfg: cfg, client: client}
	return client, nil
}

// Stats returns the shared latency tracker.
func (c *Clients) Stats() *Stats {
	return c.stats
}
