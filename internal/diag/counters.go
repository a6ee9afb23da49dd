// Package diag keeps the bridge counters and serves them over a small HTTP status endpoint.
package diag

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/leandrodaf/midibridge/sdk/contracts"
)

// Counters is a contracts.Diagnostics backed by atomic integers. Known counters are
// allocated up front so the hot path never takes the write lock.
type Counters struct {
	mu     sync.RWMutex
	values map[contracts.Counter]*atomic.Uint64
}

// NewCounters returns counters with every known counter at zero.
func NewCounters() *Counters {
	c := &Counters{values: make(map[contracts.Counter]*atomic.Uint64, len(contracts.AllCounters))}
	for _, name := range contracts.AllCounters {
		c.values[name] = new(atomic.Uint64)
	}
	return c
}

// Add implements contracts.Diagnostics.
func (c *Counters) Add(counter contracts.Counter, delta uint64) {
	c.mu.RLock()
	v, ok := c.values[counter]
	c.mu.RUnlock()
	if !ok {
		c.mu.Lock()
		if v, ok = c.values[counter]; !ok {
			v = new(atomic.Uint64)
			c.values[counter] = v
		}
		c.mu.Unlock()
	}
	v.Add(delta)
}

// Get returns one counter.
func (c *Counters) Get(counter contracts.Counter) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.values[counter]; ok {
		return v.Load()
	}
	return 0
}

// Snapshot copies every counter.
func (c *Counters) Snapshot() map[string]uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]uint64, len(c.values))
	for name, v := range c.values {
		out[string(name)] = v.Load()
	}
	return out
}

// Names returns the counter names in sorted order.
func (c *Counters) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.values))
	for name := range c.values {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}
