package graph

import "sync"

// RecursionCache records every trend line tried for one master C point while
// its end point is being resolved.
type RecursionCache struct {
	mu     sync.Mutex
	master *Point
	lines  []*TrendLine
	valid  bool
}

// NewRecursionCache creates an empty ledger for master.
func NewRecursionCache(master *Point) *RecursionCache {
	return &RecursionCache{master: master}
}

// Master returns the original C point.
func (c *RecursionCache) Master() *Point { return c.master }

// Add appends a considered line.
func (c *RecursionCache) Add(l *TrendLine) {
	c.mu.Lock()
	c.lines = append(c.lines, l)
	c.mu.Unlock()
}

// ConsideredLines returns the lines in the order they were tried.
func (c *RecursionCache) ConsideredLines() []*TrendLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*TrendLine(nil), c.lines...)
}

// Len returns how many lines were considered, the initial one included.
func (c *RecursionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

// Last returns the most recently considered line or nil.
func (c *RecursionCache) Last() *TrendLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.lines) == 0 {
		return nil
	}
	return c.lines[len(c.lines)-1]
}

// SetValidTermination marks whether the chain ended on an accepted line.
func (c *RecursionCache) SetValidTermination(v bool) {
	c.mu.Lock()
	c.valid = v
	c.mu.Unlock()
}

// IsValidTermination reports whether the chain ended on an accepted line.
func (c *RecursionCache) IsValidTermination() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.valid
}
