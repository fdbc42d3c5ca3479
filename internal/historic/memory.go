package historic

import (
	"context"
	"sync"

	"putup-system/internal/graph"
)

// MemorySource serves requests from points held in memory, keyed by
// security. Used by the replay tool and tests.
type MemorySource struct {
	mu     sync.RWMutex
	series map[string]*graph.Series
	calls  int
}

// NewMemorySource creates an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{series: make(map[string]*graph.Series)}
}

// Load adds points for a security key ("market:ticker").
func (m *MemorySource) Load(key string, points ...*graph.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.series[key]
	if !ok {
		s = graph.NewSeries(graph.ByTime)
		m.series[key] = s
	}
	for _, p := range points {
		s.Add(p)
	}
}

// Fetch returns the stored points with timestamps in [From, To].
func (m *MemorySource) Fetch(ctx context.Context, req Request) ([]*graph.Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.calls++
	s, ok := m.series[req.Security.Key()]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return s.Between(req.From.UnixMilli(), req.To.UnixMilli()).Points(), nil
}

// Calls returns how many fetches were served.
func (m *MemorySource) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}
