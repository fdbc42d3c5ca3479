package putup

import (
	"context"
	"time"

	"putup-system/internal/graph"
	"putup-system/internal/resolver"
)

// BreakoutPredicate is the daemon's stand-in for the rule engine's breakout
// test. A candidate is valid when price trades above it within Window, and
// undecidable while fewer than MinPoints samples follow it.
type BreakoutPredicate struct {
	Window    time.Duration
	MinPoints int
}

// DefaultBreakoutPredicate looks 30 minutes ahead and needs two samples.
func DefaultBreakoutPredicate() *BreakoutPredicate {
	return &BreakoutPredicate{Window: 30 * time.Minute, MinPoints: 2}
}

func (b *BreakoutPredicate) Evaluate(_ context.Context, candidate *graph.Point, sub *graph.Graph) resolver.Verdict {
	after := sub.Between(candidate.Timestamp+1, candidate.Timestamp+b.Window.Milliseconds())
	if after.Len() < b.MinPoints {
		return resolver.Indeterminate
	}
	if hi := after.Highest(); hi.LastPrice() > candidate.LastPrice() {
		return resolver.Valid
	}
	return resolver.Invalid
}
