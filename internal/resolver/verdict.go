// Package resolver finalizes provisional Y-lines. Each line's end point is
// checked by an external breakout predicate; rejected end points are
// replaced by the shallowest line forward from them, and undecidable ones
// trigger a fetch of denser historic data before the check is repeated.
package resolver

import (
	"context"

	"putup-system/internal/graph"
)

// Verdict is the three-valued answer of a breakout predicate.
type Verdict int8

const (
	Invalid Verdict = iota
	Valid
	// Indeterminate means the loaded data is too coarse to decide.
	Indeterminate
)

func (v Verdict) String() string {
	switch v {
	case Valid:
		return "VALID"
	case Invalid:
		return "INVALID"
	case Indeterminate:
		return "INDETERMINATE"
	}
	return "UNKNOWN"
}

// Predicate decides whether candidate is a genuine breakout point given the
// enclosing sub-graph.
type Predicate interface {
	Evaluate(ctx context.Context, candidate *graph.Point, sub *graph.Graph) Verdict
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(ctx context.Context, candidate *graph.Point, sub *graph.Graph) Verdict

func (f PredicateFunc) Evaluate(ctx context.Context, candidate *graph.Point, sub *graph.Graph) Verdict {
	return f(ctx, candidate, sub)
}

// Outcome is how resolution ended for one master point.
type Outcome uint8

const (
	// Accepted: a line was emitted.
	Accepted Outcome = iota + 1
	// Exhausted: no later point was left to form a new candidate.
	Exhausted
	// TimedOut: the predicate stayed indeterminate; the fetch timed out,
	// returned nothing, or the fetch budget ran out.
	TimedOut
	// FetchFailed: the historic source reported an error.
	FetchFailed
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Exhausted:
		return "exhausted"
	case TimedOut:
		return "timed_out"
	case FetchFailed:
		return "fetch_failed"
	}
	return "unknown"
}
