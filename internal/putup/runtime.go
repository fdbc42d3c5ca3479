// Package putup manages one monitored security ("putup"): it owns the
// security's graph, feeds it from ingestion, archives days at rollover and
// derives, filters and resolves the security's Y-lines.
package putup

import (
	"log/slog"
	"sync/atomic"
	"time"

	"putup-system/internal/graph"
	"putup-system/internal/historic"
	"putup-system/internal/metrics"
	"putup-system/internal/resolver"
)

// Runtime is the state shared by every putup of one process. It replaces
// process-wide globals: pass it to constructors.
type Runtime struct {
	generation atomic.Int64

	Queue     resolver.Submitter
	Predicate resolver.Predicate
	Resolver  resolver.Config
	Logger    *slog.Logger
	Metrics   *metrics.Metrics // optional
	Now       func() time.Time
}

// NewRuntime creates a runtime with the default resolver config and the
// default breakout predicate.
func NewRuntime(queue *historic.Queue, m *metrics.Metrics, l *slog.Logger) *Runtime {
	rt := &Runtime{
		Predicate: DefaultBreakoutPredicate(),
		Resolver:  resolver.DefaultConfig(),
		Logger:    l,
		Metrics:   m,
		Now:       time.Now,
	}
	if queue != nil {
		rt.Queue = queue
		if m != nil {
			queue.OnFetch = func(_ historic.Request, d time.Duration, err error) {
				m.HistoricFetchDur.Observe(d.Seconds())
				if err != nil {
					m.HistoricFetchErrors.Inc()
				}
			}
		}
	}
	return rt
}

// NextGeneration returns a new process-unique putup generation.
func (rt *Runtime) NextGeneration() int64 {
	return rt.generation.Add(1)
}

// Generation returns the last generation handed out.
func (rt *Runtime) Generation() int64 {
	return rt.generation.Load()
}

func (rt *Runtime) now() time.Time {
	if rt.Now == nil {
		return time.Now()
	}
	return rt.Now()
}

// instrument wires a graph's hooks to the runtime metrics.
func (rt *Runtime) instrument(g *graph.Graph) {
	m := rt.Metrics
	if m == nil {
		return
	}
	g.OnAdd = func(p *graph.Point) {
		m.PointsTotal.WithLabelValues(p.Kind.String()).Inc()
	}
	g.OnReject = func(_ *graph.Point, r graph.RejectReason) {
		m.PointsRejected.WithLabelValues(r.String()).Inc()
	}
}

func (rt *Runtime) newResolver() *resolver.Resolver {
	r := resolver.New(rt.Resolver, rt.Predicate, rt.Queue, rt.Logger)
	if m := rt.Metrics; m != nil {
		r.OnOutcome = func(o resolver.Outcome) { m.ResolveOutcomes.WithLabelValues(o.String()).Inc() }
		r.OnFetch = m.ResolveFetches.Inc
	}
	return r
}
