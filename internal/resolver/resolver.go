package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"putup-system/internal/graph"
	"putup-system/internal/historic"
	"putup-system/internal/logger"
)

// Submitter is the part of the historic queue the resolver needs.
type Submitter interface {
	Submit(ctx context.Context, req historic.Request) *historic.Task
}

// Config bounds the indeterminate branch.
type Config struct {
	Window      time.Duration // span of each extra fetch
	WaitTimeout time.Duration // per fetch; 0 waits for ctx only
	MaxFetches  int           // per master point
	BarSize     time.Duration
}

// DefaultConfig fetches 30-minute windows of one-second bars.
func DefaultConfig() Config {
	return Config{
		Window:      30 * time.Minute,
		WaitTimeout: 2 * time.Minute,
		MaxFetches:  8,
		BarSize:     time.Second,
	}
}

// Result is the resolution of one provisional line.
type Result struct {
	Master  *graph.Point
	Line    *graph.TrendLine // nil unless Accepted
	Outcome Outcome
	Cache   *graph.RecursionCache
	Fetches int
	Err     error // fetch error behind FetchFailed or TimedOut
}

// Step is reported through OnStep after every predicate evaluation.
type Step struct {
	Master     *graph.Point
	Line       *graph.TrendLine
	Verdict    Verdict
	Considered int
}

// Resolver runs the stand-in search. It is safe to run several Resolve
// calls concurrently as long as the hooks are.
type Resolver struct {
	cfg    Config
	pred   Predicate
	queue  Submitter
	logger *slog.Logger

	OnStep    func(Step)
	OnOutcome func(Outcome)
	OnFetch   func()
}

// New creates a resolver. queue may be nil, in which case an indeterminate
// verdict ends the search as TimedOut.
func New(cfg Config, pred Predicate, queue Submitter, l *slog.Logger) *Resolver {
	if cfg.Window <= 0 {
		cfg.Window = 30 * time.Minute
	}
	if cfg.MaxFetches <= 0 {
		cfg.MaxFetches = 1
	}
	return &Resolver{cfg: cfg, pred: pred, queue: queue, logger: logger.Component(l, "resolver")}
}

// master is the arena record of one master point.
type master struct {
	initial *graph.TrendLine
	cache   *graph.RecursionCache
	sub     *graph.Graph
	fetches int
	loaded  int64 // end of the last fetched window, epoch millis
	result  *Result
}

type item struct {
	line *graph.TrendLine
	idx  int // into the arena
}

// Resolve finalizes lines and returns one Result per input line in input
// order. The error is non-nil only for fatal conditions: a line spanning
// days without a trading-day calendar, or ctx ending.
func (r *Resolver) Resolve(ctx context.Context, lines []*graph.TrendLine) ([]Result, error) {
	arena := make([]*master, 0, len(lines))
	work := make([]item, 0, len(lines))

	for _, l := range lines {
		if _, err := l.Gradient(); err != nil {
			if errors.Is(err, graph.ErrTradingDaysRequired) {
				return nil, fmt.Errorf("resolve %s: %w", l, err)
			}
		}
		c := l.C()
		m := &master{
			initial: l,
			cache:   graph.NewRecursionCache(c),
			sub:     r.workingGraph(l),
		}
		c.AttachCache(m.cache)
		m.cache.Add(l)
		arena = append(arena, m)
		work = append(work, item{line: l, idx: len(arena) - 1})
	}

	for len(work) > 0 {
		if err := ctx.Err(); err != nil {
			return collect(arena), err
		}
		it := work[0]
		work = work[1:]

		next, err := r.step(ctx, arena[it.idx], it.line)
		if err != nil {
			return collect(arena), err
		}
		if next != nil {
			work = append(work, item{line: next, idx: it.idx})
		}
	}
	return collect(arena), nil
}

func collect(arena []*master) []Result {
	out := make([]Result, len(arena))
	for i, m := range arena {
		if m.result != nil {
			out[i] = *m.result
		} else {
			out[i] = Result{Master: m.cache.Master(), Cache: m.cache, Fetches: m.fetches}
		}
	}
	return out
}

// workingGraph is the scratch replica the predicate sees: every point of
// the line's graph from C onwards.
func (r *Resolver) workingGraph(l *graph.TrendLine) *graph.Graph {
	g := l.Graph()
	last := g.Last()
	from := l.C().Timestamp
	to := from
	if last != nil && last.Timestamp > to {
		to = last.Timestamp
	}
	sub := g.ReplicateRange(from, to)
	if sub.TradingDays() == nil {
		sub.SetTradingDays(l.TradingDays())
	}
	return sub
}

// step evaluates one line and returns the next line to try, or nil when
// the master point is settled.
func (r *Resolver) step(ctx context.Context, m *master, l *graph.TrendLine) (*graph.TrendLine, error) {
	e := l.E()
	v := r.pred.Evaluate(ctx, e, m.sub)
	if r.OnStep != nil {
		r.OnStep(Step{Master: m.cache.Master(), Line: l, Verdict: v, Considered: m.cache.Len()})
	}
	log := r.logger.With(logger.LogWithTrace(ctx)...)

	switch v {
	case Valid:
		m.cache.SetValidTermination(true)
		m.finish(Accepted, finalLine(m.initial, e), nil)
		log.Debug("line accepted", "master", m.cache.Master().String(), "e", e.String(), "considered", m.cache.Len())
		r.outcome(Accepted)
		return nil, nil

	case Invalid:
		cal := l.TradingDays()
		if cal == nil {
			cal = m.sub.TradingDays()
		}
		next, err := ShallowestAfter(m.sub, e, cal)
		if err != nil {
			return nil, fmt.Errorf("resolve from %s: %w", e, err)
		}
		if next == nil {
			m.cache.SetValidTermination(false)
			m.finish(Exhausted, nil, nil)
			log.Debug("candidates exhausted", "master", m.cache.Master().String(), "considered", m.cache.Len())
			r.outcome(Exhausted)
			return nil, nil
		}
		m.cache.Add(next)
		return next, nil

	default:
		return r.fetchMore(ctx, m, l)
	}
}

// fetchMore loads the next window after E into the working graph and
// returns l for another evaluation. Windows start at E, or where the last
// fetched window ended when that already lies past E.
func (r *Resolver) fetchMore(ctx context.Context, m *master, l *graph.TrendLine) (*graph.TrendLine, error) {
	log := r.logger.With(logger.LogWithTrace(ctx)...)
	if r.queue == nil || m.fetches >= r.cfg.MaxFetches {
		m.finish(TimedOut, nil, nil)
		r.outcome(TimedOut)
		return nil, nil
	}

	e := l.E()
	from := time.UnixMilli(max(e.Timestamp, m.loaded))
	req := historic.Request{
		Security: m.sub.Security(),
		From:     from,
		To:       from.Add(r.cfg.Window),
		BarSize:  r.cfg.BarSize,
	}
	m.fetches++
	m.loaded = req.To.UnixMilli()
	if r.OnFetch != nil {
		r.OnFetch()
	}

	points, err := r.queue.Submit(ctx, req).WaitTimeout(ctx, r.cfg.WaitTimeout)
	switch {
	case err == nil:
	case errors.Is(err, historic.ErrTaskTimeout):
		log.Warn("historic fetch timed out", "request", req.String())
		m.finish(TimedOut, nil, err)
		r.outcome(TimedOut)
		return nil, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		log.Warn("historic fetch failed", "request", req.String(), "error", err)
		m.finish(FetchFailed, nil, err)
		r.outcome(FetchFailed)
		return nil, nil
	}

	if m.sub.StoreHistoricData(points) == 0 {
		log.Debug("historic fetch added nothing", "request", req.String())
		m.finish(TimedOut, nil, nil)
		r.outcome(TimedOut)
		return nil, nil
	}
	return l, nil
}

func (m *master) finish(o Outcome, line *graph.TrendLine, err error) {
	m.result = &Result{
		Master:  m.cache.Master(),
		Line:    line,
		Outcome: o,
		Cache:   m.cache,
		Fetches: m.fetches,
		Err:     err,
	}
}

func (r *Resolver) outcome(o Outcome) {
	if r.OnOutcome != nil {
		r.OnOutcome(o)
	}
}

// finalLine is the original (C, E) with the accepted end point as stand-in
// E when it moved.
func finalLine(initial *graph.TrendLine, accepted *graph.Point) *graph.TrendLine {
	out := initial.Clone()
	if accepted != initial.E() {
		out.SetStandInE(accepted)
	}
	return out
}
