package putup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"putup-system/internal/graph"
	"putup-system/internal/logger"
	"putup-system/internal/markethours"
	"putup-system/internal/model"
	"putup-system/internal/resolver"
)

// Publisher receives finalized Y-lines.
type Publisher interface {
	PublishYLines(ctx context.Context, sec model.Security, lines []*graph.TrendLine) error
}

// Archive stores the tuples of an archived day.
type Archive interface {
	SaveGraph(ctx context.Context, sec model.Security, day int, tuples []graph.Tuple) error
}

// Option configures a Putup.
type Option func(*Putup)

// WithPublisher adds a destination for finalized lines.
func WithPublisher(pub Publisher) Option {
	return func(p *Putup) { p.publishers = append(p.publishers, pub) }
}

// WithArchive adds a destination for archived days.
func WithArchive(a Archive) Option {
	return func(p *Putup) { p.archives = append(p.archives, a) }
}

// WithLookbackDays sets how many archived days the line search includes.
func WithLookbackDays(n int) Option {
	return func(p *Putup) {
		if n > 0 {
			p.lookback = n
		}
	}
}

// Putup owns the graph of one security.
type Putup struct {
	rt       *Runtime
	gen      int64
	g        *graph.Graph
	log      *slog.Logger
	runMu    sync.Mutex
	lookback int

	publishers []Publisher
	archives   []Archive
}

// New creates a putup with an empty graph on exchange.
func New(rt *Runtime, sec model.Security, exchange *markethours.Exchange, opts ...Option) *Putup {
	p := &Putup{
		rt:       rt,
		gen:      rt.NextGeneration(),
		g:        graph.New(sec, exchange),
		lookback: 5,
	}
	p.log = logger.Component(rt.Logger, "putup").With("security", sec.Key(), "generation", p.gen)
	for _, o := range opts {
		o(p)
	}
	rt.instrument(p.g)
	return p
}

func (p *Putup) Graph() *graph.Graph { return p.g }

func (p *Putup) Security() model.Security { return p.g.Security() }

// Generation is the runtime-unique id handed out at construction.
func (p *Putup) Generation() int64 { return p.gen }

// CurrentDay is today's day code on the putup's exchange.
func (p *Putup) CurrentDay() int {
	return p.g.Exchange().DayCode(p.rt.now().UnixMilli())
}

// Ingest adds points from in until it is closed or ctx ends.
func (p *Putup) Ingest(ctx context.Context, in <-chan *graph.Point) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pt, ok := <-in:
			if !ok {
				return nil
			}
			if p.g.Add(pt) {
				p.observeSize()
			}
		}
	}
}

func (p *Putup) observeSize() {
	if m := p.rt.Metrics; m != nil {
		m.GraphPoints.WithLabelValues(p.g.Security().Key()).Set(float64(p.g.Len()))
	}
}

// Rollover archives day out of the live graph and hands its tuples to every
// archive. A day without points is a no-op.
func (p *Putup) Rollover(ctx context.Context, day int) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	arch := p.g.ArchiveDay(day)
	if arch == nil {
		return nil
	}
	p.g.AddTradingDay(day)
	p.observeSize()
	if m := p.rt.Metrics; m != nil {
		m.DayRollovers.Inc()
	}
	p.log.Info("day archived", "day", day, "points", arch.Len())

	tuples := graph.Encode(arch)
	var errs []error
	for _, a := range p.archives {
		if err := a.SaveGraph(ctx, p.g.Security(), day, tuples); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Snapshot encodes the live graph.
func (p *Putup) Snapshot() []graph.Tuple {
	return graph.Encode(p.g)
}

// searchGraph is a scratch graph holding the last lookback archived days
// and the live points, with a trading-day calendar covering them.
func (p *Putup) searchGraph() *graph.Graph {
	work := p.g.Replicate()
	days := p.g.PreviousDays()
	if len(days) > p.lookback {
		days = days[len(days)-p.lookback:]
	}
	for _, d := range days {
		if arch, ok := p.g.PreviousDayGraph(d); ok {
			work.AddAll(arch.Points().Points())
		}
	}
	work.AddAll(p.g.Points().Points())

	if work.TradingDays() == nil {
		from := p.CurrentDay()
		if first := work.First(); first != nil {
			from = p.g.Exchange().DayCode(first.Timestamp)
		}
		cal := markethours.BuildCalendar(p.g.Exchange(), from, p.CurrentDay())
		work.SetTradingDays(cal)
		p.g.SetTradingDays(cal.Clone())
	}
	return work
}

// ProvisionalLines builds, for every higher high walking back from the low
// of g, the shallowest line to any later point.
func ProvisionalLines(g *graph.Graph) ([]*graph.TrendLine, error) {
	pts := g.Points()
	cal := g.TradingDays()
	var out []*graph.TrendLine
	for _, c := range g.HigherHighsFromLatestLowOfDay() {
		var later []*graph.Point
		pts.AscendAfter(c, func(q *graph.Point) bool {
			later = append(later, q)
			return true
		})
		l, err := resolver.ShallowestLine(g, c, later, cal)
		if err != nil {
			return nil, err
		}
		if l != nil {
			out = append(out, l)
		}
	}
	return out, nil
}

// FilterLines keeps lines whose C lies before currentDay and whose gradient
// is negative.
func FilterLines(lines []*graph.TrendLine, currentDay int) ([]*graph.TrendLine, error) {
	var out []*graph.TrendLine
	for _, l := range lines {
		ex := l.Graph().Exchange()
		if ex.DayCode(l.C().Timestamp) >= currentDay {
			continue
		}
		m, err := l.Gradient()
		if err != nil {
			return nil, err
		}
		if m >= 0 {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// Run is the outcome of one FindYLines pass.
type Run struct {
	TraceID     string
	Provisional []*graph.TrendLine
	Filtered    []*graph.TrendLine
	Results     []resolver.Result
	Lines       []*graph.TrendLine
}

// FindYLines derives provisional lines, filters them, resolves the
// survivors and caches and publishes the accepted ones. The error is
// non-nil only for configuration problems or a cancelled ctx; publish
// failures are logged.
func (p *Putup) FindYLines(ctx context.Context) (*Run, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	ctx = logger.EnsureTraceID(ctx, p.g.Security().Ticker)
	run := &Run{TraceID: logger.TraceID(ctx)}
	log := p.log.With(logger.LogWithTrace(ctx)...)
	start := time.Now()

	work := p.searchGraph()
	prov, err := ProvisionalLines(work)
	if err != nil {
		return nil, fmt.Errorf("putup %s: provisional lines: %w", p.g.Security().Key(), err)
	}
	run.Provisional = prov
	p.g.SetTrendLines(prov)

	run.Filtered, err = FilterLines(prov, p.CurrentDay())
	if err != nil {
		return nil, fmt.Errorf("putup %s: filter: %w", p.g.Security().Key(), err)
	}

	run.Results, err = p.rt.newResolver().Resolve(ctx, run.Filtered)
	if err != nil {
		return nil, fmt.Errorf("putup %s: resolve: %w", p.g.Security().Key(), err)
	}
	for _, r := range run.Results {
		if r.Outcome == resolver.Accepted && r.Line != nil {
			r.Line.SetGraph(p.g)
			run.Lines = append(run.Lines, r.Line)
		}
	}
	p.g.SetTrendLines(run.Lines)

	if m := p.rt.Metrics; m != nil {
		m.ResolveDur.Observe(time.Since(start).Seconds())
	}
	log.Info("y-lines resolved",
		"provisional", len(run.Provisional),
		"filtered", len(run.Filtered),
		"accepted", len(run.Lines),
		"took", time.Since(start))

	for _, pub := range p.publishers {
		if err := pub.PublishYLines(ctx, p.g.Security(), run.Lines); err != nil {
			log.Warn("publish failed", "error", err)
			continue
		}
		if m := p.rt.Metrics; m != nil {
			m.YLinesPublished.Add(float64(len(run.Lines)))
		}
	}
	return run, nil
}
