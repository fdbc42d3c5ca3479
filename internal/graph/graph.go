package graph

import (
	"math"
	"sort"
	"sync"

	"putup-system/internal/markethours"
	"putup-system/internal/model"
)

// RejectReason says why Add refused a point.
type RejectReason uint8

const (
	RejectOutOfHours RejectReason = iota + 1
	RejectDuplicate
)

func (r RejectReason) String() string {
	switch r {
	case RejectOutOfHours:
		return "out_of_hours"
	case RejectDuplicate:
		return "duplicate"
	}
	return "unknown"
}

// Graph is the time-ordered point store of one security. All methods are
// safe for concurrent use; readers get independent snapshots.
type Graph struct {
	mu sync.Mutex

	security model.Security
	exchange *markethours.Exchange

	points  *Series
	highest *Point
	lowest  *Point

	prevClose   *Point
	prevDays    map[int]*Graph
	tradingDays *markethours.Calendar
	lines       []*TrendLine

	// Optional hooks, called outside the graph lock. Set before use.
	OnAdd    func(p *Point)
	OnReject func(p *Point, reason RejectReason)
}

// New creates an empty graph. A nil exchange defaults to NYSE.
func New(sec model.Security, exchange *markethours.Exchange) *Graph {
	if exchange == nil {
		exchange = markethours.NYSE()
	}
	return &Graph{
		security: sec,
		exchange: exchange,
		points:   NewSeries(ByTime),
		prevDays: make(map[int]*Graph),
	}
}

// Security returns the putup identity.
func (g *Graph) Security() model.Security { return g.security }

// Exchange returns the exchange whose session filters points.
func (g *Graph) Exchange() *markethours.Exchange { return g.exchange }

// Add inserts p if it falls inside trading hours and no equivalent point is
// present. Highest moves only on a strictly greater price; lowest moves on
// an equal or lower one, so ties favour the later point as the low.
func (g *Graph) Add(p *Point) bool {
	if p == nil {
		return false
	}
	if !g.exchange.WithinTradingHours(p.Timestamp) {
		g.reject(p, RejectOutOfHours)
		return false
	}

	g.mu.Lock()
	ok := g.points.Add(p)
	if ok {
		g.track(p)
	}
	g.mu.Unlock()

	if !ok {
		g.reject(p, RejectDuplicate)
		return false
	}
	if g.OnAdd != nil {
		g.OnAdd(p)
	}
	return true
}

func (g *Graph) reject(p *Point, r RejectReason) {
	if g.OnReject != nil {
		g.OnReject(p, r)
	}
}

// track updates the cached extremes for one new point. Caller holds mu.
func (g *Graph) track(p *Point) {
	if g.highest == nil || p.LastPrice() > g.highest.LastPrice() {
		g.highest = p
	}
	if g.lowest == nil || p.LastPrice() <= g.lowest.LastPrice() {
		g.lowest = p
	}
}

// rescan recomputes the cached extremes in time order. Caller holds mu.
func (g *Graph) rescan() {
	g.highest, g.lowest = nil, nil
	g.points.Ascend(func(p *Point) bool {
		g.track(p)
		return true
	})
}

// sweep evicts points outside trading hours. Caller holds mu.
func (g *Graph) sweep() []*Point {
	var out []*Point
	g.points.Ascend(func(p *Point) bool {
		if !g.exchange.WithinTradingHours(p.Timestamp) {
			out = append(out, p)
		}
		return true
	})
	for _, p := range out {
		g.points.Remove(p)
	}
	return out
}

// AddAll bulk inserts points and returns how many remain in the graph.
// Out-of-hours points are swept after the insert and the extremes are then
// rescanned over the surviving set.
func (g *Graph) AddAll(points []*Point) int {
	var added, dups []*Point

	g.mu.Lock()
	for _, p := range points {
		if p == nil {
			continue
		}
		if g.points.Add(p) {
			added = append(added, p)
		} else {
			dups = append(dups, p)
		}
	}
	evicted := g.sweep()
	g.rescan()
	g.mu.Unlock()

	gone := make(map[*Point]bool, len(evicted))
	for _, p := range evicted {
		gone[p] = true
		g.reject(p, RejectOutOfHours)
	}
	for _, p := range dups {
		g.reject(p, RejectDuplicate)
	}
	n := 0
	for _, p := range added {
		if gone[p] {
			continue
		}
		n++
		if g.OnAdd != nil {
			g.OnAdd(p)
		}
	}
	return n
}

// Len returns the number of points.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.points.Len()
}

// First returns the earliest point or nil.
func (g *Graph) First() *Point {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.points.First()
}

// Last returns the latest point or nil.
func (g *Graph) Last() *Point {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.points.Last()
}

// Contains reports whether a point ordered equal to p is stored.
func (g *Graph) Contains(p *Point) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.points.Contains(p)
}

// Lookup returns the stored point with the same timestamp and last price as
// p, or nil.
func (g *Graph) Lookup(p *Point) *Point {
	if p == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var out *Point
	g.points.Between(p.Timestamp, p.Timestamp).Ascend(func(q *Point) bool {
		if SameValueAs(p, q) {
			out = q
			return false
		}
		return true
	})
	return out
}

// Points returns a snapshot of every point in time order.
func (g *Graph) Points() *Series {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.points.Clone()
}

// SubSet returns a snapshot of the range between from and to. Arguments are
// swapped when from is chronologically after to.
func (g *Graph) SubSet(from, to *Point, fromInclusive, toInclusive bool) *Series {
	if from != nil && to != nil && Ordering(from, to) > 0 {
		from, to = to, from
		fromInclusive, toInclusive = toInclusive, fromInclusive
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.points.SubSet(from, to, fromInclusive, toInclusive)
}

// Between returns a snapshot of the points with timestamps in [fromMs, toMs].
func (g *Graph) Between(fromMs, toMs int64) *Series {
	if fromMs > toMs {
		fromMs, toMs = toMs, fromMs
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.points.Between(fromMs, toMs)
}

// Highest returns the cached highest point so far.
func (g *Graph) Highest() *Point {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.highest
}

// Lowest returns the cached lowest point so far.
func (g *Graph) Lowest() *Point {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lowest
}

// EarliestHigh returns the earliest point that reached the day's high price.
func (g *Graph) EarliestHigh() *Point {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.earliestAt(g.highest)
}

// EarliestLow returns the earliest point that reached the day's low price.
func (g *Graph) EarliestLow() *Point {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.earliestAt(g.lowest)
}

// earliestAt re-sorts [start, extreme] by price and takes the first point at
// the extreme's price. Caller holds mu.
func (g *Graph) earliestAt(extreme *Point) *Point {
	if extreme == nil {
		return nil
	}
	byPrice := g.points.SubSet(g.points.First(), extreme, true, true).Reorder(ByPrice)
	p := byPrice.Ceiling(probe(kindProbeLow, math.MinInt64, extreme.LastPrice()))
	if p == nil || p.LastPrice() != extreme.LastPrice() {
		return extreme
	}
	return p
}

// HigherHighsFromLatestLowOfDay walks back in time from the lowest point to
// the start of the graph and collects every point whose WAP beats the
// running maximum. The result is in descending time order.
func (g *Graph) HigherHighsFromLatestLowOfDay() []*Point {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lowest == nil {
		return nil
	}
	var out []*Point
	best := g.lowest.WAP
	g.points.DescendFrom(g.lowest, func(p *Point) bool {
		if p.WAP > best {
			best = p.WAP
			out = append(out, p)
		}
		return true
	})
	return out
}

// StoreHistoricData replaces every point within [first, last] of points with
// points. It returns how many of the new points were kept. Hooks fire for
// every kept or rejected point, as with AddAll.
func (g *Graph) StoreHistoricData(points []*Point) int {
	fresh := NewSeries(ByTime)
	var outside, dups []*Point
	for _, p := range points {
		switch {
		case p == nil:
		case !g.exchange.WithinTradingHours(p.Timestamp):
			outside = append(outside, p)
		case !fresh.Add(p):
			dups = append(dups, p)
		}
	}

	var added []*Point
	if fresh.Len() > 0 {
		g.mu.Lock()
		stale := g.points.Between(fresh.First().Timestamp, fresh.Last().Timestamp)
		stale.Ascend(func(p *Point) bool {
			g.points.Remove(p)
			return true
		})
		fresh.Ascend(func(p *Point) bool {
			if g.points.Add(p) {
				added = append(added, p)
			}
			return true
		})
		g.rescan()
		g.mu.Unlock()
	}

	for _, p := range outside {
		g.reject(p, RejectOutOfHours)
	}
	for _, p := range dups {
		g.reject(p, RejectDuplicate)
	}
	if g.OnAdd != nil {
		for _, p := range added {
			g.OnAdd(p)
		}
	}
	return len(added)
}

// Replicate returns an empty graph carrying the same security, exchange,
// previous close, trend lines and trading days. Hooks are not copied.
func (g *Graph) Replicate() *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	r := New(g.security, g.exchange)
	r.prevClose = g.prevClose
	r.tradingDays = g.tradingDays.Clone()
	r.lines = append([]*TrendLine(nil), g.lines...)
	return r
}

// ReplicateRange returns a replica holding the points with timestamps in
// [fromMs, toMs].
func (g *Graph) ReplicateRange(fromMs, toMs int64) *Graph {
	r := g.Replicate()
	pts := g.Between(fromMs, toMs)
	r.mu.Lock()
	pts.Ascend(func(p *Point) bool {
		r.points.Add(p)
		return true
	})
	r.rescan()
	r.mu.Unlock()
	return r
}

// PreviousClose returns the previous session's closing point, if known.
func (g *Graph) PreviousClose() *Point {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prevClose
}

// SetPreviousClose records the previous session's closing point.
func (g *Graph) SetPreviousClose(p *Point) {
	g.mu.Lock()
	g.prevClose = p
	g.mu.Unlock()
}

// TradingDays returns the calendar used for multi-day gradients, or nil.
// The returned calendar is shared and must not be modified; use
// AddTradingDay or SetTradingDays.
func (g *Graph) TradingDays() *markethours.Calendar {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tradingDays
}

// SetTradingDays replaces the trading-day calendar.
func (g *Graph) SetTradingDays(c *markethours.Calendar) {
	g.mu.Lock()
	g.tradingDays = c
	g.mu.Unlock()
}

// AddTradingDay adds day to the trading-day calendar. The calendar is
// replaced, never changed in place, so a calendar returned by TradingDays
// stays valid for readers. A graph without a calendar is left without one.
func (g *Graph) AddTradingDay(day int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tradingDays == nil || g.tradingDays.Contains(day) {
		return
	}
	cal := g.tradingDays.Clone()
	cal.Add(day)
	g.tradingDays = cal
}

// TrendLines returns a copy of the cached trend lines.
func (g *Graph) TrendLines() []*TrendLine {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*TrendLine(nil), g.lines...)
}

// SetTrendLines replaces the cached trend lines.
func (g *Graph) SetTrendLines(lines []*TrendLine) {
	g.mu.Lock()
	g.lines = append([]*TrendLine(nil), lines...)
	g.mu.Unlock()
}

// Days returns the distinct exchange-local day codes holding points.
func (g *Graph) Days() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	var days []int
	last := 0
	g.points.Ascend(func(p *Point) bool {
		if d := g.exchange.DayCode(p.Timestamp); d != last {
			days = append(days, d)
			last = d
		}
		return true
	})
	return days
}

// DayPoints returns a snapshot of the session of one day code.
func (g *Graph) DayPoints(day int) *Series {
	return g.Between(g.exchange.Open(day), g.exchange.Close(day))
}

// ArchiveDay moves the points of day into a previous-day graph, records the
// day's last point as the previous close, and returns the archive. It
// returns nil when the day holds no points.
func (g *Graph) ArchiveDay(day int) *Graph {
	g.mu.Lock()
	dayPts := g.points.Between(g.exchange.Open(day), g.exchange.Close(day))
	if dayPts.Len() == 0 {
		g.mu.Unlock()
		return nil
	}
	arch := New(g.security, g.exchange)
	arch.prevClose = g.prevClose
	arch.tradingDays = g.tradingDays.Clone()
	dayPts.Ascend(func(p *Point) bool {
		g.points.Remove(p)
		arch.points.Add(p)
		return true
	})
	arch.rescan()
	g.prevDays[day] = arch
	g.prevClose = dayPts.Last()
	g.rescan()
	g.mu.Unlock()
	return arch
}

// PreviousDayGraph returns the archived graph of day.
func (g *Graph) PreviousDayGraph(day int) (*Graph, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.prevDays[day]
	return a, ok
}

// AddPreviousDayGraph stores an archived graph under day.
func (g *Graph) AddPreviousDayGraph(day int, a *Graph) {
	g.mu.Lock()
	g.prevDays[day] = a
	g.mu.Unlock()
}

// PreviousDays returns the archived day codes in ascending order.
func (g *Graph) PreviousDays() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	days := make([]int, 0, len(g.prevDays))
	for d := range g.prevDays {
		days = append(days, d)
	}
	sort.Ints(days)
	return days
}

// restore inserts points without the trading-hours filter and sets the
// extremes explicitly. Used by Decode.
func (g *Graph) restore(points []*Point, highest, lowest int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range points {
		g.points.Add(p)
	}
	g.rescan()
	if highest >= 0 && highest < len(points) && g.points.Contains(points[highest]) {
		g.highest = points[highest]
	}
	if lowest >= 0 && lowest < len(points) && g.points.Contains(points[lowest]) {
		g.lowest = points[lowest]
	}
}
