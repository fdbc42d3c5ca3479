package graph

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"putup-system/internal/markethours"
	"putup-system/internal/model"
)

var (
	// ErrTradingDaysRequired is returned when a line spans more than one
	// calendar day and no trading-day calendar was supplied. It is a
	// configuration error and must not be retried.
	ErrTradingDaysRequired = errors.New("trend line spans several days but has no trading-day calendar")

	// ErrInvalidLine is returned by NewTrendLine for a bad C/E pair.
	ErrInvalidLine = errors.New("invalid trend line")
)

// Direction is the sign of a line's gradient.
type Direction int8

const (
	Falling    Direction = -1
	Horizontal Direction = 0
	Rising     Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Falling:
		return "FALLING"
	case Rising:
		return "RISING"
	}
	return "HORIZONTAL"
}

// TrendLine is a Y-line from a start point C to an end point E. Optional
// stand-ins replace C or E in every calculation. Safe for concurrent use.
type TrendLine struct {
	mu sync.Mutex

	c, e               *Point
	standInC, standInE *Point
	graph              *Graph
	tradingDays        *markethours.Calendar

	gradient      float64
	gradientValid bool
}

// NewTrendLine creates a line on g. C must be strictly earlier than E.
func NewTrendLine(c, e *Point, g *Graph) (*TrendLine, error) {
	if c == nil || e == nil || g == nil {
		return nil, fmt.Errorf("%w: missing endpoint or graph", ErrInvalidLine)
	}
	if c.Timestamp >= e.Timestamp {
		return nil, fmt.Errorf("%w: C %d not before E %d", ErrInvalidLine, c.Timestamp, e.Timestamp)
	}
	return &TrendLine{c: c, e: e, graph: g}, nil
}

// C returns the line's original start point.
func (l *TrendLine) C() *Point {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.c
}

// E returns the line's original end point.
func (l *TrendLine) E() *Point {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.e
}

// StandInC returns the substituted start point, or nil.
func (l *TrendLine) StandInC() *Point {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.standInC
}

// StandInE returns the substituted end point, or nil.
func (l *TrendLine) StandInE() *Point {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.standInE
}

// EffectiveC returns the stand-in C if set, else C.
func (l *TrendLine) EffectiveC() *Point {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.effC()
}

// EffectiveE returns the stand-in E if set, else E.
func (l *TrendLine) EffectiveE() *Point {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.effE()
}

func (l *TrendLine) effC() *Point {
	if l.standInC != nil {
		return l.standInC
	}
	return l.c
}

func (l *TrendLine) effE() *Point {
	if l.standInE != nil {
		return l.standInE
	}
	return l.e
}

// SetStandInC replaces C in calculations. p must lie strictly between C and
// E; otherwise the call is ignored and returns false.
func (l *TrendLine) SetStandInC(p *Point) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p == nil || p.Timestamp <= l.c.Timestamp || p.Timestamp >= l.e.Timestamp {
		return false
	}
	l.standInC = p
	l.gradientValid = false
	return true
}

// SetStandInE replaces E in calculations. p must lie strictly after E (and
// so after C); otherwise the call is ignored and returns false.
func (l *TrendLine) SetStandInE(p *Point) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p == nil || p.Timestamp <= l.e.Timestamp || p.Timestamp <= l.c.Timestamp {
		return false
	}
	l.standInE = p
	l.gradientValid = false
	return true
}

// ClearStandIns drops both stand-ins.
func (l *TrendLine) ClearStandIns() {
	l.mu.Lock()
	l.standInC, l.standInE = nil, nil
	l.gradientValid = false
	l.mu.Unlock()
}

// Graph returns the owning graph.
func (l *TrendLine) Graph() *Graph {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.graph
}

// SetGraph moves the line to g. A nil graph is ignored.
func (l *TrendLine) SetGraph(g *Graph) {
	if g == nil {
		return
	}
	l.mu.Lock()
	l.graph = g
	l.gradientValid = false
	l.mu.Unlock()
}

// TradingDays returns the calendar used for multi-day gradients.
func (l *TrendLine) TradingDays() *markethours.Calendar {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tradingDays
}

// SetTradingDays sets the calendar used for multi-day gradients.
func (l *TrendLine) SetTradingDays(c *markethours.Calendar) {
	l.mu.Lock()
	l.tradingDays = c
	l.gradientValid = false
	l.mu.Unlock()
}

// Gradient returns the slope in fixed-point price units per millisecond.
// Same-day lines use raw elapsed time; lines crossing days count only
// session time and need a trading-day calendar.
func (l *TrendLine) Gradient() (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gradientLocked()
}

func (l *TrendLine) gradientLocked() (float64, error) {
	if l.gradientValid {
		return l.gradient, nil
	}
	c, e := l.effC(), l.effE()
	dt, err := l.elapsed(c.Timestamp, e.Timestamp)
	if err != nil {
		return 0, err
	}
	if dt <= 0 {
		return 0, fmt.Errorf("%w: no trading time between %d and %d", ErrInvalidLine, c.Timestamp, e.Timestamp)
	}
	l.gradient = float64(e.LastPrice()-c.LastPrice()) / float64(dt)
	l.gradientValid = true
	return l.gradient, nil
}

// elapsed returns the trading time from t0 to t1 in ms. Negative when t1 is
// before t0. Caller holds mu.
func (l *TrendLine) elapsed(t0, t1 int64) (int64, error) {
	if t1 < t0 {
		d, err := l.elapsed(t1, t0)
		return -d, err
	}
	ex := l.graph.Exchange()
	d0, d1 := ex.DayCode(t0), ex.DayCode(t1)
	if d0 == d1 {
		return t1 - t0, nil
	}
	if l.tradingDays == nil {
		return 0, fmt.Errorf("%w: %d to %d", ErrTradingDaysRequired, d0, d1)
	}
	total := clampMs(ex.Close(d0)-t0) + clampMs(t1-ex.Open(d1))
	for _, d := range l.tradingDays.Between(d0, d1) {
		total += ex.SessionLength(d)
	}
	return total, nil
}

func clampMs(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// maxSpanDays bounds how many trading days advance walks.
const maxSpanDays = 3660

// advance returns the timestamp d ms of trading time after t0, or before it
// when d is negative. It is the inverse of elapsed. Caller holds mu.
func (l *TrendLine) advance(t0, d int64) (int64, error) {
	ex := l.graph.Exchange()
	day := ex.DayCode(t0)
	if (d >= 0 && t0+d <= ex.Close(day)) || (d < 0 && t0+d >= ex.Open(day)) {
		return t0 + d, nil
	}
	if l.tradingDays == nil {
		return 0, fmt.Errorf("%w: %d ms from day %d", ErrTradingDaysRequired, d, day)
	}
	next := l.dayWalker(day, d >= 0)
	if d >= 0 {
		rem := d - clampMs(ex.Close(day)-t0)
		for i := 0; i < maxSpanDays; i++ {
			day = next()
			s := ex.SessionLength(day)
			if rem <= s {
				return ex.Open(day) + rem, nil
			}
			rem -= s
		}
	} else {
		rem := -d - clampMs(t0-ex.Open(day))
		for i := 0; i < maxSpanDays; i++ {
			day = next()
			s := ex.SessionLength(day)
			if rem <= s {
				return ex.Close(day) - rem, nil
			}
			rem -= s
		}
	}
	return 0, fmt.Errorf("%w: %d ms of trading time from %d is out of range", ErrInvalidLine, d, t0)
}

// dayWalker yields the trading days after (or before) day one at a time.
// Days come from the calendar, then from the exchange rules past its ends.
func (l *TrendLine) dayWalker(day int, forward bool) func() int {
	ex := l.graph.Exchange()
	days := l.tradingDays.Days()
	i := sort.SearchInts(days, day)
	if forward && i < len(days) && days[i] == day {
		i++
	}
	return func() int {
		switch {
		case forward && i < len(days):
			day = days[i]
			i++
			return day
		case !forward && i > 0:
			i--
			day = days[i]
			return day
		}
		for {
			if forward {
				day = ex.NextDay(day)
			} else {
				day = ex.PrevDay(day)
			}
			if ex.IsTradingDay(day) {
				return day
			}
		}
	}
}

// solvedTime converts a trading-time offset from t0 into a timestamp.
// Caller holds mu.
func (l *TrendLine) solvedTime(t0 int64, d float64) (int64, error) {
	if math.IsNaN(d) || math.Abs(d) > maxSpanDays*24*3600*1000 {
		return 0, fmt.Errorf("%w: offset %v from %d is out of range", ErrInvalidLine, d, t0)
	}
	return l.advance(t0, int64(math.Round(d)))
}

// Direction returns the sign of the gradient.
func (l *TrendLine) Direction() (Direction, error) {
	m, err := l.Gradient()
	if err != nil {
		return Horizontal, err
	}
	switch {
	case m > 0:
		return Rising, nil
	case m < 0:
		return Falling, nil
	}
	return Horizontal, nil
}

// YInterceptPrice is the price at the line's effective start.
func (l *TrendLine) YInterceptPrice() model.Price {
	return l.EffectiveC().LastPrice()
}

// XInterceptTime is the timestamp where the extrapolated price reaches zero,
// counting trading time only. Horizontal lines never cross and return false.
func (l *TrendLine) XInterceptTime() (int64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.gradientLocked()
	if err != nil {
		return 0, false, err
	}
	if m == 0 {
		return 0, false, nil
	}
	c := l.effC()
	x, err := l.solvedTime(c.Timestamp, -float64(c.LastPrice())/m)
	if err != nil {
		return 0, false, err
	}
	return x, true, nil
}

// PriceAtTime returns the line's price at ts. Horizontal lines return the
// start price everywhere.
func (l *TrendLine) PriceAtTime(ts int64) (model.Price, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.gradientLocked()
	if err != nil {
		return 0, err
	}
	c := l.effC()
	if m == 0 {
		return c.LastPrice(), nil
	}
	dt, err := l.elapsed(c.Timestamp, ts)
	if err != nil {
		return 0, err
	}
	return c.LastPrice() + model.Price(math.Round(m*float64(dt))), nil
}

// PointAtTime is PriceAtTime as a synthetic point.
func (l *TrendLine) PointAtTime(ts int64) (*Point, error) {
	p, err := l.PriceAtTime(ts)
	if err != nil {
		return nil, err
	}
	return NewSyntheticPoint(ts, p), nil
}

// Intersect returns the synthetic point where l meets other. Parallel lines
// have no intersection and return false. Both lines are placed on l's
// trading-time axis, so the point found lies inside a session.
func (l *TrendLine) Intersect(other *TrendLine) (*Point, bool, error) {
	m2, err := other.Gradient()
	if err != nil {
		return nil, false, err
	}
	c2 := other.EffectiveC()

	l.mu.Lock()
	defer l.mu.Unlock()
	m1, err := l.gradientLocked()
	if err != nil {
		return nil, false, err
	}
	if m1 == m2 {
		return nil, false, nil
	}
	c1 := l.effC()
	// offset of other's start on l's axis
	d2, err := l.elapsed(c1.Timestamp, c2.Timestamp)
	if err != nil {
		return nil, false, err
	}
	p1, p2 := float64(c1.LastPrice()), float64(c2.LastPrice())
	tau := (p2 - p1 - m2*float64(d2)) / (m1 - m2)
	if math.IsNaN(tau) || math.IsInf(tau, 0) {
		return nil, false, nil
	}
	x, err := l.solvedTime(c1.Timestamp, tau)
	if err != nil {
		return nil, false, err
	}
	y := p1 + m1*tau
	return NewSyntheticPoint(x, model.Price(math.Round(y))), true, nil
}

// Equal reports whether both lines have the same effective endpoints.
func (l *TrendLine) Equal(other *TrendLine) bool {
	if l == other {
		return true
	}
	if other == nil {
		return false
	}
	return SameValueAs(l.EffectiveC(), other.EffectiveC()) &&
		SameValueAs(l.EffectiveE(), other.EffectiveE())
}

// Compare orders lines by effective C timestamp, then effective E timestamp.
func (l *TrendLine) Compare(other *TrendLine) int {
	a, b := l.EffectiveC(), other.EffectiveC()
	if c := cmpInt64(a.Timestamp, b.Timestamp); c != 0 {
		return c
	}
	return cmpInt64(l.EffectiveE().Timestamp, other.EffectiveE().Timestamp)
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Clone returns an independent line with the same endpoints, stand-ins,
// graph and calendar.
func (l *TrendLine) Clone() *TrendLine {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &TrendLine{
		c:           l.c,
		e:           l.e,
		standInC:    l.standInC,
		standInE:    l.standInE,
		graph:       l.graph,
		tradingDays: l.tradingDays,
	}
}

func (l *TrendLine) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fmt.Sprintf("YLine[%s -> %s]", l.effC(), l.effE())
}
