package graph

import (
	"errors"
	"math"
	"testing"

	"putup-system/internal/markethours"
	"putup-system/internal/model"
)

func mustLine(t *testing.T, c, e *Point, g *Graph) *TrendLine {
	t.Helper()
	l, err := NewTrendLine(c, e, g)
	if err != nil {
		t.Fatalf("NewTrendLine: %v", err)
	}
	return l
}

func TestTrendLine_SameDayGradientExact(t *testing.T) {
	g, ex := newTestGraph()
	c := bar(at(ex, day1, 10, 0, 0), 100)
	e := bar(at(ex, day1, 10, 7, 13), 93)
	l := mustLine(t, c, e, g)

	m, err := l.Gradient()
	if err != nil {
		t.Fatalf("Gradient: %v", err)
	}
	want := float64(e.LastPrice()-c.LastPrice()) / float64(e.Timestamp-c.Timestamp)
	if m != want {
		t.Errorf("expected %v, got %v", want, m)
	}
	if d, _ := l.Direction(); d != Falling {
		t.Errorf("expected FALLING, got %s", d)
	}
}

func TestTrendLine_MultiDayRequiresTradingDays(t *testing.T) {
	g, ex := newTestGraph()
	c := bar(at(ex, day1, 15, 0, 0), 100) // 1h before close
	e := bar(at(ex, day3, 10, 30, 0), 90) // 1h after open
	l := mustLine(t, c, e, g)

	if _, err := l.Gradient(); !errors.Is(err, ErrTradingDaysRequired) {
		t.Fatalf("expected ErrTradingDaysRequired, got %v", err)
	}

	l.SetTradingDays(markethours.BuildCalendar(ex, day1, day3))
	m, err := l.Gradient()
	if err != nil {
		t.Fatalf("Gradient: %v", err)
	}
	// 1h + a full 6.5h session on day2 + 1h
	elapsed := int64(8.5 * 3600 * 1000)
	want := float64(model.PriceOf(-10)) / float64(elapsed)
	if m != want {
		t.Errorf("expected %v, got %v", want, m)
	}
	if math.IsInf(m, 0) || math.IsNaN(m) {
		t.Errorf("gradient not finite: %v", m)
	}
	again, _ := l.Gradient()
	if again != m {
		t.Errorf("gradient not reproducible: %v vs %v", m, again)
	}
}

func TestTrendLine_NewRejectsBadEndpoints(t *testing.T) {
	g, ex := newTestGraph()
	a := bar(at(ex, day1, 10, 0, 0), 100)
	b := bar(at(ex, day1, 11, 0, 0), 100)
	if _, err := NewTrendLine(b, a, g); !errors.Is(err, ErrInvalidLine) {
		t.Errorf("expected ErrInvalidLine for reversed points, got %v", err)
	}
	if _, err := NewTrendLine(a, b, nil); !errors.Is(err, ErrInvalidLine) {
		t.Errorf("expected ErrInvalidLine without graph, got %v", err)
	}
}

func TestTrendLine_StandInValidation(t *testing.T) {
	g, ex := newTestGraph()
	c := bar(at(ex, day1, 10, 0, 0), 100)
	e := bar(at(ex, day1, 11, 0, 0), 95)
	l := mustLine(t, c, e, g)

	cases := []struct {
		name string
		set  func(*Point) bool
		p    *Point
		want bool
	}{
		{"C before C", l.SetStandInC, bar(at(ex, day1, 9, 45, 0), 1), false},
		{"C at C", l.SetStandInC, bar(c.Timestamp, 1), false},
		{"C at E", l.SetStandInC, bar(e.Timestamp, 1), false},
		{"C between", l.SetStandInC, bar(at(ex, day1, 10, 30, 0), 99), true},
		{"E before E", l.SetStandInE, bar(at(ex, day1, 10, 45, 0), 1), false},
		{"E at E", l.SetStandInE, bar(e.Timestamp, 1), false},
		{"E after", l.SetStandInE, bar(at(ex, day1, 12, 0, 0), 90), true},
	}
	for _, tc := range cases {
		if got := tc.set(tc.p); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
	if l.StandInC().LastPrice() != model.PriceOf(99) || l.StandInE().LastPrice() != model.PriceOf(90) {
		t.Error("rejected assignment overwrote a stand-in")
	}

	m, _ := l.Gradient()
	want := float64(model.PriceOf(90)-model.PriceOf(99)) / float64(90*60*1000)
	if m != want {
		t.Errorf("expected stand-in gradient %v, got %v", want, m)
	}
}

func TestTrendLine_Intersect(t *testing.T) {
	g, ex := newTestGraph()
	t0 := at(ex, day1, 10, 0, 0)
	down := mustLine(t, bar(t0, 100), bar(t0+1000, 90), g)
	up := mustLine(t, bar(t0, 80), bar(t0+1000, 90), g)

	p, ok, err := down.Intersect(up)
	if err != nil || !ok {
		t.Fatalf("expected intersection, got ok=%v err=%v", ok, err)
	}
	if p.Kind != KindSynthetic || p.Timestamp != t0+1000 || p.LastPrice() != model.PriceOf(90) {
		t.Errorf("unexpected intersection %s", p)
	}

	parallel := mustLine(t, bar(t0, 120), bar(t0+1000, 110), g)
	if _, ok, err := down.Intersect(parallel); ok || err != nil {
		t.Errorf("expected no intersection for parallel lines, got ok=%v err=%v", ok, err)
	}
}

func TestTrendLine_IntersectAcrossDays(t *testing.T) {
	g, ex := newTestGraph()
	cal := markethours.BuildCalendar(ex, day1, day3)
	l1 := mustLine(t, bar(at(ex, day1, 10, 0, 0), 1000), bar(at(ex, day2, 10, 0, 0), 900), g)
	l2 := mustLine(t, bar(at(ex, day1, 11, 0, 0), 905), bar(at(ex, day2, 15, 0, 0), 904), g)
	l1.SetTradingDays(cal)
	l2.SetTradingDays(cal)

	p, ok, err := l1.Intersect(l2)
	if err != nil || !ok {
		t.Fatalf("expected intersection, got ok=%v err=%v", ok, err)
	}
	if d := ex.DayCode(p.Timestamp); d != day2 {
		t.Errorf("expected intersection on %d, got %d", day2, d)
	}
	if !ex.WithinTradingHours(p.Timestamp) {
		t.Errorf("expected intersection inside the session, got %s", p)
	}
	if p.LastPrice() <= model.PriceOf(904) || p.LastPrice() >= model.PriceOf(905) {
		t.Errorf("expected price between 904 and 905, got %s", p.LastPrice())
	}
	for i, l := range []*TrendLine{l1, l2} {
		got, err := l.PriceAtTime(p.Timestamp)
		if err != nil {
			t.Fatalf("PriceAtTime: %v", err)
		}
		if diff := got - p.LastPrice(); diff < -1 || diff > 1 {
			t.Errorf("line %d: expected %s at the intersection, got %s", i+1, p.LastPrice(), got)
		}
	}

	back, ok, err := l2.Intersect(l1)
	if err != nil || !ok {
		t.Fatalf("expected intersection from l2, got ok=%v err=%v", ok, err)
	}
	if d := back.Timestamp - p.Timestamp; d < -1 || d > 1 {
		t.Errorf("expected %d from either line, got %d", p.Timestamp, back.Timestamp)
	}
}

func TestTrendLine_XInterceptSkipsClosedHours(t *testing.T) {
	g, ex := newTestGraph()
	// falls 10 per session hour from 10:00, reaching zero 10 hours later
	l := mustLine(t, bar(at(ex, day1, 10, 0, 0), 100), bar(at(ex, day1, 11, 0, 0), 90), g)
	if _, _, err := l.XInterceptTime(); !errors.Is(err, ErrTradingDaysRequired) {
		t.Fatalf("expected ErrTradingDaysRequired, got %v", err)
	}
	l.SetTradingDays(markethours.NewCalendar(day1, day2))
	x, ok, err := l.XInterceptTime()
	if err != nil || !ok {
		t.Fatalf("expected an intercept, got ok=%v err=%v", ok, err)
	}
	// 6h to the close on day1, then 4h into day2
	if want := at(ex, day2, 13, 30, 0); x != want {
		t.Errorf("expected %d, got %d", want, x)
	}
}

func TestTrendLine_Intercepts(t *testing.T) {
	g, ex := newTestGraph()
	t0 := at(ex, day1, 10, 0, 0)
	down := mustLine(t, bar(t0, 100), bar(t0+1000, 90), g) // -10 per ms
	up := mustLine(t, bar(t0, 80), bar(t0+1000, 90), g)    // +10 per ms
	flat := mustLine(t, bar(t0, 50), bar(t0+1000, 50), g)

	if x, ok, _ := down.XInterceptTime(); !ok || x != t0+10000 {
		t.Errorf("falling: expected %d, got %d (%v)", t0+10000, x, ok)
	}
	if x, ok, _ := up.XInterceptTime(); !ok || x != t0-8000 {
		t.Errorf("rising: expected %d, got %d (%v)", t0-8000, x, ok)
	}
	if _, ok, _ := flat.XInterceptTime(); ok {
		t.Error("horizontal line should not cross zero")
	}
	if down.YInterceptPrice() != model.PriceOf(100) {
		t.Errorf("expected y-intercept 100, got %s", down.YInterceptPrice())
	}
	if p, _ := down.PriceAtTime(t0 + 500); p != model.PriceOf(95) {
		t.Errorf("expected 95 at midpoint, got %s", p)
	}
	if p, _ := flat.PriceAtTime(t0 + 99999); p != model.PriceOf(50) {
		t.Errorf("expected constant 50, got %s", p)
	}
	pt, err := up.PointAtTime(t0 + 2000)
	if err != nil || pt.LastPrice() != model.PriceOf(100) {
		t.Errorf("expected synthetic 100, got %v (%v)", pt, err)
	}
	if d, _ := flat.Direction(); d != Horizontal {
		t.Errorf("expected HORIZONTAL, got %s", d)
	}
}

func TestTrendLine_EqualAndCompare(t *testing.T) {
	g, ex := newTestGraph()
	c := bar(at(ex, day1, 10, 0, 0), 100)
	e := bar(at(ex, day1, 11, 0, 0), 95)
	later := bar(at(ex, day1, 12, 0, 0), 90)

	a := mustLine(t, c, e, g)
	b := mustLine(t, c, later, g)
	if a.Equal(b) {
		t.Error("different E should not be equal")
	}
	a.SetStandInE(later)
	if !a.Equal(b) {
		t.Error("effective endpoints match, expected equal")
	}

	other := mustLine(t, bar(at(ex, day1, 10, 30, 0), 100), later, g)
	if a.Compare(other) >= 0 || other.Compare(a) <= 0 {
		t.Error("expected ordering by effective C timestamp")
	}
}
