package graph

import (
	"sync"
	"testing"
	"time"

	"putup-system/internal/markethours"
	"putup-system/internal/model"
)

// Mon 5 Jan 2026 .. Wed 7 Jan 2026 are NYSE trading days.
const (
	day1 = 20260105
	day2 = 20260106
	day3 = 20260107
)

var testSec = model.Security{Ticker: "AAPL", Market: "NYSE", Class: "STK", Type: "STOCK"}

func at(ex *markethours.Exchange, day, h, m, s int) int64 {
	return ex.Date(day).Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second).UnixMilli()
}

func bar(ts int64, units int64) *Point {
	p := model.PriceOf(units)
	return NewBarPoint(KindHistoric, 1, ts, p, p, p, p, p, 100, 1, false)
}

func barWAP(ts int64, close, wap int64) *Point {
	c, w := model.PriceOf(close), model.PriceOf(wap)
	return NewBarPoint(KindHistoric, 1, ts, c, c, c, c, w, 100, 1, false)
}

func newTestGraph() (*Graph, *markethours.Exchange) {
	ex := markethours.NYSE()
	return New(testSec, ex), ex
}

func TestGraph_AddRejectsOutsideTradingHours(t *testing.T) {
	g, ex := newTestGraph()
	var rejected []RejectReason
	g.OnReject = func(_ *Point, r RejectReason) { rejected = append(rejected, r) }

	cases := []struct {
		name string
		ts   int64
		want bool
	}{
		{"before open", at(ex, day1, 9, 29, 59), false},
		{"at open", at(ex, day1, 9, 30, 0), true},
		{"midday", at(ex, day1, 12, 0, 0), true},
		{"at close", at(ex, day1, 16, 0, 0), true},
		{"after close", at(ex, day1, 16, 0, 1), false},
	}
	for _, tc := range cases {
		p := bar(tc.ts, 100)
		if got := g.Add(p); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
		if got := g.Contains(p); got != tc.want {
			t.Errorf("%s: contains expected %v, got %v", tc.name, tc.want, got)
		}
	}
	if g.Len() != 3 {
		t.Errorf("expected 3 points, got %d", g.Len())
	}
	if len(rejected) != 2 || rejected[0] != RejectOutOfHours {
		t.Errorf("expected two out-of-hours rejections, got %v", rejected)
	}
}

func TestGraph_HighestLowestConsistency(t *testing.T) {
	g, ex := newTestGraph()
	prices := []int64{100, 104, 98, 104, 101, 97, 110, 97, 103}
	for i, u := range prices {
		g.Add(bar(at(ex, day1, 10, i, 0), u))

		hi, lo := g.Highest(), g.Lowest()
		g.Points().Ascend(func(p *Point) bool {
			if hi.LastPrice() < p.LastPrice() {
				t.Errorf("step %d: highest %s below %s", i, hi, p)
			}
			if lo.LastPrice() > p.LastPrice() {
				t.Errorf("step %d: lowest %s above %s", i, lo, p)
			}
			return true
		})
	}
}

func TestGraph_ExtremeTieBreaks(t *testing.T) {
	g, ex := newTestGraph()
	first := bar(at(ex, day1, 10, 0, 0), 105)
	low1 := bar(at(ex, day1, 10, 1, 0), 95)
	second := bar(at(ex, day1, 10, 2, 0), 105)
	low2 := bar(at(ex, day1, 10, 3, 0), 95)
	for _, p := range []*Point{first, low1, second, low2} {
		g.Add(p)
	}
	if g.Highest() != first {
		t.Errorf("expected first max to stay highest, got %s", g.Highest())
	}
	if g.Lowest() != low2 {
		t.Errorf("expected later min to be lowest, got %s", g.Lowest())
	}
}

func TestGraph_EarliestHigh(t *testing.T) {
	g, ex := newTestGraph()
	late := bar(at(ex, day1, 11, 0, 0), 120)
	early := bar(at(ex, day1, 10, 0, 0), 120)
	g.Add(bar(at(ex, day1, 9, 45, 0), 100))
	g.Add(late)
	g.Add(early) // ties the max, so the cached highest does not move

	if g.Highest() != late {
		t.Fatalf("expected cached highest %s, got %s", late, g.Highest())
	}
	if got := g.EarliestHigh(); got != early {
		t.Errorf("expected earliest high %s, got %s", early, got)
	}
}

func TestGraph_EarliestLow(t *testing.T) {
	g, ex := newTestGraph()
	a := bar(at(ex, day1, 10, 0, 0), 90)
	b := bar(at(ex, day1, 10, 5, 0), 95)
	c := bar(at(ex, day1, 10, 10, 0), 90)
	g.AddAll([]*Point{a, b, c})
	if g.Lowest() != c {
		t.Errorf("expected lowest %s, got %s", c, g.Lowest())
	}
	if got := g.EarliestLow(); got != a {
		t.Errorf("expected earliest low %s, got %s", a, got)
	}
}

func TestGraph_DedupUsesTimeAndPrice(t *testing.T) {
	g, ex := newTestGraph()
	ts := at(ex, day1, 10, 0, 0)
	if !g.Add(bar(ts, 100)) {
		t.Fatal("first insert rejected")
	}
	cases := []struct {
		name string
		p    *Point
		want bool
	}{
		{"same kind same time", bar(ts, 101), false},
		{"bid same time same price", NewQuotePoint(KindBid, 1, ts, model.PriceOf(100), 1), false},
		{"bid same time new price", NewQuotePoint(KindBid, 1, ts, model.PriceOf(99), 1), true},
		{"ask same time new price", NewQuotePoint(KindAsk, 1, ts, model.PriceOf(102), 1), true},
	}
	for _, tc := range cases {
		if got := g.Add(tc.p); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestGraph_AddAllSweepsAndRescans(t *testing.T) {
	g, ex := newTestGraph()
	pts := []*Point{
		bar(at(ex, day1, 9, 0, 0), 500), // pre-market, swept
		bar(at(ex, day1, 10, 0, 0), 100),
		bar(at(ex, day1, 11, 0, 0), 90),
		bar(at(ex, day1, 17, 0, 0), 1), // after hours, swept
	}
	if n := g.AddAll(pts); n != 2 {
		t.Fatalf("expected 2 kept, got %d", n)
	}
	if g.Highest().LastPrice() != model.PriceOf(100) {
		t.Errorf("expected highest 100, got %s", g.Highest().LastPrice())
	}
	if g.Lowest().LastPrice() != model.PriceOf(90) {
		t.Errorf("expected lowest 90, got %s", g.Lowest().LastPrice())
	}
}

func TestGraph_SubSetSwapsArguments(t *testing.T) {
	g, ex := newTestGraph()
	var pts []*Point
	for i := 0; i < 5; i++ {
		p := bar(at(ex, day1, 10, i, 0), int64(100+i))
		pts = append(pts, p)
		g.Add(p)
	}
	fwd := g.SubSet(pts[1], pts[3], true, true)
	rev := g.SubSet(pts[3], pts[1], true, true)
	if fwd.Len() != 3 || rev.Len() != 3 {
		t.Fatalf("expected 3 and 3, got %d and %d", fwd.Len(), rev.Len())
	}
	if rev.First() != pts[1] || rev.Last() != pts[3] {
		t.Errorf("swapped range wrong: %s..%s", rev.First(), rev.Last())
	}
	if n := g.SubSet(pts[1], pts[3], false, false).Len(); n != 1 {
		t.Errorf("expected exclusive range of 1, got %d", n)
	}
}

func TestGraph_HigherHighsFromLatestLowOfDay(t *testing.T) {
	g, ex := newTestGraph()
	wap := []int64{105, 110, 103, 108, 100, 102}
	cl := []int64{105, 110, 103, 108, 100, 102}
	var pts []*Point
	for i := range wap {
		p := barWAP(at(ex, day1, 10, i, 0), cl[i], wap[i])
		pts = append(pts, p)
		g.Add(p)
	}
	got := g.HigherHighsFromLatestLowOfDay()
	want := []*Point{pts[3], pts[1]}
	if len(got) != len(want) {
		t.Fatalf("expected %d higher highs, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("higher high %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestGraph_StoreHistoricDataReplacesRange(t *testing.T) {
	g, ex := newTestGraph()
	for i := 0; i < 10; i++ {
		g.Add(NewQuotePoint(KindBid, 1, at(ex, day1, 10, i, 0), model.PriceOf(100), 1))
	}
	hist := []*Point{
		bar(at(ex, day1, 10, 2, 0), 101),
		bar(at(ex, day1, 10, 5, 0), 103),
	}
	if n := g.StoreHistoricData(hist); n != 2 {
		t.Fatalf("expected 2 stored, got %d", n)
	}
	// 10:02..10:05 held four bids; they are gone, two bars took their place.
	if g.Len() != 8 {
		t.Errorf("expected 8 points, got %d", g.Len())
	}
	if g.Highest() != hist[1] {
		t.Errorf("expected highest %s, got %s", hist[1], g.Highest())
	}
	if g.StoreHistoricData(nil) != 0 {
		t.Error("expected empty store to be a no-op")
	}
}

func TestGraph_StoreHistoricDataCallsHooks(t *testing.T) {
	g, ex := newTestGraph()
	var added []*Point
	var rejected []RejectReason
	g.OnAdd = func(p *Point) { added = append(added, p) }
	g.OnReject = func(_ *Point, r RejectReason) { rejected = append(rejected, r) }

	kept := bar(at(ex, day1, 10, 0, 0), 100)
	hist := []*Point{
		kept,
		bar(at(ex, day1, 10, 0, 0), 101), // same timestamp as kept
		bar(at(ex, day1, 17, 0, 0), 102),
		nil,
	}
	if n := g.StoreHistoricData(hist); n != 1 {
		t.Fatalf("expected 1 stored, got %d", n)
	}
	if len(added) != 1 || added[0] != kept {
		t.Errorf("expected OnAdd for %s, got %v", kept, added)
	}
	if len(rejected) != 2 || rejected[0] != RejectOutOfHours || rejected[1] != RejectDuplicate {
		t.Errorf("expected out-of-hours then duplicate rejections, got %v", rejected)
	}
}

func TestGraph_ReplicateIsIndependent(t *testing.T) {
	g, ex := newTestGraph()
	g.Add(bar(at(ex, day1, 10, 0, 0), 100))
	g.SetPreviousClose(bar(at(ex, day1-1, 15, 59, 0), 99))
	g.SetTradingDays(markethours.NewCalendar(day1))

	r := g.Replicate()
	if r.Len() != 0 {
		t.Fatalf("expected empty replica, got %d points", r.Len())
	}
	if r.Security() != g.Security() || r.PreviousClose() != g.PreviousClose() {
		t.Error("replica lost metadata")
	}
	if !r.TradingDays().Contains(day1) {
		t.Error("replica lost trading days")
	}
	r.Add(bar(at(ex, day1, 11, 0, 0), 50))
	if g.Len() != 1 {
		t.Errorf("replica mutation leaked into original: %d points", g.Len())
	}
}

func TestGraph_ArchiveDay(t *testing.T) {
	g, ex := newTestGraph()
	last := bar(at(ex, day1, 15, 59, 0), 101)
	g.AddAll([]*Point{bar(at(ex, day1, 10, 0, 0), 100), last, bar(at(ex, day2, 10, 0, 0), 105)})

	arch := g.ArchiveDay(day1)
	if arch == nil || arch.Len() != 2 {
		t.Fatalf("expected archive of 2 points, got %v", arch)
	}
	if g.Len() != 1 {
		t.Errorf("expected 1 live point, got %d", g.Len())
	}
	if g.PreviousClose() != last {
		t.Errorf("expected previous close %s, got %s", last, g.PreviousClose())
	}
	if got, ok := g.PreviousDayGraph(day1); !ok || got != arch {
		t.Error("archive not retrievable")
	}
	if days := g.PreviousDays(); len(days) != 1 || days[0] != day1 {
		t.Errorf("expected [%d], got %v", day1, days)
	}
	if g.ArchiveDay(day3) != nil {
		t.Error("expected nil archive for empty day")
	}
}

func TestGraph_SyntheticGapFill(t *testing.T) {
	g, ex := newTestGraph()
	first := bar(at(ex, day1, 9, 30, 0), 100)
	g.Add(first)
	hi, lo := g.Highest().LastPrice(), g.Lowest().LastPrice()

	syn := first.Advance(750 * time.Millisecond)
	if syn.Kind != KindSynthetic || syn.Timestamp != first.Timestamp+750 {
		t.Fatalf("unexpected synthetic point %s", syn)
	}
	if !g.Add(syn) {
		t.Fatal("synthetic point rejected")
	}
	if g.Len() != 2 {
		t.Errorf("expected 2 points, got %d", g.Len())
	}
	if g.Highest() != first {
		t.Error("highest moved on an equal price")
	}
	if g.Highest().LastPrice() != hi || g.Lowest().LastPrice() != lo {
		t.Error("extreme prices changed")
	}
}

func TestGraph_ConcurrentAddAndRead(t *testing.T) {
	g, ex := newTestGraph()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				g.Add(bar(at(ex, day1, 10+w, i, 0), int64(100+i%7)))
				_ = g.Points().Len()
				_ = g.Highest()
			}
		}(w)
	}
	wg.Wait()
	if g.Len() != 200 {
		t.Errorf("expected 200 points, got %d", g.Len())
	}
	if g.Highest().LastPrice() != model.PriceOf(106) {
		t.Errorf("expected highest 106, got %s", g.Highest().LastPrice())
	}
}

func TestGraph_DaysAndDayPoints(t *testing.T) {
	g, ex := newTestGraph()
	g.AddAll([]*Point{
		bar(at(ex, day1, 10, 0, 0), 100),
		bar(at(ex, day1, 11, 0, 0), 100),
		bar(at(ex, day3, 10, 0, 0), 100),
	})
	days := g.Days()
	if len(days) != 2 || days[0] != day1 || days[1] != day3 {
		t.Errorf("expected [%d %d], got %v", day1, day3, days)
	}
	if n := g.DayPoints(day1).Len(); n != 2 {
		t.Errorf("expected 2 points on day1, got %d", n)
	}
}
