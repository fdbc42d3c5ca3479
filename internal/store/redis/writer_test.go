package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"putup-system/internal/graph"
	"putup-system/internal/markethours"
	"putup-system/internal/model"
)

var sec = model.Security{Ticker: "AAPL", Market: "NYSE"}

// deadWriter points at a port nothing listens on, so every call fails fast.
func deadWriter(t *testing.T, maxFailures int) *Writer {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })
	return NewWriter(client, NewCircuitBreaker(maxFailures, time.Hour), "test:")
}

func testLines(t *testing.T) []*graph.TrendLine {
	t.Helper()
	ex := markethours.NYSE()
	g := graph.New(sec, ex)
	mk := func(h int, units int64) *graph.Point {
		p := model.PriceOf(units)
		ts := ex.Date(20260105).Add(time.Duration(h) * time.Hour).UnixMilli()
		return graph.NewBarPoint(graph.KindHistoric, 0, ts, p, p, p, p, p, 1, 1, false)
	}
	c, e, s := mk(10, 100), mk(11, 95), mk(12, 92)
	g.AddAll([]*graph.Point{c, e, s})
	l, err := graph.NewTrendLine(c, e, g)
	if err != nil {
		t.Fatalf("NewTrendLine: %v", err)
	}
	sub := l.Clone()
	sub.SetStandInE(s)
	return []*graph.TrendLine{l, sub}
}

func TestNewYLineSet(t *testing.T) {
	set := NewYLineSet(sec, 42, testLines(t))
	if set.Security != sec.Key() || set.ResolvedAt != 42 {
		t.Errorf("unexpected header %+v", set)
	}
	if len(set.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(set.Lines))
	}
	if set.Lines[0].StandIn || !set.Lines[1].StandIn {
		t.Error("expected only the second line marked as substituted")
	}
	if set.Lines[1].EPrice != model.PriceOf(92) {
		t.Errorf("expected effective E 92, got %s", set.Lines[1].EPrice)
	}
	if g := set.Lines[0].Gradient; g == nil || *g >= 0 {
		t.Errorf("expected a negative gradient, got %v", g)
	}
}

func TestKeys(t *testing.T) {
	k := newKeys("")
	cases := []struct{ got, want string }{
		{k.snapshot(sec), "putup:snapshot:NYSE:AAPL"},
		{k.ylines(sec), "putup:ylines:NYSE:AAPL"},
		{k.ylineChannel(), "putup:pub:ylines"},
		{k.archive(sec, 20260105), "putup:graph:NYSE:AAPL:20260105"},
		{k.pointStream(sec), "putup:points:NYSE:AAPL"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("expected %s, got %s", tc.want, tc.got)
		}
	}
}

func TestWriter_TripsBreakerWhenRedisIsDown(t *testing.T) {
	w := deadWriter(t, 2)
	var writes int
	w.OnWrite = func(_ time.Duration, err error) {
		if err == nil {
			t.Error("expected a failing write")
		}
		writes++
	}
	ctx := context.Background()
	lines := testLines(t)

	for i := 0; i < 2; i++ {
		err := w.PublishYLines(ctx, sec, lines)
		if err == nil || errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("call %d: expected a connection error, got %v", i, err)
		}
	}
	if err := w.SaveSnapshot(ctx, sec, nil); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if _, err := w.LoadSnapshot(ctx, sec); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen from load, got %v", err)
	}
	if writes != 2 {
		t.Errorf("expected 2 attempts to reach redis, got %d", writes)
	}
	if w.Breaker().CurrentState() != StateOpen {
		t.Errorf("expected Open, got %v", w.Breaker().CurrentState())
	}
}

func TestBufferedWriter_HoldsWritesWhileOpen(t *testing.T) {
	w := deadWriter(t, 1)
	bw := NewBufferedWriter(context.Background(), w, 2)
	buffered := 0
	bw.OnBuffer = func() { buffered++ }
	ctx := context.Background()
	lines := testLines(t)

	// first call reaches redis and trips the breaker
	if err := bw.PublishYLines(ctx, sec, lines); err == nil {
		t.Fatal("expected the first call to fail")
	}
	for i := 0; i < 3; i++ {
		if err := bw.PublishYLines(ctx, sec, lines); err != nil {
			t.Fatalf("expected buffered publish, got %v", err)
		}
	}
	if err := bw.SaveSnapshot(ctx, sec, nil); err != nil {
		t.Fatalf("expected buffered snapshot, got %v", err)
	}
	if bw.PendingCount() != 2 {
		t.Errorf("expected 2 pending keys, got %d", bw.PendingCount())
	}
	if buffered != 4 {
		t.Errorf("expected 4 buffered writes, got %d", buffered)
	}

	// a third key evicts the oldest
	if err := bw.SaveSnapshot(ctx, model.Security{Ticker: "MSFT", Market: "NYSE"}, nil); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if bw.PendingCount() != 2 {
		t.Errorf("expected buffer capped at 2, got %d", bw.PendingCount())
	}
	bw.mu.Lock()
	_, hasYLines := bw.buffer[w.keys.ylines(sec)]
	bw.mu.Unlock()
	if hasYLines {
		t.Error("expected the oldest key to be evicted")
	}
}
