// cmd/replay replays one stored trading day of a security from SQLite into a
// fresh putup and resolves its Y-lines offline, without a live feed.
//
// Usage:
//
//	go run ./cmd/replay --ticker=AAPL --market=NYSE --day=20260105 --speed=0
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"putup-system/config"
	"putup-system/internal/graph"
	"putup-system/internal/historic"
	"putup-system/internal/ingest"
	"putup-system/internal/logger"
	"putup-system/internal/model"
	"putup-system/internal/putup"
	"putup-system/internal/replay"
	sqlitestore "putup-system/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	// Flags
	cfgPath := flag.String("config", "config.yaml", "Path to the YAML config file (exchanges)")
	dbPath := flag.String("db", "", "Path to SQLite database (default: sqlite.path from config)")
	ticker := flag.String("ticker", "", "Ticker to replay")
	market := flag.String("market", "NYSE", "Exchange of the ticker")
	dayFlag := flag.Int("day", 0, "Day code YYYYMMDD to replay (0=last stored day)")
	lookback := flag.Int("lookback", 5, "Archived days included in the line search")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	save := flag.Bool("save", false, "Store resolved lines in the ylines table")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	if *ticker == "" {
		log.Fatal("[replay] --ticker is required")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[replay] config: %v", err)
	}
	if *dbPath == "" {
		*dbPath = cfg.SQLite.Path
	}
	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slogger := logger.InitWriter(os.Stderr, "replay", level)

	sec := model.Security{Ticker: *ticker, Market: *market}
	ex, err := cfg.Exchange(sec.Market)
	if err != nil {
		log.Fatalf("[replay] %v", err)
	}

	// Setup context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// Open SQLite
	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Fatalf("[replay] sqlite open failed: %v", err)
	}
	defer reader.Close()

	day := *dayFlag
	if day == 0 {
		last, err := reader.LastTimestamp(ctx, sec)
		if err != nil {
			log.Fatalf("[replay] %v", err)
		}
		if last == 0 {
			log.Fatalf("[replay] no stored points for %s", sec.Key())
		}
		day = ex.DayCode(last)
	}

	// The replayed day must be a past day for the search, so the clock
	// stands at the open of the next trading day.
	next := ex.NextDay(day)
	for !ex.IsTradingDay(next) {
		next = ex.NextDay(next)
	}
	clock := time.UnixMilli(ex.Open(next))

	// Extra windows requested by the resolver are served from the points
	// replayed so far plus the archived days.
	src := historic.NewMemorySource()
	queue := historic.NewQueue(src, 2, 16, slogger)
	queue.Start(ctx)
	defer queue.Stop()

	rt := putup.NewRuntime(queue, nil, slogger)
	rt.Now = func() time.Time { return clock }

	opts := []putup.Option{putup.WithLookbackDays(*lookback)}
	if *save {
		w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath})
		if err != nil {
			log.Fatalf("[replay] sqlite writer: %v", err)
		}
		defer w.Close()
		opts = append(opts, putup.WithPublisher(w))
	}
	p := putup.New(rt, sec, ex, opts...)

	// Archived days before the replayed one
	days, err := reader.GraphDays(ctx, sec)
	if err != nil {
		log.Fatalf("[replay] %v", err)
	}
	for _, d := range days {
		if d >= day {
			continue
		}
		g, err := reader.LoadGraph(ctx, sec, d, ex)
		if err != nil {
			log.Printf("[replay] skipping archived day %d: %v", d, err)
			continue
		}
		p.Graph().AddPreviousDayGraph(d, g)
		src.Load(sec.Key(), g.Points().Points()...)
	}

	// Replay in background
	sampleCh := make(chan ingest.Sample, 10000)
	replayer := replay.New(reader)
	go func() {
		if _, err := replayer.Run(ctx, []model.Security{sec}, ex.Open(day), ex.Close(day), *speed, sampleCh); err != nil {
			log.Printf("[replay] replay error: %v", err)
		}
		close(sampleCh)
	}()

	pointCh := make(chan *graph.Point, 10000)
	go func() {
		defer close(pointCh)
		for s := range sampleCh {
			src.Load(sec.Key(), s.Point)
			pointCh <- s.Point
		}
	}()
	if err := p.Ingest(ctx, pointCh); err != nil {
		log.Fatalf("[replay] ingest: %v", err)
	}

	start := time.Now()
	run, err := p.FindYLines(ctx)
	if err != nil {
		log.Fatalf("[replay] %v", err)
	}

	// Print summary
	fmt.Printf("%s %d  trace=%s\n", sec.Key(), day, run.TraceID)
	fmt.Printf("  points:      %d (+%d archived days)\n", p.Graph().Len(), len(p.Graph().PreviousDays()))
	fmt.Printf("  provisional: %d\n", len(run.Provisional))
	fmt.Printf("  filtered:    %d\n", len(run.Filtered))
	for _, r := range run.Results {
		fmt.Printf("  master %s -> %s (fetches=%d)\n", fmtPoint(r.Master, ex.Location), r.Outcome, r.Fetches)
	}
	fmt.Printf("  y-lines:     %d (%s)\n", len(run.Lines), time.Since(start).Truncate(time.Millisecond))
	for _, l := range run.Lines {
		grad, err := l.Gradient()
		gs := "n/a"
		if err == nil {
			gs = fmt.Sprintf("%.6f", grad)
		}
		fmt.Printf("    %s -> %s  gradient=%s\n",
			fmtPoint(l.EffectiveC(), ex.Location), fmtPoint(l.EffectiveE(), ex.Location), gs)
	}
}

func fmtPoint(p *graph.Point, loc *time.Location) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%s@%s", p.Close, time.UnixMilli(p.Timestamp).In(loc).Format("2006-01-02 15:04:05"))
}
