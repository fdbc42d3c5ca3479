package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"putup-system/config"
	"putup-system/internal/graph"
	"putup-system/internal/historic"
	"putup-system/internal/ingest"
	"putup-system/internal/logger"
	"putup-system/internal/markethours"
	"putup-system/internal/metrics"
	"putup-system/internal/model"
	"putup-system/internal/putup"
	"putup-system/internal/resolver"
	redisstore "putup-system/internal/store/redis"
	sqlitestore "putup-system/internal/store/sqlite"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "Path to the YAML config file")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[ylined] starting...")

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[ylined] config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[ylined] config: %v", err)
	}
	slogger := logger.Init(cfg.Service, logger.ParseLevel(cfg.LogLevel))

	// ---- Context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.Metrics.Addr, health)
	metricsSrv.Start()

	// ---- SQLite: points, archived days, finalized lines ----
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLite.Path})
	if err != nil {
		log.Fatalf("[ylined] sqlite init failed: %v", err)
	}
	defer sqlWriter.Close()
	sqlWriter.OnCommit = func(_ int, d time.Duration, err error) {
		prom.SQLiteCommitDur.Observe(d.Seconds())
		health.SetSQLiteOK(err == nil)
	}
	sqlReader, err := sqlitestore.NewReader(cfg.SQLite.Path)
	if err != nil {
		log.Fatalf("[ylined] sqlite reader init failed: %v", err)
	}
	defer sqlReader.Close()
	health.SetSQLiteOK(true)
	log.Println("[ylined] sqlite ready")

	// ---- Redis: snapshots + Y-line publication (optional) ----
	var redisWriter *redisstore.BufferedWriter
	if cfg.Redis.Enabled {
		cb := redisstore.NewCircuitBreaker(5, 30*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
			log.Printf("[ylined] redis circuit %s -> %s", from, to)
		}
		w, err := redisstore.New(redisstore.WriterConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, cb)
		if err != nil {
			log.Printf("[ylined] WARNING: redis init failed: %v (continuing without redis)", err)
			health.SetRedisConnected(false)
		} else {
			w.OnWrite = func(d time.Duration, _ error) {
				prom.RedisWriteDur.Observe(d.Seconds())
			}
			redisWriter = redisstore.NewBufferedWriter(ctx, w, 1000)
			redisWriter.OnFlush = func(n int) {
				log.Printf("[ylined] redis back, replayed %d writes", n)
			}
			defer redisWriter.Close()
			health.SetRedisConnected(true)
			log.Println("[ylined] redis writer ready")
		}
	}

	if redisWriter != nil {
		health.StartLivenessChecker(ctx, redisWriter.Client(), sqlWriter.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, sqlWriter.DB(), 10*time.Second)
	}

	// ---- Historic queue over stored points ----
	queue := historic.NewQueue(sqlReader.Source(), cfg.Historic.Workers, cfg.Historic.Backlog, slogger)
	queue.Start(ctx)
	defer queue.Stop()

	rt := putup.NewRuntime(queue, prom, slogger)
	rt.Resolver = resolver.Config{
		Window:      cfg.Resolver.Window,
		WaitTimeout: cfg.Resolver.WaitTimeout,
		MaxFetches:  cfg.Resolver.MaxFetches,
		BarSize:     time.Second,
	}

	// ---- Putups ----
	exchanges := map[string]*markethours.Exchange{}
	var putups []*putup.Putup
	for _, pc := range cfg.Putups {
		ex, err := cfg.Exchange(pc.Market)
		if err != nil {
			log.Fatalf("[ylined] %s: %v", pc.Key(), err)
		}
		exchanges[pc.Market] = ex

		opts := []putup.Option{
			putup.WithLookbackDays(pc.LookbackDays),
			putup.WithArchive(sqlWriter),
			putup.WithPublisher(sqlWriter),
		}
		if redisWriter != nil {
			opts = append(opts, putup.WithArchive(redisWriter), putup.WithPublisher(redisWriter))
		}
		p := putup.New(rt, pc.Security, ex, opts...)
		restore(ctx, p, sqlReader, redisWriter, slogger)
		putups = append(putups, p)
	}
	log.Printf("[ylined] %d putups ready", len(putups))

	// ---- Fan-out: SQLite, Redis, health tap and one graph per putup ----
	samples := make(chan ingest.Sample, cfg.Feed.BufferSize)
	tickCh := make(chan model.Tick, cfg.Feed.BufferSize)

	fanout := ingest.NewFanOut(cfg.Feed.BufferSize)
	fanout.OnDrop = func(name string) {
		prom.FanoutDropsTotal.WithLabelValues(name).Inc()
	}
	sqliteCh := fanout.Subscribe("sqlite")
	var redisCh <-chan ingest.Sample
	if redisWriter != nil {
		redisCh = fanout.Subscribe("redis")
	}
	healthCh := fanout.Subscribe("health")

	var wg sync.WaitGroup
	for _, p := range putups {
		in := ingest.Points(ctx, fanout.SubscribeSecurity("putup:"+p.Security().Key(), p.Security()))
		wg.Add(1)
		go func(p *putup.Putup) {
			defer wg.Done()
			if err := p.Ingest(ctx, in); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[ylined] %s ingest stopped: %v", p.Security().Key(), err)
			}
		}(p)
	}

	go fanout.Run(ctx, samples)
	go sqlWriter.Run(ctx, sqliteCh)
	if redisCh != nil {
		go redisWriter.Run(ctx, redisCh)
	}
	go func() {
		for range healthCh {
			health.SetLastPointTime(time.Now())
		}
	}()

	// ---- Aggregator (ticks -> 1s bars) ----
	aggregator := ingest.NewAggregator()
	aggregator.OnDroppedTick = func() {
		log.Println("[ylined] late tick dropped")
	}
	aggregator.OnSynthetic = prom.SyntheticFills.Inc
	go aggregator.Run(ctx, tickCh, samples)

	// ---- Bar feed ----
	if cfg.Feed.URL != "" {
		feed, err := ingest.NewFeed(ingest.FeedConfig{
			URL:               cfg.Feed.URL,
			ReconnectDelay:    cfg.Feed.ReconnectDelay,
			MaxReconnectDelay: cfg.Feed.MaxReconnectDelay,
			Exchanges:         exchanges,
		})
		if err != nil {
			log.Fatalf("[ylined] feed init failed: %v", err)
		}
		feed.OnConnect = func() { health.SetFeedConnected(true) }
		feed.OnReconnect = func() {
			health.SetFeedConnected(false)
			prom.FeedReconnects.Inc()
		}
		go func() {
			if err := feed.Start(ctx, samples, tickCh); err != nil {
				log.Printf("[ylined] feed error: %v", err)
			}
			health.SetFeedConnected(false)
		}()
		log.Printf("[ylined] feed source: %s", cfg.Feed.URL)
	} else {
		log.Println("[ylined] no feed url configured, running on stored data only")
	}

	// ---- Scheduler ----
	sched := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	mustSchedule(sched, cfg.Schedule.RolloverCron, func() {
		for _, p := range putups {
			rollover(ctx, p)
		}
	})
	mustSchedule(sched, cfg.Schedule.ResolveCron, func() {
		for _, p := range putups {
			runCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
			if _, err := p.FindYLines(runCtx); err != nil {
				log.Printf("[ylined] %s: %v", p.Security().Key(), err)
			}
			cancel()
		}
		health.SetLastResolveAt(time.Now())
	})
	if redisWriter != nil {
		mustSchedule(sched, cfg.Schedule.SnapshotCron, func() {
			for _, p := range putups {
				if err := redisWriter.SaveSnapshot(ctx, p.Security(), p.Snapshot()); err != nil {
					log.Printf("[ylined] %s snapshot: %v", p.Security().Key(), err)
				}
			}
		})
	}
	mustSchedule(sched, "0 * * * * *", func() {
		now := time.Now()
		for name, ex := range exchanges {
			state := 0.0
			if ex.IsMarketOpen(now) {
				state = 1
			}
			prom.MarketState.WithLabelValues(name).Set(state)
		}
	})
	sched.Start()

	for _, ex := range exchanges {
		log.Printf("[ylined] %s", ex.StatusString(time.Now()))
	}
	log.Printf("[ylined] running: rollover=%q resolve=%q", cfg.Schedule.RolloverCron, cfg.Schedule.ResolveCron)

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[ylined] shutdown signal received, cleaning up...")
	<-sched.Stop().Done()
	cancel()
	wg.Wait()

	// final snapshot so a restart resumes the live graph
	if redisWriter != nil {
		snapCtx, snapCancel := context.WithTimeout(context.Background(), 5*time.Second)
		for _, p := range putups {
			if err := redisWriter.Writer.SaveSnapshot(snapCtx, p.Security(), p.Snapshot()); err != nil {
				log.Printf("[ylined] %s final snapshot: %v", p.Security().Key(), err)
			}
		}
		snapCancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	log.Println("[ylined] shutdown complete.")
}

func mustSchedule(c *cron.Cron, spec string, job func()) {
	if _, err := c.AddFunc(spec, job); err != nil {
		log.Fatalf("[ylined] bad cron spec %q: %v", spec, err)
	}
}

// rollover archives every live day that has ended: days before today, and
// today once the session has closed.
func rollover(ctx context.Context, p *putup.Putup) {
	ex := p.Graph().Exchange()
	today := p.CurrentDay()
	closed := time.Now().UnixMilli() > ex.Close(today)
	for _, day := range p.Graph().Days() {
		if day > today || (day == today && !closed) {
			continue
		}
		if err := p.Rollover(ctx, day); err != nil {
			log.Printf("[ylined] %s rollover %d: %v", p.Security().Key(), day, err)
		}
	}
}

// restore loads archived days from SQLite and the live graph snapshot from
// Redis, so a restart keeps the search window.
func restore(ctx context.Context, p *putup.Putup, r *sqlitestore.Reader, w *redisstore.BufferedWriter, l *slog.Logger) {
	l = logger.Component(l, "restore").With("security", p.Security().Key())
	sec := p.Security()
	ex := p.Graph().Exchange()
	today := p.CurrentDay()

	days, err := r.GraphDays(ctx, sec)
	if err != nil {
		l.Warn("listing archived days failed", "error", err)
	}
	for _, day := range days {
		if day >= today {
			continue
		}
		g, err := r.LoadGraph(ctx, sec, day, ex)
		if err != nil {
			l.Warn("loading archived day failed", "day", day, "error", err)
			continue
		}
		p.Graph().AddPreviousDayGraph(day, g)
	}

	if w == nil {
		l.Info("restored", "archived_days", len(p.Graph().PreviousDays()))
		return
	}
	tuples, err := w.LoadSnapshot(ctx, sec)
	switch {
	case errors.Is(err, redisstore.ErrNoSnapshot):
	case err != nil:
		l.Warn("loading snapshot failed", "error", err)
	default:
		live, err := graph.Decode(tuples, ex)
		if err != nil {
			l.Warn("decoding snapshot failed", "error", err)
			break
		}
		p.Graph().AddAll(live.Points().Points())
	}
	l.Info("restored", "archived_days", len(p.Graph().PreviousDays()), "live_points", p.Graph().Len())
}
