package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the Y-line daemon.
type Metrics struct {
	// Graph ingestion
	PointsTotal    *prometheus.CounterVec // labels: kind
	PointsRejected *prometheus.CounterVec // labels: reason
	GraphPoints    *prometheus.GaugeVec   // labels: security
	SyntheticFills prometheus.Counter
	FeedReconnects prometheus.Counter

	// Backpressure
	FanoutDropsTotal *prometheus.CounterVec // labels: subscriber

	// Persistence
	SQLiteCommitDur prometheus.Histogram
	RedisWriteDur   prometheus.Histogram

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	// Historic data
	HistoricFetchDur    prometheus.Histogram
	HistoricFetchErrors prometheus.Counter

	// Y-line resolution
	ResolveDur      prometheus.Histogram
	ResolveOutcomes *prometheus.CounterVec // labels: outcome
	ResolveFetches  prometheus.Counter
	YLinesPublished prometheus.Counter
	DayRollovers    prometheus.Counter
	MarketState     *prometheus.GaugeVec // labels: exchange; 0=closed, 1=open
}

// NewMetrics creates the metrics and registers them on reg. A nil reg means
// the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		PointsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ylined_points_total",
			Help: "Points accepted into graphs (by kind)",
		}, []string{"kind"}),
		PointsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ylined_points_rejected_total",
			Help: "Points rejected by graphs (out_of_hours, duplicate)",
		}, []string{"reason"}),
		GraphPoints: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ylined_graph_points",
			Help: "Points currently held per security graph",
		}, []string{"security"}),
		SyntheticFills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ylined_synthetic_fills_total",
			Help: "Synthetic points emitted to fill silent seconds",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ylined_feed_reconnects_total",
			Help: "Bar feed WebSocket reconnection attempts",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ylined_fanout_drops_total",
			Help: "Points dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),

		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ylined_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ylined_redis_write_duration_seconds",
			Help:    "Redis write latency",
			Buckets: prometheus.DefBuckets,
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ylined_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ylined_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		HistoricFetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ylined_historic_fetch_duration_seconds",
			Help:    "Historic range fetch latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		HistoricFetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ylined_historic_fetch_errors_total",
			Help: "Historic range fetches that failed",
		}),

		ResolveDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ylined_resolve_duration_seconds",
			Help:    "Duration of one Y-line resolution pass",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120},
		}),
		ResolveOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ylined_resolve_outcomes_total",
			Help: "Resolution outcomes per master point",
		}, []string{"outcome"}),
		ResolveFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ylined_resolve_fetches_total",
			Help: "Extra historic windows requested for indeterminate verdicts",
		}),
		YLinesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ylined_ylines_published_total",
			Help: "Finalized Y-lines published",
		}),
		DayRollovers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ylined_day_rollovers_total",
			Help: "Day archives performed",
		}),
		MarketState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ylined_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}, []string{"exchange"}),
	}

	reg.MustRegister(
		m.PointsTotal,
		m.PointsRejected,
		m.GraphPoints,
		m.SyntheticFills,
		m.FeedReconnects,
		m.FanoutDropsTotal,
		m.SQLiteCommitDur,
		m.RedisWriteDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.HistoricFetchDur,
		m.HistoricFetchErrors,
		m.ResolveDur,
		m.ResolveOutcomes,
		m.ResolveFetches,
		m.YLinesPublished,
		m.DayRollovers,
		m.MarketState,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastPointTime  time.Time `json:"last_point_time"`
	LastResolveAt  time.Time `json:"last_resolve_at"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastPointTime(t time.Time) {
	h.mu.Lock()
	h.LastPointTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastResolveAt(t time.Time) {
	h.mu.Lock()
	h.LastResolveAt = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint. SQLite is required; Redis and
// the live feed only degrade the status.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.FeedConnected || !h.RedisConnected {
		overallStatus = "degraded"
	}
	if !h.SQLiteOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	pointAge := ""
	if !h.LastPointTime.IsZero() {
		pointAge = time.Since(h.LastPointTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		FeedConnected   bool    `json:"feed_connected"`
		LastPointTime   string  `json:"last_point_time"`
		PointAge        string  `json:"point_age"`
		LastResolveAt   string  `json:"last_resolve_at"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		LastPointTime:   h.LastPointTime.Format(time.RFC3339),
		PointAge:        pointAge,
		LastResolveAt:   h.LastResolveAt.Format(time.RFC3339),
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
