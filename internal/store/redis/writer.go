// Package redis keeps live state of each putup in Redis: a stream of
// ingested points, graph snapshots, archived days and the latest finalized
// Y-lines. Every call goes through a circuit breaker.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"putup-system/internal/graph"
	"putup-system/internal/ingest"
	"putup-system/internal/model"
)

const (
	// one NYSE session of 1s bars plus buffer
	pointStreamMaxLen = 24000
	defaultLatestTTL  = 30 * time.Minute
	defaultArchiveTTL = 7 * 24 * time.Hour
	defaultPrefix     = "putup:"
)

// ErrNoSnapshot is returned when no snapshot is stored for a security.
var ErrNoSnapshot = errors.New("redis: no snapshot")

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	Prefix   string // key prefix, default "putup:"
}

// Writer writes points, snapshots and Y-lines to Redis.
type Writer struct {
	client *goredis.Client
	cb     *CircuitBreaker
	keys   keys

	// Now stamps published Y-line sets.
	Now func() time.Time

	// OnWrite is called after every call that reached Redis.
	OnWrite func(d time.Duration, err error)
}

// New creates a Writer and pings the server.
func New(cfg WriterConfig, cb *CircuitBreaker) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return NewWriter(client, cb, cfg.Prefix), nil
}

// NewWriter wraps an existing client without pinging it.
func NewWriter(client *goredis.Client, cb *CircuitBreaker, prefix string) *Writer {
	if cb == nil {
		cb = NewCircuitBreaker(5, 10*time.Second)
	}
	return &Writer{client: client, cb: cb, keys: newKeys(prefix), Now: time.Now}
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// Breaker returns the writer's circuit breaker.
func (w *Writer) Breaker() *CircuitBreaker { return w.cb }

// do runs fn through the breaker and reports its latency.
func (w *Writer) do(fn func() error) error {
	return w.cb.Execute(func() error {
		start := time.Now()
		err := fn()
		if w.OnWrite != nil {
			w.OnWrite(time.Since(start), err)
		}
		return err
	})
}

// Run writes samples to Redis until ctx is cancelled or in is closed.
func (w *Writer) Run(ctx context.Context, in <-chan ingest.Sample) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-in:
			if !ok {
				return
			}
			if err := w.WritePoint(ctx, s.Security, s.Point); err != nil && !errors.Is(err, ErrCircuitOpen) {
				log.Printf("[redis] write point %s: %v", s.Security.Key(), err)
			}
		}
	}
}

// WritePoint sets the latest point of sec, appends it to sec's stream and
// publishes it.
func (w *Writer) WritePoint(ctx context.Context, sec model.Security, p *graph.Point) error {
	data, err := json.Marshal(pointMsg{Security: sec.Key(), CSV: p.MarshalCSV()})
	if err != nil {
		return err
	}
	return w.do(func() error {
		pipe := w.client.Pipeline()
		pipe.Set(ctx, w.keys.latestPoint(sec), data, defaultLatestTTL)
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: w.keys.pointStream(sec),
			MaxLen: pointStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": data},
		})
		pipe.Publish(ctx, w.keys.pointChannel(sec), data)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// SaveSnapshot stores the tuples of sec's live graph.
func (w *Writer) SaveSnapshot(ctx context.Context, sec model.Security, tuples []graph.Tuple) error {
	data, err := json.Marshal(tuples)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return w.set(ctx, w.keys.snapshot(sec), "", data, 0)
}

// LoadSnapshot returns the stored snapshot tuples of sec.
func (w *Writer) LoadSnapshot(ctx context.Context, sec model.Security) ([]graph.Tuple, error) {
	var raw []byte
	err := w.do(func() error {
		var err error
		raw, err = w.client.Get(ctx, w.keys.snapshot(sec)).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis load snapshot %s: %w", sec.Key(), err)
	}
	if raw == nil {
		return nil, ErrNoSnapshot
	}
	var tuples []graph.Tuple
	if err := json.Unmarshal(raw, &tuples); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return tuples, nil
}

// SaveGraph stores the tuples of an archived day for a week.
func (w *Writer) SaveGraph(ctx context.Context, sec model.Security, day int, tuples []graph.Tuple) error {
	data, err := json.Marshal(tuples)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	return w.set(ctx, w.keys.archive(sec, day), "", data, defaultArchiveTTL)
}

// PublishYLines sets sec's latest Y-line set and publishes it on the
// Y-line channel.
func (w *Writer) PublishYLines(ctx context.Context, sec model.Security, lines []*graph.TrendLine) error {
	data, err := json.Marshal(NewYLineSet(sec, w.Now().UnixMilli(), lines))
	if err != nil {
		return fmt.Errorf("marshal ylines: %w", err)
	}
	return w.set(ctx, w.keys.ylines(sec), w.keys.ylineChannel(), data, 0)
}

// set writes data under key and, if channel is set, publishes it there.
func (w *Writer) set(ctx context.Context, key, channel string, data []byte, ttl time.Duration) error {
	return w.do(func() error {
		pipe := w.client.Pipeline()
		pipe.Set(ctx, key, data, ttl)
		if channel != "" {
			pipe.Publish(ctx, channel, data)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}

// keys builds the key layout under one prefix.
type keys struct {
	prefix string
}

func newKeys(prefix string) keys {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return keys{prefix: prefix}
}

func (k keys) latestPoint(sec model.Security) string {
	return k.prefix + "point:latest:" + sec.Key()
}

func (k keys) pointStream(sec model.Security) string {
	return k.prefix + "points:" + sec.Key()
}

func (k keys) pointChannel(sec model.Security) string {
	return k.prefix + "pub:points:" + sec.Key()
}

func (k keys) snapshot(sec model.Security) string {
	return k.prefix + "snapshot:" + sec.Key()
}

func (k keys) archive(sec model.Security, day int) string {
	return fmt.Sprintf("%sgraph:%s:%d", k.prefix, sec.Key(), day)
}

func (k keys) ylines(sec model.Security) string {
	return k.prefix + "ylines:" + sec.Key()
}

func (k keys) ylineChannel() string {
	return k.prefix + "pub:ylines"
}
