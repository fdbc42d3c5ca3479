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
	"putup-system/internal/model"
)

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Reader reads what Writer stores: latest points, point streams and
// Y-line sets.
type Reader struct {
	client *goredis.Client
	keys   keys
}

// NewReader creates a Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
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

	log.Printf("[redis-reader] connected to %s", cfg.Addr)
	return &Reader{client: client, keys: newKeys(cfg.Prefix)}, nil
}

// LatestYLines returns sec's last published Y-line set, or nil if none.
func (r *Reader) LatestYLines(ctx context.Context, sec model.Security) (*YLineSet, error) {
	raw, err := r.client.Get(ctx, r.keys.ylines(sec)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get ylines %s: %w", sec.Key(), err)
	}
	var set YLineSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("unmarshal ylines: %w", err)
	}
	return &set, nil
}

// LatestPoint returns sec's last written point, or nil if none is live.
func (r *Reader) LatestPoint(ctx context.Context, sec model.Security) (*graph.Point, error) {
	raw, err := r.client.Get(ctx, r.keys.latestPoint(sec)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get latest point %s: %w", sec.Key(), err)
	}
	return decodePoint(raw)
}

// RecentPoints returns up to n of sec's most recent stream points, oldest
// first.
func (r *Reader) RecentPoints(ctx context.Context, sec model.Security, n int64) ([]*graph.Point, error) {
	msgs, err := r.client.XRevRangeN(ctx, r.keys.pointStream(sec), "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("redis xrevrange %s: %w", sec.Key(), err)
	}
	out := make([]*graph.Point, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		data, _ := msgs[i].Values["data"].(string)
		p, err := decodePoint([]byte(data))
		if err != nil {
			log.Printf("[redis-reader] skip stream entry %s: %v", msgs[i].ID, err)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// SubscribeYLines forwards every published Y-line set to out until ctx is
// cancelled.
func (r *Reader) SubscribeYLines(ctx context.Context, out chan<- YLineSet) error {
	pubsub := r.client.Subscribe(ctx, r.keys.ylineChannel())
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("redis subscribe ylines: %w", err)
	}
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var set YLineSet
			if err := json.Unmarshal([]byte(msg.Payload), &set); err != nil {
				log.Printf("[redis-reader] bad yline message: %v", err)
				continue
			}
			select {
			case out <- set:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func decodePoint(raw []byte) (*graph.Point, error) {
	var m pointMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal point: %w", err)
	}
	return graph.ParsePointCSV(m.CSV)
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
