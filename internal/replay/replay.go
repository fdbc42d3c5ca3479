// Package replay reads stored points from SQLite and emits them at a
// configurable speed, for offline resolution runs and backtests.
package replay

import (
	"context"
	"log"
	"sort"
	"time"

	"putup-system/internal/graph"
	"putup-system/internal/ingest"
	"putup-system/internal/model"
	sqlitestore "putup-system/internal/store/sqlite"
)

// PointReader is the part of the SQLite reader the replayer needs.
type PointReader interface {
	ReadPoints(ctx context.Context, sec model.Security, fromMs, toMs int64) ([]*graph.Point, error)
}

var _ PointReader = (*sqlitestore.Reader)(nil)

// Replayer replays stored points of several securities in time order.
type Replayer struct {
	reader PointReader
}

// New creates a Replayer backed by a point reader.
func New(reader PointReader) *Replayer {
	return &Replayer{reader: reader}
}

// Run emits every stored point of secs in [fromMs, toMs] into out.
// speed controls the playback rate: 1.0 = real-time, 10.0 = 10x, 0 = as
// fast as possible. It returns the number of samples emitted.
func (r *Replayer) Run(ctx context.Context, secs []model.Security, fromMs, toMs int64, speed float64, out chan<- ingest.Sample) (int, error) {
	var all []ingest.Sample
	for _, sec := range secs {
		pts, err := r.reader.ReadPoints(ctx, sec, fromMs, toMs)
		if err != nil {
			return 0, err
		}
		for _, p := range pts {
			all = append(all, ingest.Sample{Security: sec, Point: p})
		}
	}

	if len(all) == 0 {
		log.Println("[replay] no points found in SQLite")
		return 0, nil
	}

	// securities interleave
	sort.SliceStable(all, func(i, j int) bool { return all[i].Point.Timestamp < all[j].Point.Timestamp })

	log.Printf("[replay] loaded %d points across %d securities, speed=%.1fx", len(all), len(secs), speed)

	var prevTS int64
	emitted := 0
	for _, s := range all {
		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d points", emitted)
			return emitted, ctx.Err()
		default:
		}

		if speed > 0 && prevTS != 0 {
			if gap := time.Duration(s.Point.Timestamp-prevTS) * time.Millisecond; gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				if scaled > 5*time.Second {
					scaled = 5 * time.Second
				}
				select {
				case <-ctx.Done():
					return emitted, ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prevTS = s.Point.Timestamp

		select {
		case out <- s:
		case <-ctx.Done():
			return emitted, ctx.Err()
		}
		emitted++
	}

	log.Printf("[replay] completed: %d points replayed", emitted)
	return emitted, nil
}
