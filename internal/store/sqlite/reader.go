package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"putup-system/internal/graph"
	"putup-system/internal/historic"
	"putup-system/internal/markethours"
	"putup-system/internal/model"
)

// ErrNoGraph is returned by LoadGraph when no tuples are stored for the day.
var ErrNoGraph = errors.New("sqlite: no stored graph")

// Reader provides read-only access for backfill, replay and resolution.
type Reader struct {
	db *sqlx.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sqlx.Open("sqlite3", dbPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadPoints returns the stored points of sec with timestamps in
// [fromMs, toMs], in timestamp order.
func (r *Reader) ReadPoints(ctx context.Context, sec model.Security, fromMs, toMs int64) ([]*graph.Point, error) {
	var rows []pointRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT security, kind, request_id, ts, open, high, low, close, wap, volume, count, has_gaps, quote
		FROM points
		WHERE security = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, sec.Key(), fromMs, toMs)
	if err != nil {
		return nil, fmt.Errorf("sqlite query points: %w", err)
	}
	out := make([]*graph.Point, 0, len(rows))
	for _, row := range rows {
		p, err := row.point()
		if err != nil {
			return nil, fmt.Errorf("sqlite scan points: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

// LastTimestamp returns the last stored point time of sec, or 0.
func (r *Reader) LastTimestamp(ctx context.Context, sec model.Security) (int64, error) {
	var ts sql.NullInt64
	if err := r.db.GetContext(ctx, &ts, `SELECT MAX(ts) FROM points WHERE security = ?`, sec.Key()); err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// GraphDays returns the archived days stored for sec in ascending order.
func (r *Reader) GraphDays(ctx context.Context, sec model.Security) ([]int, error) {
	var days []int
	if err := r.db.SelectContext(ctx, &days,
		`SELECT DISTINCT day FROM graph_tuples WHERE security = ? ORDER BY day ASC`, sec.Key()); err != nil {
		return nil, fmt.Errorf("sqlite query graph days: %w", err)
	}
	return days, nil
}

// LoadGraph decodes the archived graph of sec's day. exchange may be nil.
func (r *Reader) LoadGraph(ctx context.Context, sec model.Security, day int, exchange *markethours.Exchange) (*graph.Graph, error) {
	var tuples []graph.Tuple
	err := r.db.SelectContext(ctx, &tuples, `
		SELECT entity, idx, field, value
		FROM graph_tuples
		WHERE security = ? AND day = ?
	`, sec.Key(), day)
	if err != nil {
		return nil, fmt.Errorf("sqlite query graph_tuples: %w", err)
	}
	if len(tuples) == 0 {
		return nil, ErrNoGraph
	}
	g, err := graph.Decode(tuples, exchange)
	if err != nil {
		return nil, fmt.Errorf("sqlite load graph %s/%d: %w", sec.Key(), day, err)
	}
	return g, nil
}

// LatestYLines returns the lines of sec's most recent resolution run.
func (r *Reader) LatestYLines(ctx context.Context, sec model.Security) ([]YLine, error) {
	var lines []YLine
	err := r.db.SelectContext(ctx, &lines, `
		SELECT id, security, resolved_at, c_ts, c_price, e_ts, e_price, stand_in, gradient
		FROM ylines
		WHERE security = ? AND resolved_at = (SELECT MAX(resolved_at) FROM ylines WHERE security = ?)
		ORDER BY id ASC
	`, sec.Key(), sec.Key())
	if err != nil {
		return nil, fmt.Errorf("sqlite query ylines: %w", err)
	}
	return lines, nil
}

// Source serves historic requests from stored points.
func (r *Reader) Source() historic.Source {
	return historic.SourceFunc(func(ctx context.Context, req historic.Request) ([]*graph.Point, error) {
		return r.ReadPoints(ctx, req.Security, req.From.UnixMilli(), req.To.UnixMilli())
	})
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
