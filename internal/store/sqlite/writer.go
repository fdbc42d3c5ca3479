// Package sqlite persists graph points, archived-day tuples and finalized
// Y-lines in a WAL-mode SQLite database, and serves stored points back as a
// historic source.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"putup-system/internal/graph"
	"putup-system/internal/ingest"
	"putup-system/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond

	dsnParams = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/putup.db"
}

// Writer is a single-connection SQLite writer with transaction batching.
type Writer struct {
	db *sqlx.DB

	// Now stamps published Y-line runs.
	Now func() time.Time

	// OnCommit is called after each batch commit attempt.
	OnCommit func(n int, d time.Duration, err error)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db.DB }

// New opens the database in WAL mode and creates the schema. Missing parent
// directories of DBPath are created.
func New(cfg WriterConfig) (*Writer, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite3", cfg.DBPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db, Now: time.Now}, nil
}

func createSchema(db *sqlx.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS points (
			security   TEXT    NOT NULL,
			kind       TEXT    NOT NULL,
			request_id INTEGER NOT NULL DEFAULT 0,
			ts         INTEGER NOT NULL,
			open       INTEGER NOT NULL,
			high       INTEGER NOT NULL,
			low        INTEGER NOT NULL,
			close      INTEGER NOT NULL,
			wap        INTEGER NOT NULL,
			volume     INTEGER,
			count      INTEGER,
			has_gaps   INTEGER NOT NULL DEFAULT 0,
			quote      INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (security, ts, kind, close, quote)
		);

		CREATE TABLE IF NOT EXISTS graph_tuples (
			security TEXT    NOT NULL,
			day      INTEGER NOT NULL,
			entity   TEXT    NOT NULL,
			idx      INTEGER NOT NULL,
			field    TEXT    NOT NULL,
			value    TEXT    NOT NULL,
			PRIMARY KEY (security, day, entity, idx, field)
		);

		CREATE TABLE IF NOT EXISTS ylines (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			security    TEXT    NOT NULL,
			resolved_at INTEGER NOT NULL,
			c_ts        INTEGER NOT NULL,
			c_price     INTEGER NOT NULL,
			e_ts        INTEGER NOT NULL,
			e_price     INTEGER NOT NULL,
			stand_in    INTEGER NOT NULL DEFAULT 0,
			gradient    REAL
		);
		CREATE INDEX IF NOT EXISTS ylines_security ON ylines (security, resolved_at);
	`)
	return err
}

// pointRow is the points table layout.
type pointRow struct {
	Security  string `db:"security"`
	Kind      string `db:"kind"`
	RequestID int    `db:"request_id"`
	TS        int64  `db:"ts"`
	Open      int64  `db:"open"`
	High      int64  `db:"high"`
	Low       int64  `db:"low"`
	Close     int64  `db:"close"`
	WAP       int64  `db:"wap"`
	Volume    int64  `db:"volume"`
	Count     int    `db:"count"`
	HasGaps   bool   `db:"has_gaps"`
	Quote     int64  `db:"quote"`
}

func toRow(sec model.Security, p *graph.Point) pointRow {
	return pointRow{
		Security:  sec.Key(),
		Kind:      p.Kind.String(),
		RequestID: p.RequestID,
		TS:        p.Timestamp,
		Open:      int64(p.Open),
		High:      int64(p.High),
		Low:       int64(p.Low),
		Close:     int64(p.Close),
		WAP:       int64(p.WAP),
		Volume:    p.Volume,
		Count:     p.Count,
		HasGaps:   p.HasGaps,
		Quote:     int64(p.Quote),
	}
}

func (r pointRow) point() (*graph.Point, error) {
	kind, err := graph.ParseKind(r.Kind)
	if err != nil {
		return nil, err
	}
	p := graph.NewBarPoint(kind, r.RequestID, r.TS,
		model.Price(r.Open), model.Price(r.High), model.Price(r.Low), model.Price(r.Close), model.Price(r.WAP),
		r.Volume, r.Count, r.HasGaps)
	p.Quote = model.Price(r.Quote)
	return p, nil
}

const insertPoint = `
	INSERT OR REPLACE INTO points (security, kind, request_id, ts, open, high, low, close, wap, volume, count, has_gaps, quote)
	VALUES (:security, :kind, :request_id, :ts, :open, :high, :low, :close, :wap, :volume, :count, :has_gaps, :quote)
`

// Run reads samples and inserts them in batched transactions, flushing every
// batchSize samples or every flushDelay, whichever first. Blocks until ctx
// is cancelled or in is closed.
func (w *Writer) Run(ctx context.Context, in <-chan ingest.Sample) {
	batch := make([]pointRow, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		err := w.insertBatch(context.Background(), batch)
		if err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		}
		if w.OnCommit != nil {
			w.OnCommit(len(batch), time.Since(start), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case s, ok := <-in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, toRow(s.Security, s.Point))
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// SavePoints inserts points of one security in a single transaction.
func (w *Writer) SavePoints(ctx context.Context, sec model.Security, points []*graph.Point) error {
	rows := make([]pointRow, len(points))
	for i, p := range points {
		rows[i] = toRow(sec, p)
	}
	return w.insertBatch(ctx, rows)
}

func (w *Writer) insertBatch(ctx context.Context, rows []pointRow) error {
	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareNamedContext(ctx, insertPoint)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// tupleRow is one graph_tuples row.
type tupleRow struct {
	Security string `db:"security"`
	Day      int    `db:"day"`
	graph.Tuple
}

// SaveGraph replaces the stored tuples of sec's archived day.
func (w *Writer) SaveGraph(ctx context.Context, sec model.Security, day int, tuples []graph.Tuple) error {
	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite save graph: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM graph_tuples WHERE security = ? AND day = ?`, sec.Key(), day); err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite save graph: %w", err)
	}
	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT INTO graph_tuples (security, day, entity, idx, field, value)
		VALUES (:security, :day, :entity, :idx, :field, :value)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite save graph: %w", err)
	}
	defer stmt.Close()

	for _, t := range tuples {
		if _, err := stmt.ExecContext(ctx, tupleRow{Security: sec.Key(), Day: day, Tuple: t}); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite save graph %s/%d: %w", sec.Key(), day, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite save graph: %w", err)
	}
	log.Printf("[sqlite] saved %s day %d (%d tuples)", sec.Key(), day, len(tuples))
	return nil
}

// YLine is one stored finalized line.
type YLine struct {
	ID         int64           `db:"id" json:"id"`
	Security   string          `db:"security" json:"security"`
	ResolvedAt int64           `db:"resolved_at" json:"resolved_at"`
	CTS        int64           `db:"c_ts" json:"c_ts"`
	CPrice     int64           `db:"c_price" json:"c_price"`
	ETS        int64           `db:"e_ts" json:"e_ts"`
	EPrice     int64           `db:"e_price" json:"e_price"`
	StandIn    bool            `db:"stand_in" json:"stand_in"`
	Gradient   sql.NullFloat64 `db:"gradient" json:"-"`
}

// NewYLine flattens a line using its effective endpoints.
func NewYLine(sec model.Security, resolvedAt int64, l *graph.TrendLine) YLine {
	c, e := l.EffectiveC(), l.EffectiveE()
	y := YLine{
		Security:   sec.Key(),
		ResolvedAt: resolvedAt,
		CTS:        c.Timestamp,
		CPrice:     int64(c.LastPrice()),
		ETS:        e.Timestamp,
		EPrice:     int64(e.LastPrice()),
		StandIn:    l.StandInC() != nil || l.StandInE() != nil,
	}
	if m, err := l.Gradient(); err == nil {
		y.Gradient = sql.NullFloat64{Float64: m, Valid: true}
	}
	return y
}

// PublishYLines records one resolution run of sec. An empty run is stored
// as nothing, so the previous run stays the latest.
func (w *Writer) PublishYLines(ctx context.Context, sec model.Security, lines []*graph.TrendLine) error {
	if len(lines) == 0 {
		return nil
	}
	at := w.Now().UnixMilli()
	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite ylines: %w", err)
	}
	for _, l := range lines {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO ylines (security, resolved_at, c_ts, c_price, e_ts, e_price, stand_in, gradient)
			VALUES (:security, :resolved_at, :c_ts, :c_price, :e_ts, :e_price, :stand_in, :gradient)
		`, NewYLine(sec, at, l))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite ylines %s: %w", sec.Key(), err)
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
