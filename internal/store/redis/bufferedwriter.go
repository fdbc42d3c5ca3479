package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"putup-system/internal/graph"
	"putup-system/internal/model"
)

// pendingWrite is a write held back while the circuit was open.
type pendingWrite struct {
	Key     string
	Channel string
	Data    []byte
}

// BufferedWriter wraps a Writer so that Y-line publications and snapshots
// made while the circuit is open are kept locally and replayed once it
// closes again. Only the newest write per key is kept.
type BufferedWriter struct {
	*Writer
	ctx context.Context

	mu      sync.Mutex
	buffer  map[string]pendingWrite
	order   []string
	maxKeys int

	// Callbacks
	OnBuffer func()          // a write was buffered
	OnFlush  func(count int) // buffered writes were replayed
}

// NewBufferedWriter wraps w. maxKeys bounds the buffer; the oldest key is
// dropped when full (default 1000).
func NewBufferedWriter(ctx context.Context, w *Writer, maxKeys int) *BufferedWriter {
	if maxKeys <= 0 {
		maxKeys = 1000
	}
	bw := &BufferedWriter{
		Writer:  w,
		ctx:     ctx,
		buffer:  make(map[string]pendingWrite),
		maxKeys: maxKeys,
	}

	prev := w.cb.OnStateChange
	w.cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}
	return bw
}

// PublishYLines publishes through the breaker, buffering while it is open.
func (bw *BufferedWriter) PublishYLines(ctx context.Context, sec model.Security, lines []*graph.TrendLine) error {
	err := bw.Writer.PublishYLines(ctx, sec, lines)
	if errors.Is(err, ErrCircuitOpen) {
		data, merr := json.Marshal(NewYLineSet(sec, bw.Now().UnixMilli(), lines))
		if merr != nil {
			return merr
		}
		bw.hold(pendingWrite{Key: bw.keys.ylines(sec), Channel: bw.keys.ylineChannel(), Data: data})
		return nil
	}
	return err
}

// SaveSnapshot stores through the breaker, buffering while it is open.
func (bw *BufferedWriter) SaveSnapshot(ctx context.Context, sec model.Security, tuples []graph.Tuple) error {
	err := bw.Writer.SaveSnapshot(ctx, sec, tuples)
	if errors.Is(err, ErrCircuitOpen) {
		data, merr := json.Marshal(tuples)
		if merr != nil {
			return merr
		}
		bw.hold(pendingWrite{Key: bw.keys.snapshot(sec), Data: data})
		return nil
	}
	return err
}

func (bw *BufferedWriter) hold(pw pendingWrite) {
	bw.mu.Lock()
	if _, ok := bw.buffer[pw.Key]; !ok {
		if len(bw.order) >= bw.maxKeys {
			// full: drop the oldest key
			delete(bw.buffer, bw.order[0])
			bw.order = bw.order[1:]
		}
		bw.order = append(bw.order, pw.Key)
	}
	bw.buffer[pw.Key] = pw
	cb := bw.OnBuffer
	bw.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// flush replays buffered writes in the order their keys were first held.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	if len(bw.order) == 0 {
		bw.mu.Unlock()
		return
	}
	toFlush := make([]pendingWrite, 0, len(bw.order))
	for _, k := range bw.order {
		toFlush = append(toFlush, bw.buffer[k])
	}
	bw.buffer = make(map[string]pendingWrite)
	bw.order = nil
	bw.mu.Unlock()

	flushed := 0
	for _, pw := range toFlush {
		if err := bw.set(bw.ctx, pw.Key, pw.Channel, pw.Data, 0); err != nil {
			log.Printf("[buffered-writer] replay %s: %v", pw.Key, err)
			continue
		}
		flushed++
	}

	log.Printf("[buffered-writer] flushed %d buffered writes", flushed)
	if bw.OnFlush != nil {
		bw.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.order)
}
