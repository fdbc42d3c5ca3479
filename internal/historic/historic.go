// Package historic runs "load this time range for this security" requests
// on a fixed worker pool and hands callers an asynchronous Task handle.
package historic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"putup-system/internal/graph"
	"putup-system/internal/model"
)

var (
	// ErrTaskTimeout is returned by WaitTimeout when the task did not finish in time.
	ErrTaskTimeout = errors.New("historic task timed out")
	// ErrQueueClosed completes tasks submitted after Stop.
	ErrQueueClosed = errors.New("historic queue closed")
)

// Request asks for the bars of one security in [From, To].
type Request struct {
	Security model.Security
	From     time.Time
	To       time.Time
	BarSize  time.Duration
}

func (r Request) String() string {
	return fmt.Sprintf("%s [%s, %s] %s", r.Security.Key(),
		r.From.Format(time.RFC3339), r.To.Format(time.RFC3339), r.BarSize)
}

// Source supplies ordered points for a request.
type Source interface {
	Fetch(ctx context.Context, req Request) ([]*graph.Point, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, req Request) ([]*graph.Point, error)

func (f SourceFunc) Fetch(ctx context.Context, req Request) ([]*graph.Point, error) {
	return f(ctx, req)
}

// Task is the handle of one submitted request.
type Task struct {
	Request Request

	done   chan struct{}
	points []*graph.Point
	err    error
}

func newTask(req Request) *Task {
	return &Task{Request: req, done: make(chan struct{})}
}

func (t *Task) complete(points []*graph.Point, err error) {
	t.points, t.err = points, err
	close(t.done)
}

// Done is closed when the task completes.
func (t *Task) Done() <-chan struct{} { return t.done }

// IsComplete reports whether the task has finished.
func (t *Task) IsComplete() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Result returns the fetched points and error. It is only meaningful once
// IsComplete is true; before that it returns nil, nil.
func (t *Task) Result() ([]*graph.Point, error) {
	if !t.IsComplete() {
		return nil, nil
	}
	return t.points, t.err
}

// Wait blocks until the task completes or ctx ends.
func (t *Task) Wait(ctx context.Context) ([]*graph.Point, error) {
	select {
	case <-t.done:
		return t.points, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitTimeout is Wait bounded by d. A lapsed d yields ErrTaskTimeout; a
// cancelled ctx yields ctx.Err().
func (t *Task) WaitTimeout(ctx context.Context, d time.Duration) ([]*graph.Point, error) {
	if d <= 0 {
		return t.Wait(ctx)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-t.done:
		return t.points, t.err
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s: %s", ErrTaskTimeout, d, t.Request)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
