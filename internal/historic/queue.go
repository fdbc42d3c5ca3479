package historic

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"putup-system/internal/logger"
)

// Queue runs submitted requests on a fixed number of workers.
type Queue struct {
	src     Source
	workers int
	logger  *slog.Logger
	jobs    chan *Task
	done    chan struct{}
	wg      sync.WaitGroup

	stopOnce sync.Once
	mu       sync.RWMutex
	stopped  bool

	// OnFetch is called after every fetch with its duration and error.
	OnFetch func(req Request, d time.Duration, err error)
}

// NewQueue creates a queue over src. Call Start before submitting.
func NewQueue(src Source, workers, backlog int, l *slog.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	if backlog < 0 {
		backlog = 0
	}
	return &Queue{
		src:     src,
		workers: workers,
		logger:  logger.Component(l, "historic"),
		jobs:    make(chan *Task, backlog),
		done:    make(chan struct{}),
	}
}

// Start launches the workers. They exit when ctx ends or Stop is called.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

// Stop stops the workers and fails any queued tasks with ErrQueueClosed.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		// close done first so blocked Submits release the read lock
		close(q.done)
		q.mu.Lock()
		q.stopped = true
		q.mu.Unlock()
		q.wg.Wait()
		for {
			select {
			case t := <-q.jobs:
				t.complete(nil, ErrQueueClosed)
			default:
				return
			}
		}
	})
}

// Submit enqueues req and returns its task. If the queue is stopped or ctx
// ends before the request is accepted, the task completes with that error.
func (q *Queue) Submit(ctx context.Context, req Request) *Task {
	t := newTask(req)

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		t.complete(nil, ErrQueueClosed)
		return t
	}
	select {
	case q.jobs <- t:
	case <-ctx.Done():
		t.complete(nil, ctx.Err())
	case <-q.done:
		t.complete(nil, ErrQueueClosed)
	}
	return t
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	q.logger.Debug("worker started", "worker_id", id)
	defer q.logger.Debug("worker stopped", "worker_id", id)

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case t := <-q.jobs:
			q.run(ctx, t)
		}
	}
}

func (q *Queue) run(ctx context.Context, t *Task) {
	start := time.Now()
	points, err := q.src.Fetch(ctx, t.Request)
	d := time.Since(start)
	if err != nil {
		q.logger.Warn("fetch failed", "request", t.Request.String(), "error", err)
	} else {
		q.logger.Debug("fetch done", "request", t.Request.String(), "points", len(points), "took", d)
	}
	if q.OnFetch != nil {
		q.OnFetch(t.Request, d, err)
	}
	t.complete(points, err)
}
