package ingest

import (
	"context"
	"errors"
	"sync"

	"server/internal/infra"
)

// ErrQueueClosed reports an enqueue after shutdown.
var ErrQueueClosed = errors.New("ingest: queue closed")

// Queue is the explicit handoff for secondary variant ingestion. Failures are
// logged with job context rather than swallowed; the stale sweeper is the
// retry mechanism for anything the queue could not finish.
type Queue struct {
	tasks    chan Request
	quit     chan struct{}
	pipeline *Pipeline
	logger   infra.Logger

	mu      sync.Mutex
	closed  bool
	senders sync.WaitGroup
	wg      sync.WaitGroup
}

// NewQueue builds a queue with the given buffer size.
func NewQueue(pipeline *Pipeline, size int, logger infra.Logger) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{
		tasks:    make(chan Request, size),
		quit:     make(chan struct{}),
		pipeline: pipeline,
		logger:   logger,
	}
}

// Start launches the worker goroutines. Workers drain until Close or ctx
// cancellation.
func (q *Queue) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.work(ctx)
	}
}

// Enqueue hands one ingestion request to the workers. It blocks while the
// buffer is full so submission backpressure is visible to callers.
func (q *Queue) Enqueue(ctx context.Context, req Request) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	// Registered under the same lock that Close takes before closing quit,
	// so Close cannot close the tasks channel while this send is live.
	q.senders.Add(1)
	q.mu.Unlock()
	defer q.senders.Done()

	select {
	case <-q.quit:
		return ErrQueueClosed
	case q.tasks <- req:
		q.logger.Debug().
			Str("job_id", req.JobID).
			Str("track_id", req.TrackID).
			Int("queue_depth", len(q.tasks)).
			Msg("ingest: variant queued")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops intake, unblocks any waiting Enqueue, and waits for in-flight
// work to finish. The tasks channel is closed only after the last sender has
// left, so a racing Enqueue returns ErrQueueClosed instead of panicking.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.quit)
	q.mu.Unlock()

	q.senders.Wait()
	close(q.tasks)
	q.wg.Wait()
}

func (q *Queue) work(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-q.tasks:
			if !ok {
				return
			}
			if _, err := q.pipeline.Ingest(ctx, req); err != nil {
				q.logger.Error().Err(err).
					Str("job_id", req.JobID).
					Str("track_id", req.TrackID).
					Msg("ingest: queued variant failed")
			}
		}
	}
}
