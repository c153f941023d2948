// Package task runs background work dispatched from the request path:
// document builds, enable toggles and scope deletes. Delivery is
// at-least-once from the caller's point of view, so every handler enqueued
// here must be idempotent.
package task

import (
	"context"
	"fmt"
	"sync"

	"github.com/lexikon-ai/lexikon/internal/apperr"
	"github.com/lexikon-ai/lexikon/internal/log"
)

// Dispatcher enqueues a named unit of background work. Implementations
// return apperr.ErrTransient when the work cannot be accepted right now.
type Dispatcher interface {
	Dispatch(name string, run func(ctx context.Context) error) error
}

type job struct {
	name string
	run  func(ctx context.Context) error
}

// Queue is an in-process Dispatcher backed by a bounded channel and a fixed
// worker pool. Fire-and-forget: results are observable only through the
// status the handlers persist.
type Queue struct {
	base   context.Context
	cancel context.CancelFunc
	jobs   chan job
	wg     sync.WaitGroup
	logger log.Logger

	mu     sync.Mutex
	closed bool
}

// NewQueue starts workers goroutines consuming a buffer-sized queue.
func NewQueue(workers, buffer int, logger log.Logger) *Queue {
	base, cancel := context.WithCancel(context.Background())
	q := &Queue{
		base:   base,
		cancel: cancel,
		jobs:   make(chan job, buffer),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for j := range q.jobs {
		if err := q.base.Err(); err != nil {
			q.logger.Warn("dropping task, queue context cancelled", "task", j.name)
			continue
		}
		q.logger.Debug("task started", "task", j.name)
		if err := j.run(q.base); err != nil {
			q.logger.Error("task failed", "task", j.name, "error", err)
			continue
		}
		q.logger.Debug("task finished", "task", j.name)
	}
}

// Dispatch enqueues run without blocking. A full queue or a shut-down queue
// is reported as apperr.ErrTransient so callers can surface "try again".
func (q *Queue) Dispatch(name string, run func(ctx context.Context) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("%w: task queue is shut down", apperr.ErrTransient)
	}
	select {
	case q.jobs <- job{name: name, run: run}:
		return nil
	default:
		return fmt.Errorf("%w: task queue is full", apperr.ErrTransient)
	}
}

// Shutdown stops accepting work and drains the queue. If ctx expires before
// the drain completes, in-flight handlers are cancelled through their task
// context and Shutdown waits for them to return.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return fmt.Errorf("task queue drain interrupted: %w", ctx.Err())
	}
}
