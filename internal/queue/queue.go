// Package queue carries job ids from admission to the worker pool. The queue
// only transports ids; the storage claim step decides which worker actually
// runs a job, so duplicate delivery is harmless.
package queue

import (
	"context"
	"sync"

	"videoflix-pipeline/internal/models"
)

// Queue is the backlog between admission and the worker pool.
type Queue interface {
	// Enqueue adds a job id without blocking. When the backlog is at
	// capacity it fails with a QueueSaturated error.
	Enqueue(ctx context.Context, jobID string) error

	// Dequeue blocks until a job id is available or the context ends.
	Dequeue(ctx context.Context) (string, error)

	// Depth reports the current backlog size.
	Depth() int

	Close() error
}

// MemoryQueue is a bounded in-process backlog. It is the default when no
// Redis endpoint is configured.
type MemoryQueue struct {
	ch chan string

	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue builds a backlog holding at most depth ids.
func NewMemoryQueue(depth int) *MemoryQueue {
	if depth <= 0 {
		depth = 64
	}
	return &MemoryQueue{ch: make(chan string, depth)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return models.Errorf(models.KindQueueSaturated, "queue is closed")
	}
	select {
	case q.ch <- jobID:
		return nil
	default:
		return models.Errorf(models.KindQueueSaturated, "queue is full")
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case jobID, ok := <-q.ch:
		if !ok {
			return "", context.Canceled
		}
		return jobID, nil
	}
}

func (q *MemoryQueue) Depth() int {
	return len(q.ch)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}
