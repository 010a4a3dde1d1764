package queue

import (
	"context"
	"testing"
	"time"

	"videoflix-pipeline/internal/models"
)

func TestMemoryQueueDeliversInOrder(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()
	for _, id := range []string{"job-1", "job-2", "job-3"} {
		if err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("Enqueue(%s): %v", id, err)
		}
	}
	if depth := q.Depth(); depth != 3 {
		t.Fatalf("Depth = %d, want 3", depth)
	}
	for _, want := range []string{"job-1", "job-2", "job-3"} {
		got, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if got != want {
			t.Fatalf("Dequeue = %q, want %q", got, want)
		}
	}
	if depth := q.Depth(); depth != 0 {
		t.Fatalf("Depth after drain = %d, want 0", depth)
	}
}

func TestMemoryQueueRejectsWhenFull(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx := context.Background()
	if err := q.Enqueue(ctx, "job-1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	err := q.Enqueue(ctx, "job-2")
	if !models.IsKind(err, models.KindQueueSaturated) {
		t.Fatalf("expected QueueSaturated, got %v", err)
	}

	// Draining one slot makes room again.
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if err := q.Enqueue(ctx, "job-2"); err != nil {
		t.Fatalf("Enqueue after drain: %v", err)
	}
}

func TestMemoryQueueDequeueHonorsContext(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Dequeue(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestMemoryQueueClose(t *testing.T) {
	q := NewMemoryQueue(2)
	ctx := context.Background()
	if err := q.Enqueue(ctx, "job-1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := q.Enqueue(ctx, "job-2"); !models.IsKind(err, models.KindQueueSaturated) {
		t.Fatalf("expected QueueSaturated after close, got %v", err)
	}

	// Buffered entries drain; the closed channel then reports cancellation.
	if got, err := q.Dequeue(ctx); err != nil || got != "job-1" {
		t.Fatalf("Dequeue = %q, %v", got, err)
	}
	if _, err := q.Dequeue(ctx); err != context.Canceled {
		t.Fatalf("expected Canceled after close, got %v", err)
	}
}
