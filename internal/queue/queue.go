// Package queue provides the durable priority task queue shared by webhook
// handlers and the worker pool. Lower priority values dequeue first; ties
// break by enqueue order.
package queue

import (
	"context"
	"time"
)

// Item is one queued task reference. This is the queue wire format.
type Item struct {
	TaskID     string    `json:"task_id"`
	Priority   int       `json:"priority"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue is a durable priority queue with blocking dequeue.
//
// Delivery is at-least-once into the queue but exactly-once out: a returned
// item is removed atomically. Recovering tasks orphaned by a worker crash
// after dequeue is left to an external reconciliation sweep.
type Queue interface {
	// Enqueue inserts taskID with the given priority score.
	Enqueue(ctx context.Context, taskID string, priority int) error

	// Dequeue blocks up to timeout and returns the lowest-score item.
	// ok is false when the queue stayed empty; that is not an error,
	// poll loops rely on it.
	Dequeue(ctx context.Context, timeout time.Duration) (item Item, ok bool, err error)

	// Size reports current queue depth.
	Size(ctx context.Context) (int, error)
}
