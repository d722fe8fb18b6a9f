package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue used in tests and by `serve --dev`.
// Same ordering contract as SQLQueue, no durability.
type MemoryQueue struct {
	mu     sync.Mutex
	items  itemHeap
	seq    int64
	notify chan struct{}
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{notify: make(chan struct{}, 1)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, taskID string, priority int) error {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.items, heapItem{
		Item: Item{TaskID: taskID, Priority: priority, EnqueuedAt: time.Now().UTC()},
		seq:  q.seq,
	})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (Item, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			it := heap.Pop(&q.items).(heapItem)
			q.mu.Unlock()
			return it.Item, true, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Item{}, false, ctx.Err()
		case <-timer.C:
			return Item{}, false, nil
		case <-q.notify:
		}
	}
}

func (q *MemoryQueue) Size(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len(), nil
}

type heapItem struct {
	Item
	seq int64
}

type itemHeap []heapItem

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(heapItem)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
