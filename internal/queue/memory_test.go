package queue

import (
	"context"
	"testing"
	"time"
)

func TestMemoryQueue_PriorityOrder(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	for _, p := range []int{10, 0, 1} {
		if err := q.Enqueue(ctx, "task-p"+string(rune('0'+p%10)), p); err != nil {
			t.Fatal(err)
		}
	}

	var got []int
	for i := 0; i < 3; i++ {
		item, ok, err := q.Dequeue(ctx, time.Second)
		if err != nil || !ok {
			t.Fatalf("dequeue %d: ok=%v err=%v", i, ok, err)
		}
		got = append(got, item.Priority)
	}

	want := []int{0, 1, 10}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dequeue order = %v, want %v", got, want)
		}
	}
}

func TestMemoryQueue_FIFOWithinPriority(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, id, 5); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		item, ok, _ := q.Dequeue(ctx, time.Second)
		if !ok || item.TaskID != want {
			t.Fatalf("got %q ok=%v, want %q", item.TaskID, ok, want)
		}
	}
}

func TestMemoryQueue_EmptyTimesOutWithoutError(t *testing.T) {
	q := NewMemoryQueue()

	start := time.Now()
	_, ok, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("empty dequeue returned error: %v", err)
	}
	if ok {
		t.Fatal("empty dequeue returned an item")
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatal("dequeue returned before the timeout elapsed")
	}
}

func TestMemoryQueue_UnblocksOnEnqueue(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	done := make(chan Item, 1)
	go func() {
		item, ok, _ := q.Dequeue(ctx, 5*time.Second)
		if ok {
			done <- item
		}
	}()

	time.Sleep(20 * time.Millisecond)
	if err := q.Enqueue(ctx, "late", 1); err != nil {
		t.Fatal(err)
	}

	select {
	case item := <-done:
		if item.TaskID != "late" {
			t.Fatalf("got %q, want late", item.TaskID)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not unblock on enqueue")
	}
}

func TestMemoryQueue_Size(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_ = q.Enqueue(ctx, "t", i)
	}
	n, err := q.Size(ctx)
	if err != nil || n != 4 {
		t.Fatalf("size = %d err=%v, want 4", n, err)
	}
	_, _, _ = q.Dequeue(ctx, time.Second)
	n, _ = q.Size(ctx)
	if n != 3 {
		t.Fatalf("size after dequeue = %d, want 3", n)
	}
}
