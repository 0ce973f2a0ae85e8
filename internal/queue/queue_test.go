package queue

import "testing"

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q := New[int]("test", 4)
	if !q.TryEnqueue(1) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.Len() != 1 {
		t.Fatalf("expected len 1, got %d", q.Len())
	}
	v, ok := q.TryDequeue()
	if !ok || v != 1 {
		t.Fatalf("expected to dequeue 1, got %v ok=%v", v, ok)
	}
	if q.Len() != 0 {
		t.Fatalf("expected len 0, got %d", q.Len())
	}
}

func TestDequeueEmptyFails(t *testing.T) {
	q := New[int]("test", 4)
	if _, ok := q.TryDequeue(); ok {
		t.Fatal("expected dequeue on empty queue to fail")
	}
}

func TestOverflowDropsAndCountsExactly(t *testing.T) {
	q := New[int]("test", 4)
	for i := 0; i < 4; i++ {
		if !q.TryEnqueue(i) {
			t.Fatalf("enqueue %d should have succeeded", i)
		}
	}
	const overflow = 10
	for i := 0; i < overflow; i++ {
		if q.TryEnqueue(i) {
			t.Fatalf("enqueue beyond capacity should have been dropped")
		}
	}
	if q.Dropped() != overflow {
		t.Fatalf("expected %d drops, got %d", overflow, q.Dropped())
	}
	if q.Len() > 4 {
		t.Fatalf("queue length %d exceeds capacity", q.Len())
	}
}

func TestOverflowInvokesOnDropCallback(t *testing.T) {
	drops := 0
	q := New[int]("test", 1, func() { drops++ })
	q.TryEnqueue(1)
	if q.TryEnqueue(2) {
		t.Fatal("enqueue beyond capacity should have been dropped")
	}
	if drops != 1 {
		t.Fatalf("expected onDrop to fire once, got %d", drops)
	}
}

func TestHasCapacity(t *testing.T) {
	q := New[int]("test", 1)
	if !q.HasCapacity() {
		t.Fatal("expected capacity available on empty queue")
	}
	q.TryEnqueue(1)
	if q.HasCapacity() {
		t.Fatal("expected no capacity once full")
	}
}
