// Package queue implements the bounded, drop-on-overflow cross-loop
// queues described in spec §4.5: each carries a tagged counter
// incremented on enqueue and decremented on dequeue, and silently drops
// (with a log line) once MAX_QUEUE_SIZE is reached. Grounded directly on
// internal/flog's logCh/dropped channel-plus-atomic-counter idiom — the
// teacher already solved "bounded channel, drop and count on overflow"
// once, for its own log line; this generalizes that shape to arbitrary
// payloads.
package queue

import (
	"sync/atomic"

	"lanrelay/internal/flog"
)

// MaxSize is MAX_QUEUE_SIZE from spec §4.5.
const MaxSize = 1024

// Queue is a single-producer/single-consumer bounded queue with
// drop-on-overflow semantics. The zero value is not usable; use New.
type Queue[T any] struct {
	name    string
	ch      chan T
	size    atomic.Int64
	dropped atomic.Uint64
	onDrop  func()
}

// New creates a queue with the given capacity (spec default: MaxSize).
// name is used only in drop log lines, to tell the inbound and outbound
// datagram queues apart. An optional onDrop callback is invoked once per
// dropped item, in addition to the log line — the metrics package wires
// its queueDrops counter through this hook rather than this package
// importing metrics itself.
func New[T any](name string, capacity int, onDrop ...func()) *Queue[T] {
	q := &Queue[T]{name: name, ch: make(chan T, capacity)}
	if len(onDrop) > 0 {
		q.onDrop = onDrop[0]
	}
	return q
}

// TryEnqueue attempts a non-blocking enqueue. If the queue is full the
// item is dropped and a log line is emitted (spec §4.5, §7); the return
// value reports whether the item was accepted.
func (q *Queue[T]) TryEnqueue(item T) bool {
	select {
	case q.ch <- item:
		q.size.Add(1)
		return true
	default:
		q.dropped.Add(1)
		flog.Warnf("%s queue over capacity (%d), dropping item", q.name, cap(q.ch))
		if q.onDrop != nil {
			q.onDrop()
		}
		return false
	}
}

// TryDequeue attempts a non-blocking dequeue.
func (q *Queue[T]) TryDequeue() (T, bool) {
	select {
	case item := <-q.ch:
		q.size.Add(-1)
		return item, true
	default:
		var zero T
		return zero, false
	}
}

// Len returns the current tagged count of items in the queue.
func (q *Queue[T]) Len() int64 { return q.size.Load() }

// Dropped returns the number of items dropped for being over capacity.
func (q *Queue[T]) Dropped() uint64 { return q.dropped.Load() }

// HasCapacity reports whether an enqueue would currently succeed. Used
// by the agent's redirection loop (spec §4.3 step 5) to decide whether
// it's worth decoding a frame at all before trying to queue it.
func (q *Queue[T]) HasCapacity() bool { return q.size.Load() < int64(cap(q.ch)) }
