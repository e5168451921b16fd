// Package queue implements the local, bounded message queue the Supervisor
// hands responses to, before a real broker-backed Sink picks them up
// downstream. A buffered channel is the correct stdlib primitive for the
// bounded, non-blocking, ordered handoff this needs; see DESIGN.md for the
// dependency-search record.
package queue

import "runtime"

// Sink is the non-blocking enqueue primitive the Supervisor spins on. It is
// an interface so the daemon can swap LocalQueue for a real broker-backed
// implementation without the Supervisor's code changing.
type Sink interface {
	// TrySend attempts to enqueue data without blocking. It returns false if
	// the queue is full.
	TrySend(data []byte) bool
}

// Source is the consumer side of a Sink: whatever drains LocalQueue into the
// broker, a test, or an HTTP stream.
type Source interface {
	// Receive blocks until a message is available or the queue is closed,
	// in which case ok is false.
	Receive() (data []byte, ok bool)
}

// LocalQueue is a bounded, single-writer-multiple-reader-safe channel-backed
// Sink/Source pair.
type LocalQueue struct {
	ch chan []byte
}

// NewLocal creates a LocalQueue with the given capacity.
func NewLocal(capacity int) *LocalQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &LocalQueue{ch: make(chan []byte, capacity)}
}

// TrySend implements Sink. It never blocks.
func (q *LocalQueue) TrySend(data []byte) bool {
	select {
	case q.ch <- data:
		return true
	default:
		return false
	}
}

// Receive implements Source.
func (q *LocalQueue) Receive() ([]byte, bool) {
	data, ok := <-q.ch
	return data, ok
}

// Close signals no more sends will occur; a drained Receive after Close
// returns ok=false.
func (q *LocalQueue) Close() {
	close(q.ch)
}

// SpinSend retries TrySend until it succeeds, accepting CPU cost in exchange
// for never losing an ordered response. runtime.Gosched() yields the thread
// without sleeping, keeping latency negligible while not pegging a core as
// hard as a bare spin would.
func SpinSend(sink Sink, data []byte) {
	for !sink.TrySend(data) {
		runtime.Gosched()
	}
}
