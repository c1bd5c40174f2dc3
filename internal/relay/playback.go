package relay

import "sync"

// PlaybackQueue holds synthesised audio chunks awaiting delivery to the
// browser. It exists to make the barge-in contract explicit: a Clear removes
// every queued chunk atomically, so no chunk appended before the clear can
// ever be delivered after it.
//
// The queue is owned by a single relay's outbound pump; the mutex only
// protects test inspection against the pump.
type PlaybackQueue struct {
	mu     sync.Mutex
	chunks [][]byte
}

// Append adds one audio chunk to the back of the queue.
func (q *PlaybackQueue) Append(pcm []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.chunks = append(q.chunks, pcm)
}

// TakeAll removes and returns all queued chunks in order.
func (q *PlaybackQueue) TakeAll() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.chunks
	q.chunks = nil
	return out
}

// Clear drops every queued chunk and returns how many were dropped.
func (q *PlaybackQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.chunks)
	q.chunks = nil
	return n
}

// Len returns the number of queued chunks.
func (q *PlaybackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}
