package dispatch

import "sync"

// Queue is a FIFO of notification ids safe for concurrent use. Items are
// never reordered.
type Queue struct {
	mu    sync.Mutex
	items []string
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends ids to the tail.
func (q *Queue) Push(ids ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, ids...)
}

// Drain removes and returns up to n ids from the head.
func (q *Queue) Drain(n int) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 || len(q.items) == 0 {
		return nil
	}
	if n > len(q.items) {
		n = len(q.items)
	}

	out := make([]string, n)
	copy(out, q.items[:n])

	rest := make([]string, len(q.items)-n)
	copy(rest, q.items[n:])
	q.items = rest
	return out
}

// Len returns the number of queued ids.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
