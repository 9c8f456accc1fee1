package dircache

import (
	"log/slog"
	"sync"

	"github.com/pagescaler/pagescaler/logging"
)

// RefreshQueue is a set-based FIFO of logical directory paths waiting for a
// staleness check. Pushing a path that is already queued is a no-op.
type RefreshQueue struct {
	mu     sync.Mutex
	set    map[string]struct{}
	order  []string
	notify chan struct{} // signaled when items are added
}

// NewRefreshQueue creates an empty queue.
func NewRefreshQueue() *RefreshQueue {
	return &RefreshQueue{
		set:    make(map[string]struct{}),
		notify: make(chan struct{}, 1),
	}
}

// Push adds a path unless it is already queued.
func (q *RefreshQueue) Push(p string) {
	q.PushMany([]string{p})
}

// PushMany adds every path that is not already queued.
func (q *RefreshQueue) PushMany(paths []string) {
	q.mu.Lock()
	added := 0
	for _, p := range paths {
		if _, exists := q.set[p]; exists {
			continue
		}
		q.set[p] = struct{}{}
		q.order = append(q.order, p)
		added++
	}
	n := len(q.order)
	q.mu.Unlock()

	if logging.Enabled(slog.LevelDebug) {
		logging.Sub("refresh").Debug("push", "requested", len(paths), "added", added, "queueLen", n)
	}

	if added > 0 {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
}

// Pop removes and returns the oldest path. It blocks until a path is
// available or done is closed, in which case it returns ("", false).
func (q *RefreshQueue) Pop(done <-chan struct{}) (string, bool) {
	for {
		q.mu.Lock()
		if len(q.order) > 0 {
			p := q.order[0]
			q.order = q.order[1:]
			delete(q.set, p)
			q.mu.Unlock()
			return p, true
		}
		q.mu.Unlock()

		select {
		case <-done:
			return "", false
		case <-q.notify:
		}
	}
}

// Has reports whether a path is queued.
func (q *RefreshQueue) Has(p string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, exists := q.set[p]
	return exists
}

// Len returns the number of queued paths.
func (q *RefreshQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Drain removes and returns all queued paths.
func (q *RefreshQueue) Drain() []string {
	q.mu.Lock()
	out := q.order
	q.order = nil
	q.set = make(map[string]struct{})
	q.mu.Unlock()
	return out
}
