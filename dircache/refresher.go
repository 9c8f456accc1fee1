package dircache

import (
	"context"

	"github.com/pagescaler/pagescaler/logging"
)

// Refresher keeps cached directories current by re-checking those the
// watcher reports as changed, instead of waiting for the next request.
type Refresher struct {
	cache *Cache
	queue *RefreshQueue
}

// NewRefresher creates a refresher for c.
func NewRefresher(c *Cache) *Refresher {
	return &Refresher{cache: c, queue: NewRefreshQueue()}
}

// Queue returns the refresh queue.
func (r *Refresher) Queue() *RefreshQueue {
	return r.queue
}

// Run starts the watcher on the primary base dir and processes the queue.
// It blocks until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	l := logging.Sub("refresher")
	root := r.cache.baseDirs[0]

	watcher, err := NewWatcher(root, r.queue)
	if err != nil {
		l.Error("watcher creation failed, refresher not running", "err", err)
		return
	}
	go func() {
		if err := watcher.Start(ctx); err != nil && ctx.Err() == nil {
			l.Warn("watcher stopped unexpectedly", "err", err)
		}
	}()

	l.Info("refresher started", "root", root)
	r.Loop(ctx)
	watcher.Close()
	l.Info("refresher stopped")
}

// Loop re-checks queued directories until ctx is cancelled. Directories that
// are not cached yet are skipped; they are read fresh on first use.
func (r *Refresher) Loop(ctx context.Context) {
	l := logging.Sub("refresher")
	done := ctx.Done()
	for {
		p, ok := r.queue.Pop(done)
		if !ok {
			return
		}
		if r.cache.RefreshPath(p) {
			l.Debug("refreshed", "path", p)
		}
	}
}
