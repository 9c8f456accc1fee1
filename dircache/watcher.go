package dircache

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pagescaler/pagescaler/logging"
)

const debounceInterval = 300 * time.Millisecond

// Watcher monitors the primary base dir and pushes the logical paths of
// directories whose contents changed into a refresh queue.
type Watcher struct {
	root    string
	queue   *RefreshQueue
	watcher *fsnotify.Watcher
}

// NewWatcher creates a watcher for the tree under root.
func NewWatcher(root string, queue *RefreshQueue) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{root: root, queue: queue, watcher: w}, nil
}

// Start adds the watches and forwards debounced changes. It blocks until ctx
// is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	l := logging.Sub("watcher")
	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	l.Info("watching", "root", w.root)

	pending := make(map[string]struct{})
	timer := time.NewTimer(debounceInterval)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			dir, ok := w.dirOf(event.Name)
			if !ok {
				continue
			}
			pending[dir] = struct{}{}
			timer.Reset(debounceInterval)

			if event.Has(fsnotify.Create) {
				// no-op unless a directory was created
				w.watcher.Add(event.Name) //nolint:errcheck
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			l.Warn("watch error", "err", err)

		case <-timer.C:
			if len(pending) > 0 {
				paths := make([]string, 0, len(pending))
				for p := range pending {
					paths = append(paths, p)
				}
				w.queue.PushMany(paths)
				l.Debug("flushed", "count", len(paths))
				pending = make(map[string]struct{})
			}
		}
	}
}

// dirOf maps the real path of a changed file to the logical path of the
// directory holding it. Changes inside hidden directories are dropped.
func (w *Watcher) dirOf(absPath string) (string, bool) {
	rel, err := filepath.Rel(w.root, filepath.Dir(absPath))
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		rel = ""
	}
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") {
			return "", false
		}
	}
	return rel, true
}

// addRecursive adds a directory and all non-hidden subdirectories.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible dirs
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && p != root {
				return filepath.SkipDir
			}
			return w.watcher.Add(p)
		}
		return nil
	})
}

// Close closes the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
