package dircache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagescaler/pagescaler/docpath"
)

func TestRefreshQueue_PushPop(t *testing.T) {
	q := NewRefreshQueue()

	q.Push("a")
	q.Push("b")
	assert.Equal(t, 2, q.Len())

	done := make(chan struct{})
	p, ok := q.Pop(done)
	require.True(t, ok)
	assert.Equal(t, "a", p)

	p, ok = q.Pop(done)
	require.True(t, ok)
	assert.Equal(t, "b", p)

	assert.Equal(t, 0, q.Len())
}

func TestRefreshQueue_Dedup(t *testing.T) {
	q := NewRefreshQueue()

	q.Push("book")
	q.PushMany([]string{"book", "book", "other"})

	assert.Equal(t, 2, q.Len())
	assert.True(t, q.Has("book"))
	assert.False(t, q.Has("missing"))
}

func TestRefreshQueue_PopBlocks(t *testing.T) {
	q := NewRefreshQueue()
	done := make(chan struct{})

	result := make(chan string, 1)
	go func() {
		if p, ok := q.Pop(done); ok {
			result <- p
		}
	}()

	select {
	case <-result:
		t.Fatal("Pop should block when queue is empty")
	case <-time.After(50 * time.Millisecond):
	}

	q.Push("wakeup")

	select {
	case p := <-result:
		assert.Equal(t, "wakeup", p)
	case <-time.After(time.Second):
		t.Fatal("Pop should have unblocked")
	}
}

func TestRefreshQueue_PopDone(t *testing.T) {
	q := NewRefreshQueue()
	done := make(chan struct{})
	close(done)

	_, ok := q.Pop(done)
	assert.False(t, ok)
}

func TestRefreshQueue_Drain(t *testing.T) {
	q := NewRefreshQueue()
	q.PushMany([]string{"a", "b", "c"})

	assert.Equal(t, []string{"a", "b", "c"}, q.Drain())
	assert.Equal(t, 0, q.Len())
	assert.False(t, q.Has("a"))
}

func TestWatcher_DirOf(t *testing.T) {
	w := &Watcher{root: "/base"}

	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"/base/book/p1.jpg", "book", true},
		{"/base/book/sub/index.meta", "book/sub", true},
		{"/base/p1.jpg", "", true},
		{"/base/.trash/p1.jpg", "", false},
		{"/elsewhere/p1.jpg", "", false},
	}
	for _, tt := range tests {
		got, ok := w.dirOf(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestRefresher_Loop(t *testing.T) {
	fsys := bookFs(t)
	c := newTestCache(t, fsys)
	d, err := c.Resolve("book")
	require.NoError(t, err)

	r := NewRefresher(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Loop(ctx)

	writeFile(t, fsys, "/base/book/p3.jpg", "x")
	touchDir(t, fsys, "/base/book", time.Hour)
	r.Queue().Push("book")

	// the refresher repopulates without any request touching the cache
	require.Eventually(t, func() bool {
		s := d.snap.Load()
		return len(s.index[docpath.ClassImage]) == 4
	}, time.Second, 10*time.Millisecond)
}
