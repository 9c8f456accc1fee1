// Package jobs runs long transformations on a fixed pool of workers with a
// bounded waiting queue, refusing work it cannot take instead of blocking.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marusama/semaphore/v2"

	"github.com/pagescaler/pagescaler/errs"
	"github.com/pagescaler/pagescaler/logging"
	"github.com/pagescaler/pagescaler/metrics"
)

var (
	// ErrClosed is returned by Submit after ShutdownNow.
	ErrClosed = errors.New("job center shut down")
	// ErrCancelled is the failure of jobs abandoned by ShutdownNow.
	ErrCancelled = errors.New("job cancelled")
)

// Config sizes a Center.
type Config struct {
	// Workers is the number of jobs that run at once.
	Workers int
	// MaxWaiting is the number of admitted jobs that may wait for a worker.
	MaxWaiting int
	// BusyMargin makes IsBusy report true that many slots before the
	// waiting queue is full.
	BusyMargin int
}

// Center is a bounded worker pool. At most Workers+MaxWaiting jobs are
// admitted at any time; Submit refuses the rest with errs.ErrOverload.
type Center[T any] struct {
	cfg   Config
	slots semaphore.Semaphore

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*Job[T]
	closed  bool

	running atomic.Int32
	nextID  atomic.Uint64
}

// New starts a center with cfg.Workers workers.
func New[T any](cfg Config) (*Center[T], error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("jobs: need at least one worker, got %d", cfg.Workers)
	}
	if cfg.MaxWaiting < 0 {
		return nil, fmt.Errorf("jobs: negative queue size %d", cfg.MaxWaiting)
	}
	c := &Center[T]{
		cfg:   cfg,
		slots: semaphore.New(cfg.Workers + cfg.MaxWaiting),
	}
	c.cond = sync.NewCond(&c.mu)
	c.ctx, c.cancel = context.WithCancel(context.Background())

	for i := 0; i < cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	logging.Sub("jobs").Info("job center started", "workers", cfg.Workers, "maxWaiting", cfg.MaxWaiting)
	return c, nil
}

// Submit admits a task. It never blocks: when every worker is busy and the
// waiting queue is full it returns errs.ErrOverload.
func (c *Center[T]) Submit(name string, task Task[T]) (*Job[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if !c.slots.TryAcquire(1) {
		metrics.RecordJobRejected()
		return nil, errs.ErrOverload
	}
	j := newJob(c.nextID.Add(1), name, task)
	c.pending = append(c.pending, j)
	c.cond.Signal()
	c.publishLocked()
	return j, nil
}

// IsBusy reports whether the center is full or within BusyMargin slots of
// it. Callers check it before building a job to refuse work cheaply.
func (c *Center[T]) IsBusy() bool {
	return c.slots.GetCount() >= c.slots.GetLimit()-c.cfg.BusyMargin
}

// Running returns the number of jobs currently executing.
func (c *Center[T]) Running() int { return int(c.running.Load()) }

// Waiting returns the number of admitted jobs not started yet.
func (c *Center[T]) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Config returns the sizing of the center.
func (c *Center[T]) Config() Config { return c.cfg }

// ShutdownNow stops accepting work, cancels the context of running jobs and
// returns every job that was queued but never started. Those jobs end in
// state Cancelled with ErrCancelled. Running jobs are not waited for.
func (c *Center[T]) ShutdownNow() []*Job[T] {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	abandoned := c.pending
	c.pending = nil
	c.cond.Broadcast()
	c.mu.Unlock()

	c.cancel()

	var zero T
	for _, j := range abandoned {
		if j.transition(Queued, Cancelled) {
			j.finish(zero, ErrCancelled)
			metrics.RecordJob(Cancelled.String(), time.Since(j.Submitted))
		}
		c.slots.Release(1)
	}
	c.publish()

	l := logging.Sub("jobs")
	if len(abandoned) > 0 {
		l.Warn("job center shut down with waiting jobs", "abandoned", len(abandoned), "running", c.Running())
	} else {
		l.Info("job center shut down", "running", c.Running())
	}
	return abandoned
}

// Wait blocks until every worker has exited after ShutdownNow.
func (c *Center[T]) Wait() {
	c.wg.Wait()
}

func (c *Center[T]) worker() {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		for len(c.pending) == 0 && !c.closed {
			c.cond.Wait()
		}
		if c.closed {
			c.mu.Unlock()
			return
		}
		j := c.pending[0]
		c.pending[0] = nil
		c.pending = c.pending[1:]
		j.transition(Queued, Running)
		c.running.Add(1)
		c.mu.Unlock()

		c.run(j)

		c.running.Add(-1)
		c.slots.Release(1)
		c.publish()
	}
}

func (c *Center[T]) run(j *Job[T]) {
	start := time.Now()
	val, err := c.call(j)

	state := Completed
	switch {
	case err != nil && c.ctx.Err() != nil:
		state = Cancelled
	case err != nil:
		state = Failed
	}
	j.transition(Running, state)
	j.finish(val, err)
	metrics.RecordJob(state.String(), time.Since(start))

	if err != nil && state == Failed {
		logging.Sub("jobs").Warn("job failed", "job", j.Name, "id", j.ID, "err", err)
	}
}

// call runs the task, turning a panic into a failure.
func (c *Center[T]) call(j *Job[T]) (val T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.Name, r)
		}
	}()
	return j.task(c.ctx)
}

func (c *Center[T]) publish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishLocked()
}

func (c *Center[T]) publishLocked() {
	metrics.SetJobCounts(c.Running(), len(c.pending))
}
