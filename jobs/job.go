package jobs

import (
	"context"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a job.
type State int32

const (
	Queued State = iota
	Running
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether s is final.
func (s State) Terminal() bool {
	return s >= Completed
}

// Task is the work a job performs. ctx is cancelled by ShutdownNow.
type Task[T any] func(ctx context.Context) (T, error)

// Job is a handle on one submitted task.
type Job[T any] struct {
	ID        uint64
	Name      string
	Submitted time.Time

	task  Task[T]
	state atomic.Int32
	done  chan struct{}
	val   T
	err   error
}

func newJob[T any](id uint64, name string, task Task[T]) *Job[T] {
	return &Job[T]{
		ID:        id,
		Name:      name,
		Submitted: time.Now(),
		task:      task,
		done:      make(chan struct{}),
	}
}

// State returns the current state.
func (j *Job[T]) State() State { return State(j.state.Load()) }

// Done is closed once the job reaches a terminal state.
func (j *Job[T]) Done() <-chan struct{} { return j.done }

// Wait blocks until the job finishes or ctx is done. Giving up on the wait
// does not cancel the job.
func (j *Job[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-j.done:
		return j.val, j.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// transition moves the job from one state to another. It fails if the job
// is no longer in from.
func (j *Job[T]) transition(from, to State) bool {
	return j.state.CompareAndSwap(int32(from), int32(to))
}

// finish records the outcome and releases waiters. Callers must have moved
// the job to its terminal state first.
func (j *Job[T]) finish(val T, err error) {
	j.val, j.err = val, err
	close(j.done)
}
