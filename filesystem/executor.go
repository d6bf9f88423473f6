package filesystem

import (
	"context"
	"errors"
	"sync"
)

var ErrExecutorClosed = errors.New("filesystem: executor closed")

type job struct {
	fn   func() error
	done chan error
}

// Executor runs blocking file operations on a fixed set of worker goroutines,
// so that disk stalls queue up here instead of multiplying across connections.
type Executor struct {
	jobs chan job
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewExecutor(workers int) *Executor {
	if workers < 1 {
		workers = 1
	}

	executor := &Executor{
		jobs: make(chan job),
	}

	executor.wg.Add(workers)
	for range workers {
		go executor.work()
	}

	return executor
}

func (executor *Executor) work() {
	defer executor.wg.Done()

	for j := range executor.jobs {
		j.done <- j.fn()
	}
}

// Do runs fn on a worker and returns its error. If ctx ends first, Do returns
// ctx.Err(); a job already picked up by a worker still runs to completion.
func (executor *Executor) Do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	j := job{fn: fn, done: make(chan error, 1)}

	executor.mu.RLock()
	if executor.closed {
		executor.mu.RUnlock()
		return ErrExecutorClosed
	}
	select {
	case executor.jobs <- j:
		executor.mu.RUnlock()
	case <-ctx.Done():
		executor.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for the workers to finish.
func (executor *Executor) Close() {
	executor.mu.Lock()
	if !executor.closed {
		executor.closed = true
		close(executor.jobs)
	}
	executor.mu.Unlock()

	executor.wg.Wait()
}
