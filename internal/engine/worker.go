package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// PoolMetrics counts the iterations a pool has run.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// WorkerPool runs the iterations of one mapped step with bounded
// concurrency. It keeps the first error returned by any iteration.
type WorkerPool struct {
	slots chan struct{}
	done  chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
	first  error

	active, completed, failed, panics atomic.Int64
}

// NewWorkerPool creates a pool running at most size iterations at once.
// A non-positive size means one.
func NewWorkerPool(size int) *WorkerPool {
	return &WorkerPool{
		slots: make(chan struct{}, max(size, 1)),
		done:  make(chan struct{}),
	}
}

// Submit starts fn once a slot is free. It blocks while the pool is full
// and gives up when ctx is cancelled or the pool shuts down.
func (p *WorkerPool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	p.active.Add(1)
	go p.run(ctx, fn)
	return nil
}

// acquire takes a slot and registers the iteration with the wait group.
func (p *WorkerPool) acquire(ctx context.Context) error {
	if p.isClosed() {
		return ErrPoolShutdown
	}
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}

	// Shutdown may have won the race for the slot; wg.Add stays under the
	// lock so its Wait cannot miss an iteration.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		<-p.slots
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	return nil
}

func (p *WorkerPool) run(ctx context.Context, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.fail(fmt.Errorf("panic: %v", r))
		}
		p.active.Add(-1)
		<-p.slots
		p.wg.Done()
	}()

	if err := fn(ctx); err != nil {
		p.fail(err)
		return
	}
	p.completed.Add(1)
}

func (p *WorkerPool) fail(err error) {
	p.failed.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.first == nil {
		p.first = err
	}
}

func (p *WorkerPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Wait blocks until every submitted iteration returned and reports the
// first error.
func (p *WorkerPool) Wait() error {
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.first
}

// Shutdown rejects further submissions and waits for running iterations.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the counters.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
	}
}
