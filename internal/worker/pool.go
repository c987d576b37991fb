// Package worker provides a fixed-size worker pool. Workers are started
// once and live until the pool is stopped, so submitting work never
// creates goroutines.
package worker

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrPoolNotStarted indicates the pool hasn't been started yet.
	ErrPoolNotStarted = errors.New("worker pool not started")
	// ErrPoolAlreadyStarted indicates Start was called twice.
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	// ErrQueueFull indicates the work queue is at capacity.
	ErrQueueFull = errors.New("worker pool queue full")
	// ErrNilProcessor indicates a nil processor function was provided.
	ErrNilProcessor = errors.New("processor function cannot be nil")
)

// Pool processes work items of type T with a fixed number of goroutines.
type Pool[T any] struct {
	workers   int
	queueSize int
	process   func(T)

	work    chan T
	wg      sync.WaitGroup
	mu      sync.Mutex
	running int32

	processed int64
}

// NewPool creates a new pool. It panics if process is nil.
func NewPool[T any](workers, queueSize int, process func(T)) *Pool[T] {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if process == nil {
		panic(ErrNilProcessor)
	}
	return &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		process:   process,
	}
}

// Start starts all workers.
func (p *Pool[T]) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if atomic.LoadInt32(&p.running) == 1 {
		return ErrPoolAlreadyStarted
	}
	p.work = make(chan T, p.queueSize)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(p.work)
	}
	atomic.StoreInt32(&p.running, 1)
	return nil
}

// Submit queues the work without blocking.
func (p *Pool[T]) Submit(w T) error {
	if atomic.LoadInt32(&p.running) == 0 {
		return ErrPoolNotStarted
	}
	select {
	case p.work <- w:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for all workers to exit. Queued work is
// processed before workers exit.
func (p *Pool[T]) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if atomic.LoadInt32(&p.running) == 0 {
		return
	}
	atomic.StoreInt32(&p.running, 0)
	close(p.work)
	p.wg.Wait()
}

// Workers returns number of workers.
func (p *Pool[T]) Workers() int {
	return p.workers
}

// QueueSize returns capacity of the work queue.
func (p *Pool[T]) QueueSize() int {
	return p.queueSize
}

// Processed returns number of processed work items.
func (p *Pool[T]) Processed() int64 {
	return atomic.LoadInt64(&p.processed)
}

func (p *Pool[T]) worker(work <-chan T) {
	defer p.wg.Done()
	for w := range work {
		p.process(w)
		atomic.AddInt64(&p.processed, 1)
	}
}
