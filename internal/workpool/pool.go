// Package workpool provides a bounded pool of workers for independent
// per-table file operations.
//
// Submission to a closed pool fails with ErrClosed rather than blocking
// or panicking, so callers can detect that the execution substrate is
// unavailable (for example during process shutdown) and fall back to
// running their batch sequentially.
package workpool

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// ErrClosed is returned by Submit after the pool has been closed.
var ErrClosed = errors.New("workpool: pool is closed")

// DefaultWorkers returns the default pool size: four workers per CPU,
// capped at 32.
func DefaultWorkers() int {
	n := runtime.NumCPU() * 4
	if n > 32 {
		n = 32
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Pool runs submitted tasks on a fixed number of worker goroutines.
type Pool struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New starts a pool with the given number of workers. workers must be at
// least 1.
func New(workers int) (*Pool, error) {
	if workers < 1 {
		return nil, fmt.Errorf("workpool: workers must be at least 1 (got %d)", workers)
	}
	p := &Pool{tasks: make(chan func())}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for fn := range p.tasks {
				fn()
			}
		}()
	}
	return p, nil
}

// Submit hands fn to a worker, blocking until one is free. It returns
// ErrClosed if the pool has been closed.
//
// The lock is held across the send so Submit and Close never race on the
// task channel; a blocked Submit delays Close until a worker picks the
// task up.
func (p *Pool) Submit(fn func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.tasks <- fn
	return nil
}

// Close stops accepting new tasks and waits for in-flight tasks to
// finish. Close is idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
