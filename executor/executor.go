package executor

import (
	"errors"
	"runtime"
	"sync"

	"github.com/eapache/queue"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("executor: pool is closed")

// Task is one unit of work.
type Task func()

// Pool runs tasks on a fixed set of worker goroutines fed from an
// unbounded FIFO.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending *queue.Queue
	closed  bool
	wg      sync.WaitGroup
	workers int
}

// New creates a pool with the given number of workers. A non-positive
// count selects min(32, NumCPU+4), the conventional default for
// offloading blocking calls.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU() + 4
		if workers > 32 {
			workers = 32
		}
	}
	p := &Pool{
		pending: queue.New(),
		workers: workers,
	}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

// Submit enqueues a task for execution. It never blocks on queue space.
func (p *Pool) Submit(t Task) error {
	if t == nil {
		return nil
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.pending.Add(t)
	p.mu.Unlock()
	p.cond.Signal()
	return nil
}

// Pending returns the number of queued, not yet started tasks.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending.Length()
}

// Workers returns the worker count the pool was created with.
func (p *Pool) Workers() int {
	return p.workers
}

// Close stops intake, drains queued tasks, and waits for all workers to
// exit. It is idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for p.pending.Length() == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.pending.Length() == 0 {
			p.mu.Unlock()
			return
		}
		task := p.pending.Remove().(Task)
		p.mu.Unlock()
		task()
	}
}
