// Package workerpool provides a bounded goroutine pool for CPU-bound batch
// work. Workers are started lazily and reused across batches, which keeps
// repeated Monte Carlo runs from re-spawning goroutines per call.
package workerpool

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool manages a fixed set of worker goroutines.
//
// Thread safety: all methods are safe for concurrent use. ParallelFor and
// ParallelRange must not be called from inside a pool task; a batch that
// submits to its own pool can deadlock once every worker is waiting.
type Pool struct {
	workers int32
	tasks   chan func()
	running int32
	closed  int32
	wg      sync.WaitGroup
}

// New creates a pool with the given number of workers. Zero or negative
// means GOMAXPROCS, the right size for compute-bound batches. Workers are
// started lazily on first submission.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{
		workers: int32(workers),
		tasks:   make(chan func(), workers),
	}
}

// Submit queues a task for execution, blocking when the queue is full.
// Returns false if the pool is closed or the task is nil.
func (p *Pool) Submit(task func()) bool {
	if task == nil || atomic.LoadInt32(&p.closed) == 1 {
		return false
	}

	// Spawn a worker if below capacity.
	for {
		running := atomic.LoadInt32(&p.running)
		if running >= p.workers {
			break
		}
		if atomic.CompareAndSwapInt32(&p.running, running, running+1) {
			p.wg.Add(1)
			go p.worker()
			break
		}
	}

	p.tasks <- task
	return true
}

func (p *Pool) worker() {
	defer func() {
		atomic.AddInt32(&p.running, -1)
		p.wg.Done()
	}()
	for task := range p.tasks {
		task()
	}
}

// ParallelFor runs fn for every index in [0, n) on the pool and blocks
// until all iterations complete. Iterations must be independent.
func (p *Pool) ParallelFor(n int, fn func(i int)) {
	if n <= 0 {
		return
	}
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		idx := i
		if !p.Submit(func() {
			defer wg.Done()
			fn(idx)
		}) {
			wg.Done()
		}
	}
	wg.Wait()
}

// ParallelRange splits [0, n) into one contiguous chunk per worker and runs
// fn(lo, hi) for each on the pool, blocking until all chunks complete. Use
// it when per-index dispatch would swamp the work itself, as with
// per-column statistic evaluation over millions of columns.
func (p *Pool) ParallelRange(n int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}
	chunks := p.Cap()
	if chunks > n {
		chunks = n
	}
	size := (n + chunks - 1) / chunks

	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		lo, hi := lo, hi
		wg.Add(1)
		if !p.Submit(func() {
			defer wg.Done()
			fn(lo, hi)
		}) {
			wg.Done()
		}
	}
	wg.Wait()
}

// Running returns the current number of live workers.
func (p *Pool) Running() int {
	return int(atomic.LoadInt32(&p.running))
}

// Cap returns the worker capacity.
func (p *Pool) Cap() int {
	return int(atomic.LoadInt32(&p.workers))
}

// Close shuts the pool down after all queued tasks finish. Further submits
// return false.
func (p *Pool) Close() {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return
	}
	close(p.tasks)
	p.wg.Wait()
}

// IsClosed reports whether Close has been called.
func (p *Pool) IsClosed() bool {
	return atomic.LoadInt32(&p.closed) == 1
}
