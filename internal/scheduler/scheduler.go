// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package scheduler runs pipeline work under two bounded concurrency
// classes, CPU and IO (spec.md §4.6). The pool lifecycle (start, graceful
// stop with a grace period, forced abort) follows the shape of the
// teacher's cron-driven job scheduler; host-aware pool sizing reuses the
// gopsutil polling idiom of the teacher's system monitor.
package scheduler

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/nishisan-dev/chunkcore/internal/chunkcore"
)

// Class selects which bounded pool a task runs under.
type Class int

const (
	ClassCPU Class = iota
	ClassIO
)

// Task is an opaque unit of work submitted to the scheduler.
type Task func(ctx context.Context) (any, error)

// Future is the handle returned by Submit; Await blocks for its result.
type Future struct {
	done   chan struct{}
	result any
	err    error
}

// Await blocks until the task completes, ctx is cancelled, or deadline
// elapses (when ctx carries one) — returning Timeout in that case.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, chunkcore.New("scheduler.Future.Await", chunkcore.KindTimeout)
	}
}

// Options configures pool sizing.
type Options struct {
	// IOCap and CPUCap, when > 0, pin the pool sizes. Zero means compute
	// the spec default from the host.
	IOCap  int
	CPUCap int
	// HostAware samples live CPU core count via gopsutil instead of
	// runtime.NumCPU() when computing defaults.
	HostAware bool
}

// Scheduler is a two-pool (CPU, IO) work-conserving task runner.
type Scheduler struct {
	cpuQueue chan func()
	ioQueue  chan func()

	wg sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	stopping bool
	inFlight int

	stopCh chan struct{}
}

// New constructs and starts a Scheduler with the given Options, applying
// spec.md's defaults (`IO_cap = min(32, 2*cores)`, `CPU_cap = cores`) when
// a cap is left at zero.
func New(opts Options) *Scheduler {
	cores := hostCores(opts.HostAware)

	cpuCap := opts.CPUCap
	if cpuCap <= 0 {
		cpuCap = cores
	}
	ioCap := opts.IOCap
	if ioCap <= 0 {
		ioCap = 2 * cores
		if ioCap > 32 {
			ioCap = 32
		}
	}

	s := &Scheduler{
		cpuQueue: make(chan func()),
		ioQueue:  make(chan func()),
		stopCh:   make(chan struct{}),
	}

	for i := 0; i < cpuCap; i++ {
		s.wg.Add(1)
		go s.worker(s.cpuQueue)
	}
	for i := 0; i < ioCap; i++ {
		s.wg.Add(1)
		go s.worker(s.ioQueue)
	}

	return s
}

func hostCores(hostAware bool) int {
	if !hostAware {
		return runtime.NumCPU()
	}
	counts, err := cpu.Counts(true)
	if err != nil || counts <= 0 {
		return runtime.NumCPU()
	}
	return counts
}

func (s *Scheduler) worker(queue chan func()) {
	defer s.wg.Done()
	for {
		select {
		case fn, ok := <-queue:
			if !ok {
				return
			}
			fn()
		case <-s.stopCh:
			return
		}
	}
}

// Submit enqueues task under class, returning a Future for its result.
// Fails with ProcessorClosed-equivalent Cancelled if the scheduler is
// shutting down or closed.
func (s *Scheduler) Submit(ctx context.Context, class Class, task Task) (*Future, error) {
	s.mu.Lock()
	if s.closed || s.stopping {
		s.mu.Unlock()
		return nil, chunkcore.New("scheduler.Submit", chunkcore.KindCancelled)
	}
	s.inFlight++
	s.mu.Unlock()

	f := &Future{done: make(chan struct{})}
	run := func() {
		defer func() {
			s.mu.Lock()
			s.inFlight--
			s.mu.Unlock()
			close(f.done)
		}()
		f.result, f.err = task(ctx)
	}

	queue := s.cpuQueue
	if class == ClassIO {
		queue = s.ioQueue
	}

	select {
	case queue <- run:
		return f, nil
	case <-s.stopCh:
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
		return nil, chunkcore.New("scheduler.Submit", chunkcore.KindCancelled)
	case <-ctx.Done():
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
		return nil, chunkcore.Wrap("scheduler.Submit", chunkcore.KindCancelled, ctx.Err())
	}
}

// AwaitAll blocks for every future to settle or for timeout to elapse,
// whichever comes first, returning per-future results in submission
// order. A future that did not settle before timeout surfaces Timeout as
// its error; the underlying task continues running regardless.
func (s *Scheduler) AwaitAll(futures []*Future, timeout time.Duration) []Result {
	ctx := context.Background()
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	results := make([]Result, len(futures))
	var wg sync.WaitGroup
	for i, f := range futures {
		wg.Add(1)
		go func(i int, f *Future) {
			defer wg.Done()
			val, err := f.Await(ctx)
			results[i] = Result{Value: val, Err: err}
		}(i, f)
	}
	wg.Wait()
	return results
}

// Result is one task's outcome as reported by AwaitAll.
type Result struct {
	Value any
	Err   error
}

// Shutdown stops accepting new tasks and waits up to grace for in-flight
// tasks to finish, then signals every worker to stop and waits for the
// workers to exit. A task still running after grace is not interrupted:
// Shutdown returns only once that task returns. shutdown_now is
// Shutdown(0).
func (s *Scheduler) Shutdown(grace time.Duration) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	s.mu.Unlock()

	deadline := time.NewTimer(grace)
	defer deadline.Stop()

	drained := make(chan struct{})
	go func() {
		for {
			s.mu.Lock()
			n := s.inFlight
			s.mu.Unlock()
			if n <= 0 {
				close(drained)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	select {
	case <-drained:
	case <-deadline.C:
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	close(s.stopCh)
	s.wg.Wait()
}
