// Package threads provides the execution contexts user processes run on and
// the semaphore they synchronize with.
package threads

import (
	"runtime"
	"sync"
)

// Scheduler creates and switches between execution contexts.
type Scheduler interface {
	// Fork starts fn on a new execution context.
	Fork(name string, fn func())

	// Yield gives up the CPU to other runnable contexts.
	Yield()

	// Finish terminates the calling context. It does not return.
	Finish()
}

// GoroutineScheduler runs every context on its own goroutine.
type GoroutineScheduler struct {
	wg sync.WaitGroup
}

// NewGoroutineScheduler creates a scheduler.
func NewGoroutineScheduler() *GoroutineScheduler {
	return &GoroutineScheduler{}
}

// Fork starts fn on a new goroutine.
func (s *GoroutineScheduler) Fork(_ string, fn func()) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Yield lets other goroutines run.
func (s *GoroutineScheduler) Yield() {
	runtime.Gosched()
}

// Finish ends the calling goroutine after running its deferred calls.
func (s *GoroutineScheduler) Finish() {
	runtime.Goexit()
}

// Wait blocks until every forked context has finished.
func (s *GoroutineScheduler) Wait() {
	s.wg.Wait()
}
