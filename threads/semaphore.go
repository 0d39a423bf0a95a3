package threads

import "sync"

// Semaphore is a counting semaphore. V never blocks; P blocks while the
// value is zero.
type Semaphore struct {
	name  string
	mu    sync.Mutex
	cond  *sync.Cond
	value int
}

// NewSemaphore creates a semaphore with an initial value.
func NewSemaphore(name string, initial int) *Semaphore {
	s := &Semaphore{name: name, value: initial}
	s.cond = sync.NewCond(&s.mu)

	return s
}

// Name returns the debugging name.
func (s *Semaphore) Name() string {
	return s.name
}

// P waits until the value is positive, then decrements it.
func (s *Semaphore) P() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.value == 0 {
		s.cond.Wait()
	}

	s.value--
}

// V increments the value and wakes one waiter.
func (s *Semaphore) V() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.value++
	s.cond.Signal()
}

// Value returns the current value.
func (s *Semaphore) Value() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.value
}
