package util

// Semaphore is a simple counting semaphore built on a buffered channel. A
// zero or negative limit means unlimited concurrency: Acquire/Release become
// no-ops.
type Semaphore struct {
	tickets chan struct{}
}

// NewSemaphore creates a semaphore that allows up to limit concurrent holders.
func NewSemaphore(limit int) *Semaphore {
	if limit <= 0 {
		return &Semaphore{}
	}
	return &Semaphore{tickets: make(chan struct{}, limit)}
}

// Acquire blocks until a slot is available.
func (s *Semaphore) Acquire() {
	if s.tickets == nil {
		return
	}
	s.tickets <- struct{}{}
}

// Release frees a previously-acquired slot.
func (s *Semaphore) Release() {
	if s.tickets == nil {
		return
	}
	<-s.tickets
}
