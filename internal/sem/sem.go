// Package sem implements the counting semaphore used to wake blocked
// readers, writers and RTR waiters. Posts may come from interrupt-side
// code holding the device's interrupt line, so Post never blocks. Wait
// is the one suspension primitive in the driver: it atomically drops
// the caller's interrupt line while suspended and re-masks it before
// returning, and it is interruptible through a context.
package sem

import (
	"context"
	"sync"
)

// Masker is the interrupt line a waiter holds across Wait. A nil Masker
// means the caller holds no line (e.g. the open/close serialization
// semaphore).
type Masker interface {
	Mask()
	Unmask()
}

type waiter chan struct{}

// Counting is a counting semaphore.
type Counting struct {
	mu      sync.Mutex
	count   int
	waiters []waiter // FIFO
}

// New returns a semaphore with the given initial count.
func New(n int) *Counting {
	return &Counting{count: n}
}

func (s *Counting) lock()   { s.mu.Lock() }
func (s *Counting) unlock() { s.mu.Unlock() }

// Post increments the count or hands the credit to the oldest waiter.
// It never blocks and is safe to call while holding an interrupt line.
func (s *Counting) Post() {
	s.lock()
	if len(s.waiters) > 0 {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(w)
	} else {
		s.count++
	}
	s.unlock()
}

// TryWait consumes a credit without blocking and reports whether one
// was available.
func (s *Counting) TryWait() bool {
	s.lock()
	ok := s.count > 0
	if ok {
		s.count--
	}
	s.unlock()
	return ok
}

// Wait consumes a credit, suspending the caller until one is posted.
// If line is non-nil it is unmasked for the duration of the suspension
// and re-masked before Wait returns, so callers must re-validate any
// predicate they checked under the line. Cancellation of ctx aborts the
// wait and returns ctx.Err(); a credit posted concurrently with the
// cancellation is not lost.
func (s *Counting) Wait(ctx context.Context, line Masker) error {
	s.lock()
	if s.count > 0 {
		s.count--
		s.unlock()
		return nil
	}
	w := make(waiter)
	s.waiters = append(s.waiters, w)
	s.unlock()

	if line != nil {
		line.Unmask()
		defer line.Mask()
	}

	var done <-chan struct{}
	if ctx != nil {
		done = ctx.Done()
	}
	select {
	case <-w:
		return nil
	case <-done:
		s.lock()
		for i, q := range s.waiters {
			if q == w {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				s.unlock()
				return ctx.Err()
			}
		}
		s.unlock()
		// Already handed a credit between cancellation and dequeue;
		// put it back so no post is lost.
		select {
		case <-w:
			s.Post()
		default:
		}
		return ctx.Err()
	}
}
