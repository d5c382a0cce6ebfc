// Package irq provides the interrupt-mask discipline the character
// driver uses for mutual exclusion between thread-level entry points
// and interrupt-side callbacks.
//
// On the original hardware this is a global CPU mask; here a Line is a
// per-device mutex dressed in the save-and-restore idiom so call sites
// read the same way kernel code does:
//
//	st := dev.line.Save()
//	defer st.Restore()
//
// A Line is not reentrant. Code that already holds the line calls the
// *Locked variants of its callees instead of saving again; the blocking
// wait primitive (sem.Counting.Wait) releases the line while the caller
// is suspended and re-acquires it before returning.
package irq

import "sync"

// Line is one interrupt mask line.
type Line struct {
	mu sync.Mutex
}

// State is the saved mask state returned by Save.
type State struct {
	line *Line
}

// Save masks the line and returns the state to restore.
func (l *Line) Save() State {
	l.mu.Lock()
	return State{line: l}
}

// Restore unmasks the line saved by Save.
func (s State) Restore() {
	s.line.mu.Unlock()
}

// Mask acquires the line directly. It exists for the wait primitive,
// which must re-mask on wakeup without minting a new State.
func (l *Line) Mask() { l.mu.Lock() }

// Unmask releases the line directly.
func (l *Line) Unmask() { l.mu.Unlock() }
