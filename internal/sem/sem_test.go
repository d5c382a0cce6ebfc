package sem

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeLine struct {
	mu       sync.Mutex
	unmasked bool
}

func (l *fakeLine) Mask()   { l.mu.Lock(); l.unmasked = false; l.mu.Unlock() }
func (l *fakeLine) Unmask() { l.mu.Lock(); l.unmasked = true; l.mu.Unlock() }

func TestTryWaitCounts(t *testing.T) {
	s := New(2)
	if !s.TryWait() || !s.TryWait() {
		t.Fatal("initial credits missing")
	}
	if s.TryWait() {
		t.Fatal("TryWait succeeded on empty semaphore")
	}
	s.Post()
	if !s.TryWait() {
		t.Fatal("posted credit not consumed")
	}
}

func TestWaitBlocksUntilPost(t *testing.T) {
	s := New(0)
	done := make(chan error, 1)
	go func() { done <- s.Wait(context.Background(), nil) }()
	select {
	case <-done:
		t.Fatal("Wait returned before Post")
	case <-time.After(20 * time.Millisecond):
	}
	s.Post()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake after Post")
	}
}

func TestWaitUnmasksLine(t *testing.T) {
	s := New(0)
	line := &fakeLine{}
	line.Mask()
	released := make(chan struct{})
	go func() {
		for {
			line.mu.Lock()
			u := line.unmasked
			line.mu.Unlock()
			if u {
				close(released)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	done := make(chan error, 1)
	go func() { done <- s.Wait(context.Background(), line) }()
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("Wait did not release the line while suspended")
	}
	s.Post()
	if err := <-done; err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if line.unmasked {
		t.Fatal("line not re-masked after Wait")
	}
}

func TestWaitCancelled(t *testing.T) {
	s := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Wait(ctx, nil) }()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("got %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled Wait did not return")
	}
	// A post after the aborted wait must still be a full credit.
	s.Post()
	if !s.TryWait() {
		t.Fatal("credit lost after cancelled wait")
	}
}

func TestPostWakesInFIFOOrder(t *testing.T) {
	s := New(0)
	order := make(chan int, 2)
	ready := make(chan struct{})
	go func() {
		close(ready)
		_ = s.Wait(context.Background(), nil)
		order <- 1
	}()
	<-ready
	time.Sleep(10 * time.Millisecond)
	go func() {
		_ = s.Wait(context.Background(), nil)
		order <- 2
	}()
	time.Sleep(10 * time.Millisecond)
	s.Post()
	select {
	case got := <-order:
		if got != 1 {
			t.Fatalf("first wake was waiter %d", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no waiter woke")
	}
	s.Post()
	<-order
}
