package candev

import (
	"github.com/kstaniek/go-can-chardev/internal/can"
	"github.com/kstaniek/go-can-chardev/internal/sem"
)

// txFIFO is the outbound ring. Three cursors split the slots into
// acknowledged (before head), in flight (head..queue) and enqueued but
// not yet handed to hardware (queue..tail). Ignoring wrap, the driver
// maintains head <= queue <= tail; head == tail means empty and implies
// queue == head.
type txFIFO struct {
	head  int // oldest in-flight slot, advanced by TxDone
	queue int // next slot to hand to hardware, advanced by xmit
	tail  int // next free slot, advanced by writers
	sem   *sem.Counting
	buf   []can.Msg
}

func newTxFIFO(n int) txFIFO {
	return txFIFO{sem: sem.New(0), buf: make([]can.Msg, n)}
}

func (f *txFIFO) next(i int) int {
	if i++; i >= len(f.buf) {
		return 0
	}
	return i
}

func (f *txFIFO) empty() bool { return f.head == f.tail }
func (f *txFIFO) full() bool  { return f.next(f.tail) == f.head }

func (f *txFIFO) reset() {
	f.head, f.queue, f.tail = 0, 0, 0
}

// rxFIFO is the inbound ring. head is the next slot to deliver, tail
// the next free slot.
type rxFIFO struct {
	head int
	tail int
	sem  *sem.Counting
	buf  []can.Msg
}

func newRxFIFO(n int) rxFIFO {
	return rxFIFO{sem: sem.New(0), buf: make([]can.Msg, n)}
}

func (f *rxFIFO) next(i int) int {
	if i++; i >= len(f.buf) {
		return 0
	}
	return i
}

func (f *rxFIFO) empty() bool { return f.head == f.tail }

func (f *rxFIFO) reset() {
	f.head, f.tail = 0, 0
}
