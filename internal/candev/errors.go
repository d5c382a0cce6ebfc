package candev

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the facade and the interrupt-side entry
// points. Lower-half errors are propagated unchanged.
var (
	// ErrWouldBlock reports a non-blocking read on an empty RX ring or
	// a non-blocking write on a full TX ring.
	ErrWouldBlock = errors.New("candev: operation would block")

	// ErrInterrupted reports a wait aborted by context cancellation.
	ErrInterrupted = errors.New("candev: interrupted")

	// ErrTooManyOpens reports that the open count would wrap.
	ErrTooManyOpens = errors.New("candev: too many opens")

	// ErrNoSlot reports a full pending-RTR table.
	ErrNoSlot = errors.New("candev: no free rtr slot")

	// ErrBusy reports that deferred TX-ready work is already scheduled.
	ErrBusy = errors.New("candev: txready work already scheduled")

	// ErrTxEmpty reports a completion or TX-ready notification with an
	// empty transmit ring.
	ErrTxEmpty = errors.New("candev: tx fifo empty")

	// ErrRxOverflow reports an inbound frame dropped on a full RX ring.
	ErrRxOverflow = errors.New("candev: rx fifo overflow")

	// ErrTxReadyDisabled reports a TxReady call on a device configured
	// without a deferred-work queue.
	ErrTxReadyDisabled = errors.New("candev: txready not configured")

	// ErrBadIoctl reports an ioctl argument of the wrong type.
	ErrBadIoctl = errors.New("candev: bad ioctl argument")
)

// errNothingToSend is the internal result of xmit on an empty ring.
var errNothingToSend = errors.New("candev: nothing to send")

func interrupted(cause error) error {
	return fmt.Errorf("%w: %w", ErrInterrupted, cause)
}
