package candev

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kstaniek/go-can-chardev/internal/work"
)

// DefaultDrainInterval is the pause between TX drain polls in Release.
const DefaultDrainInterval = 500 * time.Millisecond

// Config sizes and shapes a device. The zero value is not usable; NTx
// and NRx must be at least 2 and NRtr at least 1.
type Config struct {
	// NTx and NRx are the ring capacities in slots. One TX slot is
	// always kept free to distinguish full from empty, so a ring of
	// NTx slots buffers NTx-1 frames.
	NTx int
	NRx int

	// NRtr is the size of the pending remote-request table.
	NRtr int

	// FD selects the CAN FD data length coding (payloads up to 64
	// bytes); otherwise classic CAN coding applies.
	FD bool

	// ExtID accepts 29-bit identifiers. When false the extended-id
	// flag is stripped from frames in both directions.
	ExtID bool

	// Errors enables the internal error latch. Latched errors are
	// reported to the next reader as a synthesized error frame.
	Errors bool

	// TxReadyWork enables the deferred TX-ready path for controllers
	// with a hardware TX FIFO: TxReady schedules a transmit kick on
	// this queue. Nil disables the path and TX interrupts are turned
	// off whenever the software ring drains.
	TxReadyWork *work.Queue

	// DrainInterval is the pause between ring/hardware drain polls
	// during the last close. Zero means DefaultDrainInterval.
	DrainInterval time.Duration

	// BusyWaitClose spins instead of sleeping between drain polls, for
	// hosts where blocking sleeps are unavailable during shutdown.
	BusyWaitClose bool

	// Logger overrides the global logger for this device.
	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.NTx < 2 {
		return fmt.Errorf("candev: NTx must be >= 2 (got %d)", c.NTx)
	}
	if c.NRx < 2 {
		return fmt.Errorf("candev: NRx must be >= 2 (got %d)", c.NRx)
	}
	if c.NRtr < 1 {
		return fmt.Errorf("candev: NRtr must be >= 1 (got %d)", c.NRtr)
	}
	return nil
}

func (c *Config) drainInterval() time.Duration {
	if c.DrainInterval > 0 {
		return c.DrainInterval
	}
	return DefaultDrainInterval
}
