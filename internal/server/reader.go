package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-can-chardev/internal/can"
	"github.com/kstaniek/go-can-chardev/internal/hub"
	"github.com/kstaniek/go-can-chardev/internal/metrics"
)

// startReader launches the goroutine draining client frames toward the
// device.
func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = conn.Close() }()

		forward := func(m can.Msg) {
			metrics.IncTCPRx()
			if err := s.Send(m); err != nil {
				s.totalDeviceErrors.Add(1)
				metrics.IncError(metrics.ErrDevWrite)
				logger.Warn("device_tx_error", "error", err, "can_id", fmt.Sprintf("0x%X", m.Hdr.ID))
			}
		}

		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))

			var count int
			var err error
			if mfd, ok := s.Codec.(interface {
				DecodeN(io.Reader, int, func(can.Msg)) (int, error)
			}); ok {
				count, err = mfd.DecodeN(conn, 16, forward)
			} else {
				var m can.Msg
				m, err = s.Codec.Decode(conn)
				if err == nil {
					forward(m)
					count = 1
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				metrics.IncError(metrics.ErrTCPRead)
				logger.Warn("conn_read_error", "error", err)
				return
			}
			if count == 0 {
				time.Sleep(100 * time.Microsecond)
			}
			select {
			case <-ctxDone:
				return
			case <-cl.Closed:
				return
			default:
			}
		}
	}()
}
