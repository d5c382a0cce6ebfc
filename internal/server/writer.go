package server

import (
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-can-chardev/internal/can"
	"github.com/kstaniek/go-can-chardev/internal/hub"
	"github.com/kstaniek/go-can-chardev/internal/metrics"
)

// startWriter launches the goroutine pushing hub frames to a single client connection.
func (s *Server) startWriter(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			if s.Hub != nil {
				s.Hub.Remove(cl)
			}
			s.clientsMu.Lock()
			delete(s.clients, cl)
			s.clientsMu.Unlock()
			s.totalDisconnected.Add(1)
			logger.Info("client_disconnected")
		}()
		t := time.NewTicker(s.flushInterval)
		defer t.Stop()
		batch := make([]can.Msg, 0, s.batchSize)
		enc, canBatch := s.Codec.(interface {
			EncodeTo(io.Writer, []can.Msg) (int, error)
		})
		flush := func() error {
			if len(batch) == 0 || !canBatch {
				batch = batch[:0]
				return nil
			}
			n := len(batch)
			_, err := enc.EncodeTo(conn, batch)
			batch = batch[:0]
			if err != nil {
				metrics.IncError(metrics.ErrTCPWrite)
				logger.Warn("conn_write_error", "error", err)
				return err
			}
			metrics.AddTCPTx(n)
			return nil
		}
		for {
			select {
			case m := <-cl.Out:
				batch = append(batch, m)
				if len(batch) >= s.batchSize {
					if err := flush(); err != nil {
						return
					}
				}
			case <-t.C:
				if err := flush(); err != nil {
					return
				}
			case <-cl.Closed:
				_ = flush()
				return
			case <-ctxDone:
				_ = flush()
				return
			}
		}
	}()
}
