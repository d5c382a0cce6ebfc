package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-can-chardev/internal/can"
	"github.com/kstaniek/go-can-chardev/internal/candev"
	"github.com/kstaniek/go-can-chardev/internal/devfs"
	"github.com/kstaniek/go-can-chardev/internal/hub"
	"github.com/kstaniek/go-can-chardev/internal/metrics"
	"github.com/kstaniek/go-can-chardev/internal/transport"
)

var errDeviceTxOverflow = errors.New("device tx overflow")

// runBridge wires the open device handle to the hub: a drain goroutine
// broadcasts every frame the device delivers, and the returned send
// function funnels client frames into the device through a single
// async writer.
func runBridge(ctx context.Context, h *hub.Hub, handle *devfs.Handle, fd bool, l *slog.Logger, wg *sync.WaitGroup) (func(can.Msg) error, func()) {
	send := func(m can.Msg) error {
		buf := make([]byte, can.MsgLen(can.MaxDataFD))
		n, err := can.EncodeMsg(buf, &m, fd)
		if err != nil {
			return err
		}
		_, err = handle.Write(ctx, buf[:n])
		return err
	}
	tw := transport.NewAsyncTx(ctx, txQueueSize, send, transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrDevWrite)
			l.Error("device_write_error", "error", err)
		},
		OnDrop: func() error {
			metrics.IncError(metrics.ErrDevOverflow)
			return errDeviceTxOverflow
		},
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("device_drain_end")
		buf := make([]byte, bridgeReadBufSize)
		for {
			n, err := handle.Read(ctx, buf)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, candev.ErrInterrupted) || errors.Is(err, devfs.ErrClosed) {
					return
				}
				metrics.IncError(metrics.ErrDevRead)
				l.Warn("device_read_error", "error", err)
				continue
			}
			for off := 0; off < n; {
				m, used, err := can.DecodeMsg(buf[off:n], fd)
				if err != nil {
					metrics.IncMalformed()
					l.Warn("device_frame_decode_error", "error", err)
					break
				}
				off += used
				h.Broadcast(m)
			}
		}
	}()

	return tw.SendFrame, tw.Close
}
