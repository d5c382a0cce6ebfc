package cnl

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestHandshakeOK(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	ctx := context.Background()
	errCh := make(chan error, 1)
	go func() { errCh <- Handshake(ctx, b, time.Second) }()
	if err := Handshake(ctx, a, time.Second); err != nil {
		t.Fatalf("side a: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("side b: %v", err)
	}
}

func TestHandshakeBadHello(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	go func() {
		buf := make([]byte, len(hello))
		_, _ = b.Read(buf)
		_, _ = b.Write([]byte("NOTCANDEV"))
	}()
	if err := Handshake(context.Background(), a, time.Second); err == nil {
		t.Fatal("handshake accepted a bad hello")
	}
}
