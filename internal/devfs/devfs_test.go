package devfs

import (
	"context"
	"errors"
	"testing"
)

type recordingOps struct {
	opens, releases int
	lastFlags       OpenFlag
	lastCmd         int
}

func (o *recordingOps) Open(ctx context.Context) error    { o.opens++; return nil }
func (o *recordingOps) Release(ctx context.Context) error { o.releases++; return nil }

func (o *recordingOps) Read(ctx context.Context, flags OpenFlag, p []byte) (int, error) {
	o.lastFlags = flags
	return 0, nil
}

func (o *recordingOps) Write(ctx context.Context, flags OpenFlag, p []byte) (int, error) {
	o.lastFlags = flags
	return len(p), nil
}

func (o *recordingOps) Ioctl(ctx context.Context, cmd int, arg any) (int, error) {
	o.lastCmd = cmd
	return 0, nil
}

func TestRegisterAndOpen(t *testing.T) {
	reg := NewRegistry()
	ops := &recordingOps{}
	if err := reg.Register("/dev/can0", 0o666, ops); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("/dev/can0", 0o666, ops); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate register: got %v", err)
	}

	node, ok := reg.Lookup("/dev/can0")
	if !ok || node.Mode != 0o666 || node.Path != "/dev/can0" {
		t.Fatalf("lookup: %+v %v", node, ok)
	}

	ctx := context.Background()
	h, err := reg.OpenFile(ctx, "/dev/can0", NonBlock)
	if err != nil {
		t.Fatal(err)
	}
	if ops.opens != 1 {
		t.Fatalf("opens=%d", ops.opens)
	}
	if _, err := h.Read(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if ops.lastFlags&NonBlock == 0 {
		t.Fatal("NonBlock flag not passed through")
	}
	if _, err := h.Ioctl(ctx, 7, nil); err != nil || ops.lastCmd != 7 {
		t.Fatalf("ioctl cmd=%d err=%v", ops.lastCmd, err)
	}

	if err := h.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if ops.releases != 1 {
		t.Fatalf("releases=%d want 1 (idempotent close)", ops.releases)
	}
	if _, err := h.Read(ctx, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("read after close: %v", err)
	}
}

func TestOpenUnknownPath(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.OpenFile(context.Background(), "/dev/none", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestUnregister(t *testing.T) {
	reg := NewRegistry()
	ops := &recordingOps{}
	if err := reg.Register("/dev/can1", 0o666, ops); err != nil {
		t.Fatal(err)
	}
	if err := reg.Unregister("/dev/can1"); err != nil {
		t.Fatal(err)
	}
	if err := reg.Unregister("/dev/can1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double unregister: %v", err)
	}
	if _, err := reg.OpenFile(context.Background(), "/dev/can1", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("open after unregister: %v", err)
	}
}
