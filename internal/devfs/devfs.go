// Package devfs is a process-local character-device registry. Drivers
// publish a node under a path with a mode and a set of file operations;
// users open the node and get a Handle carrying per-open flags.
//
// Only the operations the CAN driver implements are modeled: open,
// release, read, write and ioctl. There is no seek and no poll.
package devfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"
)

// OpenFlag carries per-open mode bits.
type OpenFlag uint32

// NonBlock makes Read and Write fail instead of suspending when the
// corresponding ring is empty or full.
const NonBlock OpenFlag = 1 << 0

var (
	ErrExists   = errors.New("devfs: path already registered")
	ErrNotFound = errors.New("devfs: no such device")
	ErrClosed   = errors.New("devfs: handle closed")
)

// Ops are the file operations a registered driver provides.
type Ops interface {
	Open(ctx context.Context) error
	Release(ctx context.Context) error
	Read(ctx context.Context, flags OpenFlag, p []byte) (int, error)
	Write(ctx context.Context, flags OpenFlag, p []byte) (int, error)
	Ioctl(ctx context.Context, cmd int, arg any) (int, error)
}

// Node is one registered device.
type Node struct {
	Path string
	Mode fs.FileMode
	ops  Ops
}

// Registry maps device paths to nodes.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]*Node)}
}

// Register publishes ops under path.
func (r *Registry) Register(path string, mode fs.FileMode, ops Ops) error {
	if path == "" || ops == nil {
		return fmt.Errorf("devfs: invalid registration for %q", path)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[path]; ok {
		return fmt.Errorf("%w: %s", ErrExists, path)
	}
	r.nodes[path] = &Node{Path: path, Mode: mode, ops: ops}
	return nil
}

// Unregister removes path from the registry. Open handles keep working;
// only new opens are affected.
func (r *Registry) Unregister(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[path]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	delete(r.nodes, path)
	return nil
}

// Lookup returns the node registered at path.
func (r *Registry) Lookup(path string) (*Node, bool) {
	r.mu.RLock()
	n, ok := r.nodes[path]
	r.mu.RUnlock()
	return n, ok
}

// OpenFile opens the node at path and returns a handle.
func (r *Registry) OpenFile(ctx context.Context, path string, flags OpenFlag) (*Handle, error) {
	n, ok := r.Lookup(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err := n.ops.Open(ctx); err != nil {
		return nil, err
	}
	return &Handle{node: n, flags: flags}, nil
}

// Handle is one open of a device node.
type Handle struct {
	node   *Node
	flags  OpenFlag
	closed atomic.Bool
}

// Flags returns the open flags.
func (h *Handle) Flags() OpenFlag { return h.flags }

// Read reads from the device into p.
func (h *Handle) Read(ctx context.Context, p []byte) (int, error) {
	if h.closed.Load() {
		return 0, ErrClosed
	}
	return h.node.ops.Read(ctx, h.flags, p)
}

// Write writes p to the device.
func (h *Handle) Write(ctx context.Context, p []byte) (int, error) {
	if h.closed.Load() {
		return 0, ErrClosed
	}
	return h.node.ops.Write(ctx, h.flags, p)
}

// Ioctl issues a device control command.
func (h *Handle) Ioctl(ctx context.Context, cmd int, arg any) (int, error) {
	if h.closed.Load() {
		return 0, ErrClosed
	}
	return h.node.ops.Ioctl(ctx, cmd, arg)
}

// Close releases the open. It is idempotent; only the first call
// reaches the driver.
func (h *Handle) Close(ctx context.Context) error {
	if h.closed.Swap(true) {
		return nil
	}
	return h.node.ops.Release(ctx)
}
