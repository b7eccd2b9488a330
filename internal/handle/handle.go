package handle

import (
	"context"
	"runtime"
	"sync"

	"rsbridge/internal/abi"
	"rsbridge/internal/errs"
)

// state is shared between a Handle and its cleanup so the cleanup never
// keeps the Handle itself reachable.
type state struct {
	mu       sync.Mutex
	kind     Kind
	elem     *abi.Type
	addr     uintptr
	vec      abi.VecValue // Vec and Slice
	released bool
	parent   *state // Slice: the owning Vec
}

func (s *state) typeName() string { return TypeName(s.kind, s.elem) }

// Handle is a host reference to a native value.
type Handle struct {
	m       *Manager
	st      *state
	cleanup runtime.Cleanup
	owned   bool
}

// Kind returns the ownership flavour.
func (h *Handle) Kind() Kind { return h.st.kind }

// Elem returns the element type.
func (h *Handle) Elem() *abi.Type { return h.st.elem }

// TypeName renders the guest type, e.g. "Arc<f64>".
func (h *Handle) TypeName() string { return h.st.typeName() }

// Address returns the native address. Vec and Slice handles report the
// buffer pointer. Address implements abi.Addressable, so handles can be
// passed directly as pointer arguments.
func (h *Handle) Address() uintptr {
	h.st.mu.Lock()
	defer h.st.mu.Unlock()
	if h.st.kind == Vec || h.st.kind == Slice {
		return h.st.vec.Ptr
	}
	return h.st.addr
}

// RustType makes handles usable in generic inference.
func (h *Handle) RustType() string { return "*mut c_void" }

// Released reports whether the handle was released.
func (h *Handle) Released() bool {
	h.st.mu.Lock()
	defer h.st.mu.Unlock()
	return h.st.released
}

// Release releases the handle. A second release is a no-op.
func (h *Handle) Release(ctx context.Context) error { return h.m.Release(ctx, h) }

// live reports ErrReleased for operations on a released handle or on a slice
// whose owner was released. The caller holds st.mu.
func (h *Handle) live(op string) error {
	if h.st.released || (h.st.parent != nil && h.st.parent.isReleased()) {
		return &errs.HandleError{Type: h.st.typeName(), Op: op, Kind: errs.ErrReleased}
	}
	return nil
}

func (s *state) isReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}
