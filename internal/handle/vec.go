package handle

import (
	"context"
	"fmt"

	"rsbridge/internal/abi"
	"rsbridge/internal/errs"
)

func (h *Handle) sequence(op string) error {
	if k := h.st.kind; k != Vec && k != Slice {
		return &errs.HandleError{Type: h.st.typeName(), Op: op, Kind: errs.ErrUnsupported}
	}
	return h.live(op)
}

// Len returns the element count of a Vec or Slice handle.
func (h *Handle) Len() int {
	h.st.mu.Lock()
	defer h.st.mu.Unlock()
	return int(h.st.vec.Len)
}

// Cap returns the capacity of a Vec handle.
func (h *Handle) Cap() int {
	h.st.mu.Lock()
	defer h.st.mu.Unlock()
	return int(h.st.vec.Cap)
}

// VecValue returns the current {ptr, len, cap} of a Vec or Slice handle.
func (h *Handle) VecValue() abi.VecValue {
	h.st.mu.Lock()
	defer h.st.mu.Unlock()
	return h.st.vec
}

// elemAt returns the address and size of element i. The caller holds st.mu.
func (h *Handle) elemAt(op string, i int) (uintptr, int, error) {
	if i < 0 || uint64(i) >= h.st.vec.Len {
		return 0, 0, &errs.HandleError{Type: h.st.typeName(), Op: op, Kind: errs.ErrOutOfBounds,
			Err: fmt.Errorf("index %d, len %d", i, h.st.vec.Len)}
	}
	size, err := h.m.codec(nil).SizeOf(h.st.elem)
	if err != nil {
		return 0, 0, &errs.HandleError{Type: h.st.typeName(), Op: op, Err: err}
	}
	return h.st.vec.Ptr + uintptr(i*size), size, nil
}

// Get decodes element i.
func (h *Handle) Get(i int) (any, error) {
	h.st.mu.Lock()
	defer h.st.mu.Unlock()
	if err := h.sequence("get"); err != nil {
		return nil, err
	}
	addr, size, err := h.elemAt("get", i)
	if err != nil {
		return nil, err
	}
	mem := h.m.natives.Memory()
	raw, err := mem.Read(addr, size)
	if err != nil {
		return nil, &errs.HandleError{Type: h.st.typeName(), Op: "get", Err: err}
	}
	v, err := h.m.codec(nil).Decode(h.st.elem, raw)
	if err != nil {
		return nil, &errs.HandleError{Type: h.st.typeName(), Op: "get", Err: err}
	}
	return v, nil
}

// Set overwrites element i in place. Elements needing guest allocations
// (strings) cannot be set.
func (h *Handle) Set(i int, v any) error {
	h.st.mu.Lock()
	defer h.st.mu.Unlock()
	if err := h.sequence("set"); err != nil {
		return err
	}
	addr, _, err := h.elemAt("set", i)
	if err != nil {
		return err
	}
	img, err := h.m.codec(nil).Encode(h.st.elem, v)
	if err != nil {
		return &errs.HandleError{Type: h.st.typeName(), Op: "set", Kind: errs.ErrUnsupported, Err: err}
	}
	if err := h.m.natives.Memory().Write(addr, img); err != nil {
		return &errs.HandleError{Type: h.st.typeName(), Op: "set", Err: err}
	}
	return nil
}

// Values decodes every element.
func (h *Handle) Values() ([]any, error) {
	h.st.mu.Lock()
	defer h.st.mu.Unlock()
	if err := h.sequence("values"); err != nil {
		return nil, err
	}
	out, err := h.m.codec(nil).ReadVec(abi.VecOf(h.st.elem), h.st.vec)
	if err != nil {
		return nil, &errs.HandleError{Type: h.st.typeName(), Op: "values", Err: err}
	}
	return out, nil
}

// Append pushes v through the native push helper, which may reallocate.
// Slices borrowed from the Vec before the push must not be used afterwards.
func (h *Handle) Append(ctx context.Context, v any) error {
	h.st.mu.Lock()
	defer h.st.mu.Unlock()
	if h.st.kind != Vec {
		return &errs.HandleError{Type: h.st.typeName(), Op: "append", Kind: errs.ErrUnsupported}
	}
	if err := h.live("append"); err != nil {
		return err
	}
	vt := abi.VecOf(h.st.elem)
	sym := h.m.opts.Symbols(Vec, OpPush, h.st.elem)
	sig := abi.Signature{Params: []*abi.Type{vt, h.st.elem}, Return: vt}
	res, err := h.m.natives.CallSig(ctx, sym, sig, []any{h.st.vec, v})
	if err != nil {
		return &errs.HandleError{Type: h.st.typeName(), Op: "append", Err: err}
	}
	h.st.vec = res.(abi.VecValue)
	return nil
}

// Slice borrows elements [from, to) of a Vec or Slice. The slice is not
// owned: releasing it is a no-op, and it becomes unusable once its owner is
// released.
func (h *Handle) Slice(from, to int) (*Handle, error) {
	h.st.mu.Lock()
	defer h.st.mu.Unlock()
	if err := h.sequence("slice"); err != nil {
		return nil, err
	}
	if from < 0 || to < from || uint64(to) > h.st.vec.Len {
		return nil, &errs.HandleError{Type: h.st.typeName(), Op: "slice", Kind: errs.ErrOutOfBounds,
			Err: fmt.Errorf("range [%d:%d], len %d", from, to, h.st.vec.Len)}
	}
	size, err := h.m.codec(nil).SizeOf(h.st.elem)
	if err != nil {
		return nil, &errs.HandleError{Type: h.st.typeName(), Op: "slice", Err: err}
	}
	parent := h.st
	if parent.parent != nil {
		parent = parent.parent
	}
	n := uint64(to - from)
	st := &state{
		kind:   Slice,
		elem:   h.st.elem,
		vec:    abi.VecValue{Ptr: h.st.vec.Ptr + uintptr(from*size), Len: n, Cap: n},
		parent: parent,
	}
	return h.m.wrap(st, false), nil
}
