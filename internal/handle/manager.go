package handle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"

	"rsbridge/internal/abi"
	"rsbridge/internal/errs"
	"rsbridge/internal/layout"
	"rsbridge/internal/trace"
)

// Natives runs the guest helper functions that own handle storage.
type Natives interface {
	CallSig(ctx context.Context, symbol string, sig abi.Signature, args []any) (any, error)
	Memory() abi.Memory
	// Scratch returns memory that lives until the returned func is called.
	Scratch() (abi.Allocator, func())
}

// Options configure a Manager.
type Options struct {
	MaxDeferred int // per kind; default 1000
	MaxAttempts int // flush attempts before a release is failed; default 3
	Symbols     SymbolFunc
	Target      layout.Target
	Types       *abi.Registry
	Logger      *slog.Logger
}

const (
	DefaultMaxDeferred = 1000
	DefaultMaxAttempts = 3
)

// Manager creates, shares and releases handles.
type Manager struct {
	natives Natives
	opts    Options
	engine  *layout.LayoutEngine
	types   *abi.Registry
	log     *slog.Logger
	queues  map[Kind]*queue // fixed at construction
}

// NewManager returns a manager calling helpers through natives.
func NewManager(natives Natives, opts Options) *Manager {
	if opts.MaxDeferred <= 0 {
		opts.MaxDeferred = DefaultMaxDeferred
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Symbols == nil {
		opts.Symbols = DefaultSymbol
	}
	if opts.Target.PtrSize == 0 {
		opts.Target = layout.X86_64LinuxGNU()
	}
	if opts.Types == nil {
		opts.Types = abi.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &Manager{
		natives: natives,
		opts:    opts,
		engine:  layout.New(opts.Target),
		types:   opts.Types,
		log:     opts.Logger,
		queues:  make(map[Kind]*queue, len(kindNames)),
	}
	for k := range kindNames {
		m.queues[Kind(k)] = &queue{max: opts.MaxDeferred}
	}
	return m
}

func (m *Manager) elemType(kind Kind, spelling string) (*abi.Type, error) {
	t, err := m.types.Parse(spelling)
	if err != nil {
		return nil, &errs.HandleError{Type: kind.String() + "<" + spelling + ">", Op: "acquire", Kind: errs.ErrUnsupported, Err: err}
	}
	return t, nil
}

func (m *Manager) codec(alloc abi.Allocator) *abi.Codec {
	return abi.NewCodec(m.engine, alloc, m.natives.Memory())
}

func (m *Manager) wrap(st *state, owned bool) *Handle {
	h := &Handle{m: m, st: st, owned: owned}
	if owned {
		h.cleanup = runtime.AddCleanup(h, m.finalize, st)
	}
	return h
}

// Acquire takes ownership of a Box, Rc or Arc at addr holding elem.
func (m *Manager) Acquire(kind Kind, addr uintptr, elem string) (*Handle, error) {
	if kind != Box && !kind.Shared() {
		return nil, &errs.HandleError{Type: kind.String(), Op: "acquire", Kind: errs.ErrUnsupported}
	}
	et, err := m.elemType(kind, elem)
	if err != nil {
		return nil, err
	}
	return m.wrap(&state{kind: kind, elem: et, addr: addr}, true), nil
}

// AcquireVec takes ownership of a guest Vec.
func (m *Manager) AcquireVec(v abi.VecValue, elem string) (*Handle, error) {
	et, err := m.elemType(Vec, elem)
	if err != nil {
		return nil, err
	}
	if v.Len > v.Cap {
		return nil, &errs.HandleError{Type: TypeName(Vec, et), Op: "acquire", Kind: errs.ErrOutOfBounds, Err: fmt.Errorf("len %d exceeds cap %d", v.Len, v.Cap)}
	}
	return m.wrap(&state{kind: Vec, elem: et, vec: v}, true), nil
}

var opaque = abi.PtrTo(nil, true)

// New moves value into a fresh native Box, Rc or Arc.
func (m *Manager) New(ctx context.Context, kind Kind, elem string, value any) (*Handle, error) {
	if kind != Box && !kind.Shared() {
		return nil, &errs.HandleError{Type: kind.String(), Op: "new", Kind: errs.ErrUnsupported}
	}
	et, err := m.elemType(kind, elem)
	if err != nil {
		return nil, err
	}
	sym := m.opts.Symbols(kind, OpNew, et)
	sig := abi.Signature{Params: []*abi.Type{et}, Return: opaque}
	res, err := m.natives.CallSig(ctx, sym, sig, []any{value})
	if err != nil {
		return nil, &errs.HandleError{Type: TypeName(kind, et), Op: "new", Err: err}
	}
	return m.wrap(&state{kind: kind, elem: et, addr: res.(abi.Pointer).Addr}, true), nil
}

// NewVec copies the elements of a host slice into a fresh guest Vec.
func (m *Manager) NewVec(ctx context.Context, elem string, values any) (*Handle, error) {
	et, err := m.elemType(Vec, elem)
	if err != nil {
		return nil, err
	}
	name := TypeName(Vec, et)
	rv := reflect.ValueOf(values)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, &errs.HandleError{Type: name, Op: "new", Kind: errs.ErrUnsupported, Err: fmt.Errorf("%T is not a slice", values)}
	}
	alloc, free := m.natives.Scratch()
	defer free()
	codec := m.codec(alloc)
	size, err := codec.SizeOf(et)
	if err != nil {
		return nil, &errs.HandleError{Type: name, Op: "new", Err: err}
	}
	n := rv.Len()
	data, buf, err := alloc.Alloc(max(n*size, 1))
	if err != nil {
		return nil, &errs.HandleError{Type: name, Op: "new", Err: err}
	}
	for i := range n {
		if err := codec.EncodeInto(buf[i*size:], et, rv.Index(i).Interface()); err != nil {
			return nil, &errs.HandleError{Type: name, Op: "new", Kind: errs.ErrUnsupported, Err: fmt.Errorf("element %d: %w", i, err)}
		}
	}
	sym := m.opts.Symbols(Vec, OpFromArray, et)
	sig := abi.Signature{Params: []*abi.Type{abi.PtrTo(et, false), abi.Scalar(abi.Usize)}, Return: abi.VecOf(et)}
	res, err := m.natives.CallSig(ctx, sym, sig, []any{abi.Pointer{Addr: data}, uint64(n)})
	if err != nil {
		return nil, &errs.HandleError{Type: name, Op: "new", Err: err}
	}
	return m.AcquireVec(res.(abi.VecValue), elem)
}

// Release releases h exactly once. Releasing an already released handle is a
// no-op. When the native release fails the release is deferred; only a full
// deferred queue is reported.
func (m *Manager) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	st := h.st
	st.mu.Lock()
	if st.released {
		st.mu.Unlock()
		return nil
	}
	st.released = true
	item := Deferred{Kind: st.kind, Elem: st.elem, Addr: st.addr, Vec: st.vec}
	st.mu.Unlock()
	if !h.owned {
		return nil
	}
	h.cleanup.Stop()
	return m.release(ctx, item)
}

// finalize runs when an unreleased handle becomes unreachable. It must not
// panic or block on the caller.
func (m *Manager) finalize(st *state) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("handle finalizer panicked", "type", st.typeName(), "panic", r)
		}
	}()
	st.mu.Lock()
	if st.released {
		st.mu.Unlock()
		return
	}
	st.released = true
	item := Deferred{Kind: st.kind, Elem: st.elem, Addr: st.addr, Vec: st.vec}
	st.mu.Unlock()
	if err := m.release(context.Background(), item); err != nil {
		m.log.Warn("finalizer could not release handle", "type", st.typeName(), "err", err)
	}
}

func (m *Manager) dropCall(item Deferred) (string, abi.Signature, []any) {
	sym := m.opts.Symbols(item.Kind, OpDrop, item.Elem)
	if item.Kind == Vec {
		return sym, abi.Signature{Params: []*abi.Type{abi.VecOf(item.Elem)}, Return: abi.Scalar(abi.Void)}, []any{item.Vec}
	}
	return sym, abi.Signature{Params: []*abi.Type{opaque}, Return: abi.Scalar(abi.Void)}, []any{abi.Pointer{Addr: item.Addr}}
}

func (m *Manager) release(ctx context.Context, item Deferred) error {
	if item.Kind != Vec && item.Addr == 0 {
		return nil
	}
	sym, sig, args := m.dropCall(item)
	item.Symbol = sym
	_, err := m.natives.CallSig(ctx, sym, sig, args)
	if err == nil {
		if m.Pending(item.Kind) > 0 {
			m.flushKind(ctx, item.Kind)
		}
		return nil
	}

	item.Attempts = 1
	item.Err = err
	name := TypeName(item.Kind, item.Elem)
	if !m.queues[item.Kind].push(item) {
		m.log.Error("deferred release queue full", "type", name, "max", m.opts.MaxDeferred, "err", err)
		return &errs.HandleError{Type: name, Op: "defer", Kind: errs.ErrQueueFull, Err: err}
	}
	trace.Point(trace.FromContext(ctx), trace.ScopeCall, "handle.defer", name, trace.CurrentSpan(ctx).SpanID)
	m.log.Warn("handle release deferred", "type", name, "symbol", sym, "err", err)
	return nil
}

// Share clones an Rc or Arc. The guest reference count is incremented by
// the native clone helper and the new handle is released independently.
func (m *Manager) Share(ctx context.Context, h *Handle) (*Handle, error) {
	if h == nil {
		return nil, errors.New("share of nil handle")
	}
	st := h.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.kind.Shared() {
		return nil, &errs.HandleError{Type: st.typeName(), Op: "share", Kind: errs.ErrUnsupported}
	}
	if err := h.live("share"); err != nil {
		return nil, err
	}
	sym := m.opts.Symbols(st.kind, OpClone, st.elem)
	sig := abi.Signature{Params: []*abi.Type{opaque}, Return: opaque}
	res, err := m.natives.CallSig(ctx, sym, sig, []any{abi.Pointer{Addr: st.addr}})
	if err != nil {
		return nil, &errs.HandleError{Type: st.typeName(), Op: "share", Err: err}
	}
	return m.wrap(&state{kind: st.kind, elem: st.elem, addr: res.(abi.Pointer).Addr}, true), nil
}
