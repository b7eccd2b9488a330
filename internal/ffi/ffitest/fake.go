// Package ffitest provides an in-process ffi.Backend whose "native" functions
// are Go closures operating on a simulated heap.
package ffitest

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"rsbridge/internal/abi"
	"rsbridge/internal/errs"
	"rsbridge/internal/ffi"
	"rsbridge/internal/testkit"
)

// Func stands in for a native function. It receives the argument images and
// fills the return image.
type Func func(args [][]byte, ret []byte) error

// Backend is a fake native backend.
type Backend struct {
	Heap *testkit.Heap

	// Resolve, when set, is consulted before the global symbol table. It lets
	// tests give different artifacts different behaviour.
	Resolve func(path, symbol string) (Func, bool)

	// RequireFile makes Open fail for paths that do not exist on disk.
	RequireFile bool

	// EmulateThunks resolves every rsb_thunk_* symbol to a Go function with
	// the (fn, argv, ret) contract of generated thunks.
	EmulateThunks bool

	mu      sync.Mutex
	symbols map[string]Func
	funcs   map[uintptr]Func
	next    uintptr

	calls      atomic.Int64
	opened     atomic.Int64
	closed     atomic.Int64
	thunkLoads atomic.Int64
}

var _ ffi.Backend = (*Backend)(nil)

// New returns an empty fake backend.
func New() *Backend {
	return &Backend{
		Heap:    testkit.NewHeap(),
		symbols: make(map[string]Func),
		funcs:   make(map[uintptr]Func),
		next:    0x7f0000000000,
	}
}

// Define makes symbol resolvable in every library.
func (b *Backend) Define(symbol string, fn Func) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.symbols[symbol] = fn
}

// Calls returns the number of completed calls.
func (b *Backend) Calls() int64 { return b.calls.Load() }

// Opened returns the number of Open calls that succeeded.
func (b *Backend) Opened() int64 { return b.opened.Load() }

// Closed returns the number of libraries closed.
func (b *Backend) Closed() int64 { return b.closed.Load() }

// ThunkLoads returns how many thunk symbols were resolved.
func (b *Backend) ThunkLoads() int64 { return b.thunkLoads.Load() }

func (b *Backend) addr(fn Func) uintptr {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next += 16
	b.funcs[b.next] = fn
	return b.next
}

type library struct {
	b    *Backend
	path string
	once sync.Once
}

func (b *Backend) Open(path string) (ffi.Library, error) {
	if b.RequireFile {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("dlopen(%q) failed: %w", path, err)
		}
	}
	b.opened.Add(1)
	return &library{b: b, path: path}, nil
}

func (l *library) Symbol(name string) (uintptr, error) {
	if l.b.Resolve != nil {
		if fn, ok := l.b.Resolve(l.path, name); ok {
			if fn == nil {
				return 0, nil
			}
			return l.b.addr(fn), nil
		}
	}
	if l.b.EmulateThunks && strings.HasPrefix(name, "rsb_thunk_") {
		l.b.thunkLoads.Add(1)
		return l.b.addr(l.b.thunk), nil
	}
	l.b.mu.Lock()
	fn, ok := l.b.symbols[name]
	l.b.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", errs.ErrMissingSymbol, name)
	}
	return l.b.addr(fn), nil
}

func (l *library) Close() error {
	l.once.Do(func() { l.b.closed.Add(1) })
	return nil
}

func (b *Backend) Call(fn uintptr, sig abi.Signature, args [][]byte, ret []byte) error {
	if fn == 0 {
		return errs.ErrNilFunction
	}
	if len(args) != len(sig.Params) {
		return fmt.Errorf("%w: %d arguments for %s", errs.ErrArity, len(args), sig)
	}
	b.mu.Lock()
	f, ok := b.funcs[fn]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("call of unmapped address %#x", fn)
	}
	if err := f(args, ret); err != nil {
		return err
	}
	b.calls.Add(1)
	return nil
}

// thunk reads argument images through argv, calls fn and writes the result
// through ret. Argument slots end at the first null pointer.
func (b *Backend) thunk(args [][]byte, _ []byte) error {
	fn, argv, ret := Ptr(args[0]), Ptr(args[1]), Ptr(args[2])
	b.mu.Lock()
	f, ok := b.funcs[fn]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("thunk target %#x is unmapped", fn)
	}
	slots, err := b.Heap.Block(argv)
	if err != nil {
		return err
	}
	var images [][]byte
	for i := 0; i+8 <= len(slots); i += 8 {
		addr := Ptr(slots[i:])
		if addr == 0 {
			break
		}
		img, err := b.Heap.Block(addr)
		if err != nil {
			return err
		}
		images = append(images, img)
	}
	out, err := b.Heap.Block(ret)
	if err != nil {
		return err
	}
	if err := f(images, out); err != nil {
		return err
	}
	return b.Heap.Write(ret, out)
}

type arena struct {
	heap  *testkit.Heap
	mu    sync.Mutex
	addrs []uintptr
}

func (b *Backend) NewArena() ffi.Arena { return &arena{heap: b.Heap} }

func (a *arena) Alloc(n int) (uintptr, []byte, error) {
	addr, buf, err := a.heap.Alloc(n)
	if err != nil {
		return 0, nil, err
	}
	a.mu.Lock()
	a.addrs = append(a.addrs, addr)
	a.mu.Unlock()
	return addr, buf, nil
}

func (a *arena) Free() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, addr := range a.addrs {
		_ = a.heap.Free(addr)
	}
	a.addrs = nil
}

func (b *Backend) Memory() abi.Memory { return b.Heap }

var le = binary.LittleEndian

// I64 decodes an i64 argument image.
func I64(b []byte) int64 { return int64(le.Uint64(b)) }

// PutI64 writes an i64 return image.
func PutI64(b []byte, v int64) { le.PutUint64(b, uint64(v)) }

// I32 decodes an i32 argument image.
func I32(b []byte) int32 { return int32(le.Uint32(b)) }

// PutI32 writes an i32 return image.
func PutI32(b []byte, v int32) { le.PutUint32(b, uint32(v)) }

// F64 decodes an f64 argument image.
func F64(b []byte) float64 { return math.Float64frombits(le.Uint64(b)) }

// PutF64 writes an f64 return image.
func PutF64(b []byte, v float64) { le.PutUint64(b, math.Float64bits(v)) }

// Ptr decodes a 64-bit pointer image.
func Ptr(b []byte) uintptr { return uintptr(le.Uint64(b)) }

// PutPtr writes a 64-bit pointer image.
func PutPtr(b []byte, p uintptr) { le.PutUint64(b, uint64(p)) }
