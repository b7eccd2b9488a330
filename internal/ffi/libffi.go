//go:build (linux || darwin) && cgo

package ffi

/*
#cgo linux LDFLAGS: -ldl
#cgo pkg-config: libffi
#include <ffi.h>
#include <dlfcn.h>
#include <stdlib.h>
#include <string.h>

static ffi_status rsb_prep_cif(ffi_cif* cif, unsigned int n, ffi_type* rtype, ffi_type** atypes) {
	return ffi_prep_cif(cif, FFI_DEFAULT_ABI, n, rtype, atypes);
}

static void rsb_ffi_call(ffi_cif* cif, void* fn, void* rvalue, void** avalue) {
	ffi_call(cif, (void (*)(void))fn, rvalue, avalue);
}

static ffi_type* rsb_struct_type(size_t n) {
	ffi_type* t = (ffi_type*)calloc(1, sizeof(ffi_type));
	if (!t) return NULL;
	t->type = FFI_TYPE_STRUCT;
	t->elements = (ffi_type**)calloc(n + 1, sizeof(ffi_type*));
	if (!t->elements) { free(t); return NULL; }
	return t;
}

static void rsb_set_element(ffi_type* t, size_t i, ffi_type* e) {
	t->elements[i] = e;
}

static void* rsb_dlopen(const char* path) {
	return dlopen(path, RTLD_NOW | RTLD_LOCAL);
}

static const char* rsb_dlerror(void) {
	return dlerror();
}

static void* rsb_dlsym_clear(void* h, const char* name, char** err) {
	dlerror();
	void* p = dlsym(h, name);
	char* e = dlerror();
	if (e) { if (err) *err = e; return NULL; }
	if (err) *err = NULL;
	return p;
}

static int rsb_dlclose(void* h) {
	return dlclose(h);
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"rsbridge/internal/abi"
	"rsbridge/internal/errs"
)

type libffiBackend struct {
	mu    sync.Mutex
	cifs  map[string]*C.ffi_cif
	types map[string]*C.ffi_type
}

// New returns the libffi backend.
func New() (Backend, error) {
	return &libffiBackend{
		cifs:  make(map[string]*C.ffi_cif),
		types: make(map[string]*C.ffi_type),
	}, nil
}

func dlerr() string {
	if e := C.rsb_dlerror(); e != nil {
		return C.GoString(e)
	}
	return "unknown dlerror"
}

type library struct {
	path string
	mu   sync.Mutex
	h    unsafe.Pointer
}

func (b *libffiBackend) Open(path string) (Library, error) {
	cs := C.CString(path)
	defer C.free(unsafe.Pointer(cs))
	h := C.rsb_dlopen(cs)
	if h == nil {
		return nil, fmt.Errorf("dlopen(%q) failed: %s", path, dlerr())
	}
	return &library{path: path, h: h}, nil
}

func (l *library) Symbol(name string) (uintptr, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.h == nil {
		return 0, fmt.Errorf("%s: library closed", l.path)
	}
	cs := C.CString(name)
	defer C.free(unsafe.Pointer(cs))
	var cerr *C.char
	p := C.rsb_dlsym_clear(l.h, cs, &cerr)
	if cerr != nil || p == nil {
		detail := "null symbol"
		if cerr != nil {
			detail = C.GoString(cerr)
		}
		return 0, fmt.Errorf("%w: %s: %s", errs.ErrMissingSymbol, name, detail)
	}
	return uintptr(p), nil
}

func (l *library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.h == nil {
		return nil
	}
	rc := C.rsb_dlclose(l.h)
	l.h = nil
	if rc != 0 {
		return fmt.Errorf("dlclose(%q) failed: %s", l.path, dlerr())
	}
	return nil
}

// ffiType maps an ABI type onto a libffi type. Aggregates are built once per
// layout key and live as long as the backend.
func (b *libffiBackend) ffiType(t *abi.Type) (*C.ffi_type, error) {
	wide := unsafe.Sizeof(uintptr(0)) == 8
	switch t.Kind {
	case abi.Void:
		return &C.ffi_type_void, nil
	case abi.I8:
		return &C.ffi_type_sint8, nil
	case abi.I16:
		return &C.ffi_type_sint16, nil
	case abi.I32:
		return &C.ffi_type_sint32, nil
	case abi.I64:
		return &C.ffi_type_sint64, nil
	case abi.Isize:
		if wide {
			return &C.ffi_type_sint64, nil
		}
		return &C.ffi_type_sint32, nil
	case abi.U8, abi.Bool:
		return &C.ffi_type_uint8, nil
	case abi.U16:
		return &C.ffi_type_uint16, nil
	case abi.U32, abi.Char:
		return &C.ffi_type_uint32, nil
	case abi.U64:
		return &C.ffi_type_uint64, nil
	case abi.Usize:
		if wide {
			return &C.ffi_type_uint64, nil
		}
		return &C.ffi_type_uint32, nil
	case abi.F32:
		return &C.ffi_type_float, nil
	case abi.F64:
		return &C.ffi_type_double, nil
	case abi.Ptr, abi.CStr:
		return &C.ffi_type_pointer, nil
	}

	if t.Attrs.Packed || t.Attrs.AlignOverride > 0 {
		return nil, fmt.Errorf("%w: %s with packed or aligned repr cannot be passed by value", errs.ErrUnsupported, t)
	}
	key := t.LayoutKey()
	if ft, ok := b.types[key]; ok {
		return ft, nil
	}
	var elems []*C.ffi_type
	switch t.Kind {
	case abi.Array:
		et, err := b.ffiType(t.Elem)
		if err != nil {
			return nil, err
		}
		for range t.Len {
			elems = append(elems, et)
		}
	case abi.Str, abi.Struct, abi.Option, abi.Result, abi.Vec:
		for _, f := range t.LayoutFields() {
			ft := f.(*abi.Type)
			if ft.IsVoid() {
				continue
			}
			et, err := b.ffiType(ft)
			if err != nil {
				return nil, err
			}
			elems = append(elems, et)
		}
	default:
		return nil, fmt.Errorf("%w: %s", errs.ErrUnsupported, t)
	}
	if len(elems) == 0 {
		return nil, fmt.Errorf("%w: zero-sized %s by value", errs.ErrUnsupported, t)
	}
	st := C.rsb_struct_type(C.size_t(len(elems)))
	if st == nil {
		return nil, fmt.Errorf("ffi: out of memory")
	}
	for i, e := range elems {
		C.rsb_set_element(st, C.size_t(i), e)
	}
	b.types[key] = st
	return st, nil
}

func (b *libffiBackend) prepare(sig abi.Signature) (*C.ffi_cif, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := sig.String()
	if cif, ok := b.cifs[key]; ok {
		return cif, nil
	}
	rtype, err := b.ffiType(sig.Return)
	if err != nil {
		return nil, fmt.Errorf("return: %w", err)
	}
	n := len(sig.Params)
	var atypes **C.ffi_type
	if n > 0 {
		atypes = (**C.ffi_type)(C.calloc(C.size_t(n), C.size_t(unsafe.Sizeof(uintptr(0)))))
		vec := unsafe.Slice(atypes, n)
		for i, p := range sig.Params {
			if vec[i], err = b.ffiType(p); err != nil {
				C.free(unsafe.Pointer(atypes))
				return nil, fmt.Errorf("parameter %d: %w", i, err)
			}
		}
	}
	cif := (*C.ffi_cif)(C.calloc(1, C.size_t(unsafe.Sizeof(C.ffi_cif{}))))
	if st := C.rsb_prep_cif(cif, C.uint(n), rtype, atypes); st != C.FFI_OK {
		C.free(unsafe.Pointer(cif))
		C.free(unsafe.Pointer(atypes))
		return nil, fmt.Errorf("ffi_prep_cif(%s) failed: %d", key, int(st))
	}
	b.cifs[key] = cif
	return cif, nil
}

func (b *libffiBackend) Call(fn uintptr, sig abi.Signature, args [][]byte, ret []byte) error {
	if fn == 0 {
		return errs.ErrNilFunction
	}
	if len(args) != len(sig.Params) {
		return fmt.Errorf("%w: %d arguments for %s", errs.ErrArity, len(args), sig)
	}
	cif, err := b.prepare(sig)
	if err != nil {
		return err
	}

	var argv *unsafe.Pointer
	if n := len(args); n > 0 {
		argv = (*unsafe.Pointer)(C.calloc(C.size_t(n), C.size_t(unsafe.Sizeof(uintptr(0)))))
		defer C.free(unsafe.Pointer(argv))
		slots := unsafe.Slice(argv, n)
		for i, a := range args {
			p := C.malloc(C.size_t(max(len(a), 1)))
			defer C.free(p)
			if len(a) > 0 {
				C.memcpy(p, unsafe.Pointer(&a[0]), C.size_t(len(a)))
			}
			slots[i] = p
		}
	}
	// libffi widens small integer returns to ffi_arg
	rsize := max(len(ret), 8)
	rbuf := C.calloc(1, C.size_t(rsize))
	defer C.free(rbuf)

	C.rsb_ffi_call(cif, unsafe.Pointer(fn), rbuf, argv)
	if len(ret) > 0 {
		copy(ret, unsafe.Slice((*byte)(rbuf), len(ret)))
	}
	return nil
}

type arena struct {
	mu     sync.Mutex
	blocks []unsafe.Pointer
}

func (b *libffiBackend) NewArena() Arena { return &arena{} }

func (a *arena) Alloc(n int) (uintptr, []byte, error) {
	p := C.calloc(1, C.size_t(max(n, 1)))
	if p == nil {
		return 0, nil, fmt.Errorf("ffi: out of memory allocating %d bytes", n)
	}
	a.mu.Lock()
	a.blocks = append(a.blocks, p)
	a.mu.Unlock()
	return uintptr(p), unsafe.Slice((*byte)(p), max(n, 1))[:n], nil
}

func (a *arena) Free() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.blocks {
		C.free(p)
	}
	a.blocks = nil
}

type nativeMemory struct{}

func (b *libffiBackend) Memory() abi.Memory { return nativeMemory{} }

func (nativeMemory) Read(addr uintptr, n int) ([]byte, error) {
	if addr == 0 {
		return nil, fmt.Errorf("read of %d bytes at null", n)
	}
	if n == 0 {
		return nil, nil
	}
	return C.GoBytes(unsafe.Pointer(addr), C.int(n)), nil
}

func (nativeMemory) Write(addr uintptr, b []byte) error {
	if addr == 0 {
		return fmt.Errorf("write of %d bytes at null", len(b))
	}
	if len(b) > 0 {
		C.memcpy(unsafe.Pointer(addr), unsafe.Pointer(&b[0]), C.size_t(len(b)))
	}
	return nil
}

func (nativeMemory) CString(addr uintptr) (string, error) {
	if addr == 0 {
		return "", fmt.Errorf("null string pointer")
	}
	return C.GoString((*C.char)(unsafe.Pointer(addr))), nil
}
