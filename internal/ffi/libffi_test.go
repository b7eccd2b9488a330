//go:build linux && cgo

package ffi

import (
	"errors"
	"testing"

	"rsbridge/internal/abi"
	"rsbridge/internal/errs"
	"rsbridge/internal/layout"
)

func openLibc(t *testing.T) (Backend, Library) {
	t.Helper()
	b, err := New()
	if err != nil {
		t.Skipf("libffi backend: %v", err)
	}
	lib, err := b.Open("libc.so.6")
	if err != nil {
		t.Skipf("libc not loadable: %v", err)
	}
	t.Cleanup(func() { _ = lib.Close() })
	return b, lib
}

func TestCallLibc(t *testing.T) {
	b, lib := openLibc(t)
	arena := b.NewArena()
	defer arena.Free()
	codec := abi.NewCodec(layout.New(layout.X86_64LinuxGNU()), arena, b.Memory())

	labs, err := lib.Symbol("labs")
	if err != nil {
		t.Fatal(err)
	}
	sig := abi.Signature{Params: []*abi.Type{abi.Scalar(abi.I64)}, Return: abi.Scalar(abi.I64)}
	arg, _ := codec.Encode(abi.Scalar(abi.I64), -42)
	ret := make([]byte, 8)
	if err := b.Call(labs, sig, [][]byte{arg}, ret); err != nil {
		t.Fatal(err)
	}
	if got, _ := codec.Decode(abi.Scalar(abi.I64), ret); got != int64(42) {
		t.Fatalf("labs(-42) = %v", got)
	}

	strlen, err := lib.Symbol("strlen")
	if err != nil {
		t.Fatal(err)
	}
	cstr := &abi.Type{Kind: abi.CStr}
	sig = abi.Signature{Params: []*abi.Type{cstr}, Return: abi.Scalar(abi.Usize)}
	arg, err = codec.Encode(cstr, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Call(strlen, sig, [][]byte{arg}, ret); err != nil {
		t.Fatal(err)
	}
	if got, _ := codec.Decode(abi.Scalar(abi.Usize), ret); got != uint64(5) {
		t.Fatalf("strlen = %v", got)
	}
}

func TestMissingSymbolAndNilFunction(t *testing.T) {
	b, lib := openLibc(t)
	if _, err := lib.Symbol("rsbridge_definitely_missing"); !errors.Is(err, errs.ErrMissingSymbol) {
		t.Fatalf("missing symbol error = %v", err)
	}
	sig := abi.Signature{Return: abi.Scalar(abi.Void)}
	if err := b.Call(0, sig, nil, nil); !errors.Is(err, errs.ErrNilFunction) {
		t.Fatalf("nil function error = %v", err)
	}
	if err := b.Call(1, abi.Signature{Params: []*abi.Type{abi.Scalar(abi.I32)}}, nil, nil); !errors.Is(err, errs.ErrArity) {
		t.Fatalf("arity error = %v", err)
	}
}
