// Package ffi opens native libraries and calls their C-ABI functions.
//
// Arguments and return values travel as byte images produced by the abi
// codec; a Backend only moves those images across the call boundary.
package ffi

import (
	"errors"

	"rsbridge/internal/abi"
)

// ErrUnavailable is returned by the default backend when the binary was built
// without cgo or for a platform without libffi support.
var ErrUnavailable = errors.New("native calls unavailable in this build")

// Library is an opened shared object.
type Library interface {
	// Symbol resolves an exported function. A missing symbol yields an error
	// matching errs.ErrMissingSymbol.
	Symbol(name string) (uintptr, error)
	Close() error
}

// Arena is guest-visible scratch memory that lives until Free.
type Arena interface {
	abi.Allocator
	Free()
}

// Backend performs native calls.
type Backend interface {
	Open(path string) (Library, error)
	// Call invokes fn with the argument images args and writes the return
	// image into ret, which must be sized for sig.Return.
	Call(fn uintptr, sig abi.Signature, args [][]byte, ret []byte) error
	NewArena() Arena
	Memory() abi.Memory
}
