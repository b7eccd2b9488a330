//go:build !((linux || darwin) && cgo)

package ffi

// New reports that this build cannot call native code.
func New() (Backend, error) { return nil, ErrUnavailable }
