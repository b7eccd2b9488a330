package abi

// Allocator provides guest-visible memory for values passed by reference,
// such as string bytes. The returned slice aliases the allocation.
type Allocator interface {
	Alloc(n int) (uintptr, []byte, error)
}

// Memory accesses guest memory behind returned pointers.
type Memory interface {
	Read(addr uintptr, n int) ([]byte, error)
	Write(addr uintptr, b []byte) error
	CString(addr uintptr) (string, error)
}
