package testkit

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
)

// Heap is a simulated guest address space. It implements the allocator and
// memory reader used by the ABI codec so marshaling can be tested without
// native code.
type Heap struct {
	mu     sync.Mutex
	next   uintptr
	blocks map[uintptr][]byte
	freed  int
}

// NewHeap returns an empty heap whose first block starts at 0x1000.
func NewHeap() *Heap {
	return &Heap{next: 0x1000, blocks: make(map[uintptr][]byte)}
}

// Alloc reserves n bytes aligned to 16.
func (h *Heap) Alloc(n int) (uintptr, []byte, error) {
	if n < 0 {
		return 0, nil, fmt.Errorf("negative allocation %d", n)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	addr := h.next
	buf := make([]byte, n)
	h.blocks[addr] = buf
	h.next += uintptr((n + 15) &^ 15)
	if n == 0 {
		h.next += 16
	}
	return addr, buf, nil
}

// Put copies b into a fresh block and returns its address.
func (h *Heap) Put(b []byte) uintptr {
	addr, buf, _ := h.Alloc(len(b))
	copy(buf, b)
	return addr
}

// Free releases the block starting at addr.
func (h *Heap) Free(addr uintptr) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.blocks[addr]; !ok {
		return fmt.Errorf("free of unknown block %#x", addr)
	}
	delete(h.blocks, addr)
	h.freed++
	return nil
}

// Live returns the number of blocks not yet freed.
func (h *Heap) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.blocks)
}

// Freed returns the number of successful frees.
func (h *Heap) Freed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.freed
}

// block finds the allocation containing addr.
func (h *Heap) block(addr uintptr) ([]byte, int, error) {
	starts := make([]uintptr, 0, len(h.blocks))
	for a := range h.blocks {
		starts = append(starts, a)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	i := sort.Search(len(starts), func(i int) bool { return starts[i] > addr }) - 1
	if i < 0 {
		return nil, 0, fmt.Errorf("address %#x not mapped", addr)
	}
	base := starts[i]
	buf := h.blocks[base]
	off := int(addr - base)
	if off > len(buf) {
		return nil, 0, fmt.Errorf("address %#x not mapped", addr)
	}
	return buf, off, nil
}

// Read returns a copy of n bytes at addr.
func (h *Heap) Read(addr uintptr, n int) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf, off, err := h.block(addr)
	if err != nil {
		return nil, err
	}
	if off+n > len(buf) {
		return nil, fmt.Errorf("read of %d bytes at %#x crosses block end", n, addr)
	}
	return bytes.Clone(buf[off : off+n]), nil
}

// Block returns a copy of the bytes from addr to the end of its block.
func (h *Heap) Block(addr uintptr) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf, off, err := h.block(addr)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(buf[off:]), nil
}

// Write copies b to addr.
func (h *Heap) Write(addr uintptr, b []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf, off, err := h.block(addr)
	if err != nil {
		return err
	}
	if off+len(b) > len(buf) {
		return fmt.Errorf("write of %d bytes at %#x crosses block end", len(b), addr)
	}
	copy(buf[off:], b)
	return nil
}

// CString reads a NUL-terminated string at addr.
func (h *Heap) CString(addr uintptr) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf, off, err := h.block(addr)
	if err != nil {
		return "", err
	}
	end := bytes.IndexByte(buf[off:], 0)
	if end < 0 {
		return "", fmt.Errorf("unterminated string at %#x", addr)
	}
	return string(buf[off : off+end]), nil
}
