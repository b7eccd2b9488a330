package dispatch

import (
	"fmt"
	"sort"
	"sync"

	"rsbridge/internal/abi"
	"rsbridge/internal/errs"
	"rsbridge/internal/ffi"
	"rsbridge/internal/project"
	"rsbridge/internal/source"
)

// Artifact is a loaded shared object with its symbol and signature tables.
type Artifact struct {
	Key  project.Digest
	Name string
	Path string

	lib ffi.Library

	mu      sync.Mutex
	sigs    map[string]sigEntry
	symbols map[string]uintptr
}

type sigEntry struct {
	decl source.Signature
	sig  abi.Signature
	err  error // signature mentions a type the bridge cannot pass
}

// Symbols lists the callable names in sorted order.
func (a *Artifact) Symbols() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.sigs))
	for name := range a.sigs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Signature returns the declared signature of symbol.
func (a *Artifact) Signature(symbol string) (source.Signature, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.sigs[symbol]
	return e.decl, ok
}

func (a *Artifact) addSignature(types *abi.Registry, decl source.Signature) {
	e := sigEntry{decl: decl}
	e.sig, e.err = types.ParseSignature(decl.ParamTypes(), decl.Return)
	a.mu.Lock()
	a.sigs[decl.Name] = e
	a.mu.Unlock()
}

func (a *Artifact) signature(symbol string) (sigEntry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.sigs[symbol]
	return e, ok
}

// resolve looks symbol up in the library once and caches the address.
func (a *Artifact) resolve(symbol string) (uintptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if addr, ok := a.symbols[symbol]; ok {
		return addr, nil
	}
	if a.lib == nil {
		return 0, fmt.Errorf("%w: artifact %s is unloaded", errs.ErrMissingSymbol, a.Key.Short())
	}
	addr, err := a.lib.Symbol(symbol)
	if err != nil {
		return 0, err
	}
	a.symbols[symbol] = addr
	return addr, nil
}

func (a *Artifact) close() error {
	a.mu.Lock()
	lib := a.lib
	a.lib = nil
	a.symbols = make(map[string]uintptr)
	a.mu.Unlock()
	if lib == nil {
		return nil
	}
	return lib.Close()
}
