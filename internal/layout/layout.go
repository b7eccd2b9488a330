// Package layout computes C size, alignment and field offsets of guest types
// for a target.
package layout

// Kind classifies a type for layout purposes.
type Kind uint8

const (
	KindVoid    Kind = iota // zero-sized
	KindScalar              // integers, floats, bool
	KindPointer             // raw pointers, references, function pointers
	KindStruct              // #[repr(C)] aggregates, in field order
	KindArray               // [T; N]
)

// Attrs are struct representation modifiers: #[repr(packed)], #[repr(align(N))].
type Attrs struct {
	Packed        bool
	AlignOverride int
}

// Type is what the engine needs to know about a type.
type Type interface {
	LayoutKind() Kind
	// LayoutKey identifies the type for caching and cycle detection.
	LayoutKey() string
	ScalarSize() int
	LayoutFields() []Type
	LayoutElem() (Type, int64)
	LayoutAttrs() Attrs
}

// TypeLayout is the ABI layout of a type for a specific Target.
type TypeLayout struct {
	Size  int
	Align int

	// Struct-only:
	FieldOffsets []int
	FieldAligns  []int
}

// LayoutEngine computes memory layout for types. It is safe for concurrent use.
type LayoutEngine struct {
	Target Target

	cache *cache
}

// New creates a new LayoutEngine for the specified target.
func New(target Target) *LayoutEngine {
	return &LayoutEngine{
		Target: target,
		cache:  newCache(),
	}
}

type layoutState struct {
	stack []string
	index map[string]int
}

func newLayoutState() *layoutState {
	return &layoutState{
		stack: nil,
		index: make(map[string]int, 32),
	}
}

// LayoutOf computes and caches the layout of a type.
func (e *LayoutEngine) LayoutOf(t Type) (TypeLayout, error) {
	if e == nil || t == nil {
		return TypeLayout{Size: 0, Align: 1}, nil
	}
	if e.cache == nil {
		e.cache = newCache()
	}
	layout, err := e.layoutOf(t, newLayoutState())
	if err != nil {
		return layout, err
	}
	return layout, nil
}

func (e *LayoutEngine) layoutOf(t Type, state *layoutState) (TypeLayout, *LayoutError) {
	if t == nil {
		return TypeLayout{Size: 0, Align: 1}, nil
	}
	key := t.LayoutKey()
	if cached, ok := e.cache.get(key); ok {
		return cached.Layout, cached.Err
	}

	if idx, ok := state.index[key]; ok {
		cycle := append([]string(nil), state.stack[idx:]...)
		cycle = append(cycle, key)
		err := &LayoutError{
			Kind:  LayoutErrRecursiveUnsized,
			Type:  key,
			Cycle: cycle,
		}
		e.cache.put(key, &cacheEntry{Layout: TypeLayout{Size: 0, Align: 1}, Err: err})
		return TypeLayout{Size: 0, Align: 1}, err
	}

	state.index[key] = len(state.stack)
	state.stack = append(state.stack, key)
	layout, err := e.computeLayout(t, state)
	state.stack = state.stack[:len(state.stack)-1]
	delete(state.index, key)

	e.cache.put(key, &cacheEntry{Layout: layout, Err: err})
	return layout, err
}

// SizeOf returns the size of a type in bytes.
func (e *LayoutEngine) SizeOf(t Type) (int, error) {
	l, err := e.LayoutOf(t)
	return l.Size, err
}

// AlignOf returns the alignment requirement of a type in bytes.
func (e *LayoutEngine) AlignOf(t Type) (int, error) {
	l, err := e.LayoutOf(t)
	return l.Align, err
}

// FieldOffset returns the byte offset of a struct field.
func (e *LayoutEngine) FieldOffset(structT Type, fieldIdx int) (int, error) {
	l, err := e.LayoutOf(structT)
	if err != nil {
		return 0, err
	}
	if fieldIdx < 0 || fieldIdx >= len(l.FieldOffsets) {
		return 0, &LayoutError{Kind: LayoutErrFieldIndex, Type: structT.LayoutKey(), Value: int64(fieldIdx)}
	}
	return l.FieldOffsets[fieldIdx], nil
}

// Cached reports how many layouts the engine holds.
func (e *LayoutEngine) Cached() int {
	return e.cache.len()
}
