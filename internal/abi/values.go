package abi

import (
	"fmt"
)

// Pointer is an opaque guest address. Type is the guest spelling used when
// the pointer takes part in generic inference; empty means *mut c_void.
type Pointer struct {
	Addr uintptr
	Type string
}

func (p Pointer) RustType() string {
	if p.Type == "" {
		return "*mut c_void"
	}
	return p.Type
}

// IsNull reports whether p is the null pointer.
func (p Pointer) IsNull() bool { return p.Addr == 0 }

func (p Pointer) String() string { return fmt.Sprintf("%s(%#x)", p.RustType(), p.Addr) }

// StructValue holds the field values of a #[repr(C)] struct in declaration order.
type StructValue struct {
	Name   string
	Fields []any
}

func (s StructValue) RustType() string { return s.Name }

// Field returns the value of the named field of t.
func (s StructValue) Field(t *Type, name string) (any, bool) {
	for i, f := range t.Fields {
		if f.Name == name && i < len(s.Fields) {
			return s.Fields[i], true
		}
	}
	return nil, false
}

// OptionValue is the host side of COption<T>.
type OptionValue struct {
	Valid bool
	Value any
}

// Some wraps v as a present option.
func Some(v any) OptionValue { return OptionValue{Valid: true, Value: v} }

// None is the absent option.
func None() OptionValue { return OptionValue{} }

// ResultValue is the host side of CResult<T, E>.
type ResultValue struct {
	Ok    bool
	Value any
	Err   any
}

// Ok wraps a success value.
func Ok(v any) ResultValue { return ResultValue{Ok: true, Value: v} }

// Err wraps a failure value.
func Err(e any) ResultValue { return ResultValue{Err: e} }

// VecValue is the host side of CVec {ptr, len, cap}.
type VecValue struct {
	Ptr uintptr
	Len uint64
	Cap uint64
}
