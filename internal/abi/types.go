// Package abi describes guest types at the C calling boundary and converts
// host values to and from their native byte layout.
package abi

import (
	"strconv"
	"strings"

	"rsbridge/internal/layout"
)

// Kind classifies an ABI type.
type Kind uint8

const (
	Void Kind = iota
	I8
	I16
	I32
	I64
	Isize
	U8
	U16
	U32
	U64
	Usize
	F32
	F64
	Bool
	Char
	Ptr    // *const T, *mut T, &T, Box<T>, fn pointers
	CStr   // *const c_char, NUL-terminated
	Str    // &str as {ptr, len}
	Struct // #[repr(C)] struct
	Option // COption<T> {is_some: u8, value: T}
	Result // CResult<T, E> {is_ok: u8, ok: T, err: E}
	Vec    // CVec {ptr, len, cap}
	Array  // [T; N]
)

var kindNames = [...]string{
	Void: "()", I8: "i8", I16: "i16", I32: "i32", I64: "i64", Isize: "isize",
	U8: "u8", U16: "u16", U32: "u32", U64: "u64", Usize: "usize",
	F32: "f32", F64: "f64", Bool: "bool", Char: "char",
	Ptr: "ptr", CStr: "*const c_char", Str: "&str", Struct: "struct",
	Option: "COption", Result: "CResult", Vec: "CVec", Array: "array",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// IsInteger reports whether k is a fixed or pointer-sized integer.
func (k Kind) IsInteger() bool { return k >= I8 && k <= Usize }

// IsSigned reports whether k is a signed integer.
func (k Kind) IsSigned() bool { return k >= I8 && k <= Isize }

// IsFloat reports whether k is f32 or f64.
func (k Kind) IsFloat() bool { return k == F32 || k == F64 }

// Field is a named member of a struct type.
type Field struct {
	Name string
	Type *Type
}

// Type is a guest type as seen by the C ABI.
type Type struct {
	Kind   Kind
	Name   string // struct name
	Elem   *Type  // Ptr pointee, Option value, Result ok, Vec and Array element
	Err    *Type  // Result error
	Fields []Field
	Len    int64 // Array length
	Mut    bool  // *mut
	Attrs  layout.Attrs
}

var scalars = map[Kind]*Type{}

func init() {
	for k := Void; k <= Char; k++ {
		scalars[k] = &Type{Kind: k}
	}
}

// Scalar returns the shared descriptor of a scalar kind.
func Scalar(k Kind) *Type {
	if t, ok := scalars[k]; ok {
		return t
	}
	return &Type{Kind: k}
}

// PtrTo returns *const elem (or *mut elem).
func PtrTo(elem *Type, mut bool) *Type { return &Type{Kind: Ptr, Elem: elem, Mut: mut} }

// OptionOf returns COption<elem>.
func OptionOf(elem *Type) *Type { return &Type{Kind: Option, Elem: elem} }

// ResultOf returns CResult<ok, err>.
func ResultOf(ok, err *Type) *Type { return &Type{Kind: Result, Elem: ok, Err: err} }

// VecOf returns CVec carrying elements of elem.
func VecOf(elem *Type) *Type { return &Type{Kind: Vec, Elem: elem} }

// ArrayOf returns [elem; n].
func ArrayOf(elem *Type, n int64) *Type { return &Type{Kind: Array, Elem: elem, Len: n} }

// IsVoid reports whether t carries no value.
func (t *Type) IsVoid() bool { return t == nil || t.Kind == Void }

// String renders t in guest spelling.
func (t *Type) String() string {
	if t == nil {
		return "()"
	}
	switch t.Kind {
	case Ptr:
		prefix := "*const "
		if t.Mut {
			prefix = "*mut "
		}
		if t.Elem == nil {
			return prefix + "c_void"
		}
		return prefix + t.Elem.String()
	case Struct:
		return t.Name
	case Option:
		return "COption<" + t.Elem.String() + ">"
	case Result:
		return "CResult<" + t.Elem.String() + ", " + t.Err.String() + ">"
	case Vec:
		if t.Elem == nil {
			return "CVec"
		}
		return "CVec<" + t.Elem.String() + ">"
	case Array:
		return "[" + t.Elem.String() + "; " + strconv.FormatInt(t.Len, 10) + "]"
	}
	return t.Kind.String()
}

// Signature is a function type at the ABI level.
type Signature struct {
	Params []*Type
	Return *Type
}

func (s Signature) String() string {
	parts := make([]string, len(s.Params))
	for i, p := range s.Params {
		parts[i] = p.String()
	}
	out := "fn(" + strings.Join(parts, ", ") + ")"
	if !s.Return.IsVoid() {
		out += " -> " + s.Return.String()
	}
	return out
}

// layout.Type

var (
	rawPtr  = &Type{Kind: Ptr}
	flagU8  = Scalar(U8)
	sizeFld = Scalar(Usize)
)

func (t *Type) LayoutKind() layout.Kind {
	switch t.Kind {
	case Void:
		return layout.KindVoid
	case Ptr, CStr, Isize, Usize:
		// isize/usize имеют размер указателя
		return layout.KindPointer
	case Str, Struct, Option, Result, Vec:
		return layout.KindStruct
	case Array:
		return layout.KindArray
	}
	return layout.KindScalar
}

func (t *Type) LayoutKey() string { return t.String() }

func (t *Type) ScalarSize() int {
	switch t.Kind {
	case I8, U8, Bool:
		return 1
	case I16, U16:
		return 2
	case I32, U32, F32, Char:
		return 4
	case I64, U64, F64:
		return 8
	}
	return 0
}

// LayoutFields lists struct members; library aggregates are lowered to their
// C definitions.
func (t *Type) LayoutFields() []layout.Type {
	switch t.Kind {
	case Str:
		return []layout.Type{rawPtr, sizeFld}
	case Option:
		return []layout.Type{flagU8, t.Elem}
	case Result:
		return []layout.Type{flagU8, t.Elem, t.Err}
	case Vec:
		return []layout.Type{rawPtr, sizeFld, sizeFld}
	case Struct:
		out := make([]layout.Type, len(t.Fields))
		for i, f := range t.Fields {
			out[i] = f.Type
		}
		return out
	}
	return nil
}

func (t *Type) LayoutElem() (layout.Type, int64) { return t.Elem, t.Len }

func (t *Type) LayoutAttrs() layout.Attrs { return t.Attrs }
