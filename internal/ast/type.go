package ast

import (
	"strings"

	"rsbridge/internal/source"
)

// TypeKind classifies a type expression.
type TypeKind uint8

const (
	TypePath   TypeKind = iota + 1 // i32, Vec<T>, std::collections::HashMap<K, V>
	TypeRef                        // &T, &'a mut T
	TypePtr                        // *const T, *mut T
	TypeTuple                      // (), (A, B)
	TypeArray                      // [T; N]
	TypeSlice                      // [T]
	TypeFn                         // fn(A, B) -> C
	TypeNever                      // !
	TypeInfer                      // _
	TypeTraitObj                   // dyn Trait, impl Trait
)

// Type is a type expression.
//
// Elem holds the pointee of TypeRef/TypePtr and the element of
// TypeArray/TypeSlice. Args holds generic arguments of the last path segment,
// tuple members, or fn parameters. Ret is the fn return type.
type Type struct {
	Kind      TypeKind
	Span      source.Span
	Path      []string
	Args      []*Type
	Lifetimes []string
	Elem      *Type
	Ret       *Type
	Mut       bool
	Len       string // array length expression, as written
	Dyn       string // "dyn" or "impl" for TypeTraitObj
}

// Name returns the last path segment ("" for non-path types).
func (t *Type) Name() string {
	if t == nil || len(t.Path) == 0 {
		return ""
	}
	return t.Path[len(t.Path)-1]
}

// IsUnit reports whether t is the empty tuple.
func (t *Type) IsUnit() bool {
	return t == nil || (t.Kind == TypeTuple && len(t.Args) == 0)
}

// IsIdent reports whether t is a bare single-segment path without arguments.
func (t *Type) IsIdent(name string) bool {
	return t != nil && t.Kind == TypePath && len(t.Path) == 1 && len(t.Args) == 0 && t.Path[0] == name
}

// Mentions reports whether any identifier in names occurs inside t.
func (t *Type) Mentions(names map[string]bool) bool {
	if t == nil {
		return false
	}
	if t.Kind == TypePath || t.Kind == TypeTraitObj {
		if len(t.Path) >= 1 && names[t.Path[0]] {
			return true
		}
	}
	if t.Kind == TypeArray && names[t.Len] {
		return true
	}
	if t.Elem.Mentions(names) || t.Ret.Mentions(names) {
		return true
	}
	for _, a := range t.Args {
		if a.Mentions(names) {
			return true
		}
	}
	return false
}

// Subst returns a copy of t with single-segment paths named in binds replaced.
func (t *Type) Subst(binds map[string]*Type) *Type {
	if t == nil {
		return nil
	}
	if t.Kind == TypePath && len(t.Path) == 1 && len(t.Args) == 0 {
		if b, ok := binds[t.Path[0]]; ok {
			return b
		}
	}
	out := *t
	if t.Kind == TypeArray {
		if b, ok := binds[t.Len]; ok && b.Kind == TypePath && len(b.Path) == 1 {
			out.Len = b.Path[0]
		}
	}
	out.Elem = t.Elem.Subst(binds)
	out.Ret = t.Ret.Subst(binds)
	if len(t.Args) > 0 {
		out.Args = make([]*Type, len(t.Args))
		for i, a := range t.Args {
			out.Args[i] = a.Subst(binds)
		}
	}
	return &out
}

// String renders t in canonical form: single spaces after commas, no
// lifetimes, path segments joined with "::".
func (t *Type) String() string {
	var b strings.Builder
	t.write(&b)
	return b.String()
}

func (t *Type) write(b *strings.Builder) {
	if t == nil {
		b.WriteString("()")
		return
	}
	switch t.Kind {
	case TypePath:
		t.writePath(b)
	case TypeTraitObj:
		b.WriteString(t.Dyn)
		b.WriteByte(' ')
		t.writePath(b)
	case TypeRef:
		b.WriteByte('&')
		if t.Mut {
			b.WriteString("mut ")
		}
		t.Elem.write(b)
	case TypePtr:
		if t.Mut {
			b.WriteString("*mut ")
		} else {
			b.WriteString("*const ")
		}
		t.Elem.write(b)
	case TypeTuple:
		b.WriteByte('(')
		writeList(b, t.Args)
		if len(t.Args) == 1 {
			b.WriteByte(',')
		}
		b.WriteByte(')')
	case TypeArray:
		b.WriteByte('[')
		t.Elem.write(b)
		b.WriteString("; ")
		b.WriteString(t.Len)
		b.WriteByte(']')
	case TypeSlice:
		b.WriteByte('[')
		t.Elem.write(b)
		b.WriteByte(']')
	case TypeFn:
		b.WriteString("fn(")
		writeList(b, t.Args)
		b.WriteByte(')')
		if !t.Ret.IsUnit() {
			b.WriteString(" -> ")
			t.Ret.write(b)
		}
	case TypeNever:
		b.WriteByte('!')
	case TypeInfer:
		b.WriteByte('_')
	}
}

func (t *Type) writePath(b *strings.Builder) {
	b.WriteString(strings.Join(t.Path, "::"))
	switch {
	case isFnTrait(t.Name()):
		b.WriteByte('(')
		writeList(b, t.Args)
		b.WriteByte(')')
		if !t.Ret.IsUnit() {
			b.WriteString(" -> ")
			t.Ret.write(b)
		}
	case len(t.Args) > 0:
		b.WriteByte('<')
		writeList(b, t.Args)
		b.WriteByte('>')
	}
}

func writeList(b *strings.Builder, ts []*Type) {
	for i, a := range ts {
		if i > 0 {
			b.WriteString(", ")
		}
		a.write(b)
	}
}

// Equal compares two types structurally, ignoring spans and lifetimes.
func Equal(a, b *Type) bool {
	return a.String() == b.String()
}
