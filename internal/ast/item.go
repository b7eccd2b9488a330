package ast

import (
	"rsbridge/internal/source"
	"rsbridge/internal/token"
)

// TokRange is a half-open range of token indices into File.Tokens.
type TokRange struct {
	Start, End int
}

// Empty reports whether the range covers no tokens.
func (r TokRange) Empty() bool { return r.End <= r.Start }

// Attr is an outer attribute such as #[no_mangle] or #[repr(C)].
type Attr struct {
	Name string // "no_mangle", "repr", "inline"
	Args string // text inside the parentheses, if any
	Span source.Span
	Toks TokRange
}

// Bound is one trait bound: Clone, Into<U>, Fn(i32) -> i32, ?Sized, 'a.
type Bound struct {
	Trait    string
	Args     []*Type
	Ret      *Type // for Fn-style bounds
	Lifetime string
	Maybe    bool // ?Sized
}

// String renders the bound as written in canonical form.
func (b Bound) String() string {
	if b.Lifetime != "" {
		return b.Lifetime
	}
	s := b.Trait
	if b.Maybe {
		s = "?" + s
	}
	if b.Ret != nil || isFnTrait(b.Trait) {
		s += "("
		for i, a := range b.Args {
			if i > 0 {
				s += ", "
			}
			s += a.String()
		}
		s += ")"
		if !b.Ret.IsUnit() {
			s += " -> " + b.Ret.String()
		}
		return s
	}
	if len(b.Args) > 0 {
		s += "<"
		for i, a := range b.Args {
			if i > 0 {
				s += ", "
			}
			s += a.String()
		}
		s += ">"
	}
	return s
}

func isFnTrait(name string) bool {
	return name == "Fn" || name == "FnMut" || name == "FnOnce"
}

// GenericParam is one entry of a generic parameter list.
type GenericParam struct {
	Name     string // "T", "'a", "N"
	Lifetime bool
	Const    bool
	ConstTy  *Type
	Bounds   []Bound
	Default  *Type
	Span     source.Span
}

// WherePred is one predicate of a where clause: Target: Bounds.
type WherePred struct {
	Target *Type
	Bounds []Bound
}

// Param is a function parameter. Pattern is the binding as written ("mut x").
type Param struct {
	Pattern string
	Type    *Type
	Span    source.Span
}

// FnDecl is a free function item.
type FnDecl struct {
	Name     string
	Attrs    []Attr
	Pub      bool
	Const    bool
	Async    bool
	Unsafe   bool
	Extern   bool
	ABI      string // "C" for extern "C"; empty when not extern
	Generics []GenericParam
	Params   []Param
	Return   *Type // nil means unit
	Where    []WherePred
	Method   bool // first parameter is a self receiver

	Span     source.Span // whole item including attributes
	NameTok  int         // index of the name token
	FnTok    int         // index of the fn keyword
	Header   TokRange    // attributes, visibility and qualifiers before fn
	Generic  TokRange    // "<" .. ">" inclusive; empty when absent
	SigRest  TokRange    // "(" params ")" and return type
	WhereTok TokRange    // "where" .. last predicate; empty when absent
	Body     TokRange    // "{" .. "}" inclusive; empty for declarations
}

// TypeParams returns the names of non-lifetime, non-const generic parameters in order.
func (f *FnDecl) TypeParams() []string {
	var out []string
	for _, g := range f.Generics {
		if !g.Lifetime && !g.Const {
			out = append(out, g.Name)
		}
	}
	return out
}

// Lifetimes returns the declared lifetime parameters.
func (f *FnDecl) Lifetimes() []string {
	var out []string
	for _, g := range f.Generics {
		if g.Lifetime {
			out = append(out, g.Name)
		}
	}
	return out
}

// IsGeneric reports whether the function has type parameters.
// Lifetime-only signatures are not generic.
func (f *FnDecl) IsGeneric() bool {
	for _, g := range f.Generics {
		if !g.Lifetime {
			return true
		}
	}
	return false
}

// HasAttr reports whether the function carries the named attribute.
func (f *FnDecl) HasAttr(name string) bool {
	return hasAttr(f.Attrs, name)
}

// Exported reports whether the function is callable through the C ABI.
func (f *FnDecl) Exported() bool {
	return !f.IsGeneric() && !f.Method && (f.ABI == "C" || f.HasAttr("no_mangle"))
}

// Field is a struct field.
type Field struct {
	Name string
	Type *Type
	Pub  bool
}

// StructDecl is a struct item with named fields.
type StructDecl struct {
	Name     string
	Attrs    []Attr
	Pub      bool
	Generics []GenericParam
	Fields   []Field
	Tuple    bool
	Span     source.Span
}

// ReprC reports whether the struct is #[repr(C)].
func (s *StructDecl) ReprC() bool {
	for _, a := range s.Attrs {
		if a.Name == "repr" && containsWord(a.Args, "C") {
			return true
		}
	}
	return false
}

// File is a parsed source text.
type File struct {
	Text    string
	Tokens  []token.Token
	Fns     []*FnDecl
	Structs []*StructDecl
}

// Fn returns the first free function with the given name.
func (f *File) Fn(name string) (*FnDecl, bool) {
	for _, fn := range f.Fns {
		if fn.Name == name {
			return fn, true
		}
	}
	return nil, false
}

// Struct returns the struct with the given name.
func (f *File) Struct(name string) (*StructDecl, bool) {
	for _, s := range f.Structs {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

func hasAttr(attrs []Attr, name string) bool {
	for _, a := range attrs {
		if a.Name == name {
			return true
		}
	}
	return false
}

func containsWord(s, word string) bool {
	start := -1
	for i := 0; i <= len(s); i++ {
		isWord := i < len(s) && (s[i] == '_' || s[i] >= 'a' && s[i] <= 'z' || s[i] >= 'A' && s[i] <= 'Z' || s[i] >= '0' && s[i] <= '9')
		if isWord && start < 0 {
			start = i
		}
		if !isWord && start >= 0 {
			if s[start:i] == word {
				return true
			}
			start = -1
		}
	}
	return false
}
