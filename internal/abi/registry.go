package abi

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"rsbridge/internal/ast"
	"rsbridge/internal/errs"
	"rsbridge/internal/layout"
	"rsbridge/internal/parser"
)

var primitiveKinds = map[string]Kind{
	"i8": I8, "i16": I16, "i32": I32, "i64": I64, "isize": Isize,
	"u8": U8, "u16": U16, "u32": U32, "u64": U64, "usize": Usize,
	"f32": F32, "f64": F64, "bool": Bool, "char": Char,
	"c_char": I8, "c_schar": I8, "c_uchar": U8, "c_short": I16, "c_ushort": U16,
	"c_int": I32, "c_uint": U32, "c_long": I64, "c_ulong": U64,
	"c_longlong": I64, "c_ulonglong": U64, "c_float": F32, "c_double": F64,
}

// pointerLike are single-argument wrappers passed as one machine pointer.
var pointerLike = map[string]bool{"Box": true, "NonNull": true}

// Registry resolves guest type spellings, including registered #[repr(C)]
// structs. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	structs map[string]*Type
}

func NewRegistry() *Registry {
	return &Registry{structs: make(map[string]*Type)}
}

// RegisterStruct adds a #[repr(C)] struct. Field types may refer to the
// struct itself or to structs registered earlier.
func (r *Registry) RegisterStruct(decl *ast.StructDecl) (*Type, error) {
	if !decl.ReprC() {
		return nil, fmt.Errorf("%w: struct %s is not #[repr(C)]", errs.ErrUnsupported, decl.Name)
	}
	if len(decl.Generics) > 0 {
		return nil, fmt.Errorf("%w: generic struct %s", errs.ErrUnsupported, decl.Name)
	}
	t := &Type{Kind: Struct, Name: decl.Name, Attrs: reprAttrs(decl)}
	r.mu.Lock()
	prev, had := r.structs[decl.Name]
	r.structs[decl.Name] = t
	r.mu.Unlock()

	fields := make([]Field, 0, len(decl.Fields))
	for i, f := range decl.Fields {
		ft, err := r.FromAST(f.Type)
		if err != nil {
			r.mu.Lock()
			if had {
				r.structs[decl.Name] = prev
			} else {
				delete(r.structs, decl.Name)
			}
			r.mu.Unlock()
			return nil, fmt.Errorf("struct %s field %d: %w", decl.Name, i, err)
		}
		name := f.Name
		if name == "" {
			name = strconv.Itoa(i)
		}
		fields = append(fields, Field{Name: name, Type: ft})
	}
	t.Fields = fields
	return t, nil
}

func reprAttrs(decl *ast.StructDecl) (out layout.Attrs) {
	for _, a := range decl.Attrs {
		if a.Name != "repr" {
			continue
		}
		for _, part := range strings.Split(a.Args, ",") {
			part = strings.TrimSpace(part)
			switch {
			case part == "packed":
				out.Packed = true
			case strings.HasPrefix(part, "align(") && strings.HasSuffix(part, ")"):
				if n, err := strconv.Atoi(strings.TrimSpace(part[6 : len(part)-1])); err == nil {
					out.AlignOverride = n
				}
			}
		}
	}
	return out
}

// RegisterSource registers every non-generic #[repr(C)] struct in text.
func (r *Registry) RegisterSource(text string) ([]*Type, error) {
	file, err := parser.Parse(text)
	if err != nil {
		return nil, err
	}
	var out []*Type
	for _, st := range file.Structs {
		if !st.ReprC() || len(st.Generics) > 0 {
			continue
		}
		t, err := r.RegisterStruct(st)
		if err != nil {
			return out, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Struct looks up a registered struct.
func (r *Registry) Struct(name string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.structs[name]
	return t, ok
}

// Parse resolves a type spelling such as "*const c_char" or "COption<f64>".
func (r *Registry) Parse(spelling string) (*Type, error) {
	t, err := parser.ParseType(spelling)
	if err != nil {
		return nil, err
	}
	return r.FromAST(t)
}

// ParseSignature resolves the parameter and return spellings of a signature.
func (r *Registry) ParseSignature(params []string, ret string) (Signature, error) {
	var sig Signature
	for i, p := range params {
		t, err := r.Parse(p)
		if err != nil {
			return Signature{}, fmt.Errorf("parameter %d: %w", i, err)
		}
		sig.Params = append(sig.Params, t)
	}
	if ret != "" {
		t, err := r.Parse(ret)
		if err != nil {
			return Signature{}, fmt.Errorf("return: %w", err)
		}
		sig.Return = t
	} else {
		sig.Return = Scalar(Void)
	}
	return sig, nil
}

// FromAST maps a parsed type to its ABI descriptor.
func (r *Registry) FromAST(t *ast.Type) (*Type, error) {
	unsupported := func() (*Type, error) {
		return nil, fmt.Errorf("%w: %s", errs.ErrUnsupported, t)
	}
	switch t.Kind {
	case ast.TypeTuple:
		if t.IsUnit() {
			return Scalar(Void), nil
		}
		return unsupported()
	case ast.TypeRef:
		if t.Elem.Kind == ast.TypePath && t.Elem.Name() == "str" {
			return &Type{Kind: Str}, nil
		}
		elem, err := r.pointee(t.Elem)
		if err != nil {
			return nil, err
		}
		return PtrTo(elem, t.Mut), nil
	case ast.TypePtr:
		if !t.Mut && t.Elem.Kind == ast.TypePath && t.Elem.Name() == "c_char" {
			return &Type{Kind: CStr}, nil
		}
		elem, err := r.pointee(t.Elem)
		if err != nil {
			return nil, err
		}
		return PtrTo(elem, t.Mut), nil
	case ast.TypeFn:
		return PtrTo(nil, false), nil
	case ast.TypeArray:
		elem, err := r.FromAST(t.Elem)
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(strings.TrimSpace(t.Len), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: array length %q", errs.ErrUnsupported, t.Len)
		}
		return ArrayOf(elem, n), nil
	case ast.TypePath:
		return r.fromPath(t)
	}
	return unsupported()
}

// pointee resolves the target of a pointer. Unknown targets become opaque.
func (r *Registry) pointee(t *ast.Type) (*Type, error) {
	if t.Kind == ast.TypePath && (t.Name() == "c_void" || t.Name() == "str") {
		return nil, nil
	}
	elem, err := r.FromAST(t)
	if err != nil {
		return nil, nil
	}
	return elem, nil
}

func (r *Registry) fromPath(t *ast.Type) (*Type, error) {
	name := t.Name()
	args := t.Args
	if k, ok := primitiveKinds[name]; ok && len(args) == 0 {
		return Scalar(k), nil
	}
	switch {
	case name == "RustStr" && len(args) == 0:
		return &Type{Kind: Str}, nil
	case name == "COption" && len(args) == 1:
		elem, err := r.FromAST(args[0])
		if err != nil {
			return nil, err
		}
		return OptionOf(elem), nil
	case name == "Option" && len(args) == 1 && (args[0].Kind == ast.TypeRef || args[0].Kind == ast.TypeFn || pointerLike[args[0].Name()]):
		// Option<&T>, Option<Box<T>>: nullable pointer
		return PtrTo(nil, true), nil
	case name == "CResult" && len(args) == 2:
		ok, err := r.FromAST(args[0])
		if err != nil {
			return nil, err
		}
		e, err := r.FromAST(args[1])
		if err != nil {
			return nil, err
		}
		return ResultOf(ok, e), nil
	case (name == "CVec" || name == "Vec") && len(args) <= 1:
		if len(args) == 0 {
			return VecOf(nil), nil
		}
		elem, err := r.FromAST(args[0])
		if err != nil {
			return nil, err
		}
		return VecOf(elem), nil
	case pointerLike[name] && len(args) == 1:
		elem, _ := r.pointee(args[0])
		return PtrTo(elem, true), nil
	}
	if st, ok := r.Struct(name); ok && len(args) == 0 {
		return st, nil
	}
	return nil, fmt.Errorf("%w: %s", errs.ErrUnsupported, t)
}
