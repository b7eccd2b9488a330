package mono

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"rsbridge/internal/ast"
	"rsbridge/internal/errs"
	"rsbridge/internal/parser"
)

// Bindings maps a type or const parameter to its concrete spelling.
type Bindings map[string]string

// Key renders the bindings in parameter order; it identifies an instance.
func (b Bindings) Key(params []string) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		parts = append(parts, p+"="+b[p])
	}
	return strings.Join(parts, ",")
}

func (b Bindings) String() string {
	names := make([]string, 0, len(b))
	for n := range b {
		names = append(names, n)
	}
	sort.Strings(names)
	return b.Key(names)
}

// InferBindings determines every parameter of info from the types of the
// actual arguments. Unbound parameters fall back to their default.
func InferBindings(info *GenericInfo, actual []*ast.Type) (Bindings, error) {
	return InferPartial(info, actual, nil)
}

// InferPartial is InferBindings seeded with explicit bindings. Explicit
// bindings take part in conflict detection like inferred ones.
func InferPartial(info *GenericInfo, actual []*ast.Type, explicit Bindings) (Bindings, error) {
	params := info.Decl.Params
	if len(actual) != len(params) {
		return nil, &errs.ResolutionError{
			Func:   info.Name,
			Kind:   errs.ErrArity,
			Detail: fmt.Sprintf("%d arguments for %d parameters", len(actual), len(params)),
		}
	}
	u := unifier{fn: info.Name, params: info.paramSet(), binds: make(map[string]*ast.Type)}
	for name, spelling := range explicit {
		if !u.params[name] {
			return nil, &errs.ResolutionError{Func: info.Name, TypeParam: name, Kind: errs.ErrConflict, Detail: "not a parameter"}
		}
		t, err := parseBinding(info, name, spelling)
		if err != nil {
			return nil, err
		}
		u.binds[name] = t
	}
	for i, p := range params {
		if !p.Type.Mentions(u.params) {
			continue
		}
		if err := u.unify(p.Type, actual[i]); err != nil {
			return nil, err
		}
	}
	out := make(Bindings, len(u.params))
	for _, name := range info.Params() {
		t, ok := u.binds[name]
		if !ok {
			def, has := info.Defaults[name]
			if !has || def.Mentions(unbound(u.params, u.binds)) {
				return nil, &errs.ResolutionError{
					Func:      info.Name,
					TypeParam: name,
					Kind:      errs.ErrUnderdetermined,
					Detail:    "no argument determines it and it has no default",
				}
			}
			t = def.Subst(u.binds)
			u.binds[name] = t
		}
		out[name] = t.String()
	}
	return out, nil
}

func unbound(params map[string]bool, binds map[string]*ast.Type) map[string]bool {
	out := make(map[string]bool)
	for p := range params {
		if _, ok := binds[p]; !ok {
			out[p] = true
		}
	}
	return out
}

type unifier struct {
	fn     string
	params map[string]bool
	binds  map[string]*ast.Type
}

func (u *unifier) bind(name string, actual *ast.Type) error {
	if prev, ok := u.binds[name]; ok {
		if !ast.Equal(prev, actual) {
			return &errs.ResolutionError{
				Func:      u.fn,
				TypeParam: name,
				Kind:      errs.ErrConflict,
				Detail:    fmt.Sprintf("bound to both %s and %s", prev, actual),
			}
		}
		return nil
	}
	u.binds[name] = actual
	return nil
}

func (u *unifier) mismatch(pattern, actual *ast.Type) error {
	return &errs.ResolutionError{
		Func:   u.fn,
		Kind:   errs.ErrConflict,
		Detail: fmt.Sprintf("argument of type %s does not match %s", actual, pattern),
	}
}

// unify matches pattern against actual structurally, binding parameters.
func (u *unifier) unify(pattern, actual *ast.Type) error {
	if pattern.Kind == ast.TypePath && len(pattern.Path) == 1 && len(pattern.Args) == 0 && u.params[pattern.Path[0]] {
		return u.bind(pattern.Path[0], actual)
	}
	if !pattern.Mentions(u.params) {
		return nil
	}
	if actual == nil {
		return u.mismatch(pattern, actual)
	}
	switch pattern.Kind {
	case ast.TypeRef:
		if actual.Kind == ast.TypeRef {
			return u.unify(pattern.Elem, actual.Elem)
		}
		// значение передаётся по ссылке автоматически
		return u.unify(pattern.Elem, actual)
	case ast.TypePtr:
		if actual.Kind != ast.TypePtr {
			return u.mismatch(pattern, actual)
		}
		return u.unify(pattern.Elem, actual.Elem)
	case ast.TypeSlice:
		switch {
		case actual.Kind == ast.TypeSlice || actual.Kind == ast.TypeArray:
			return u.unify(pattern.Elem, actual.Elem)
		case actual.Kind == ast.TypePath && actual.Name() == "Vec" && len(actual.Args) == 1:
			return u.unify(pattern.Elem, actual.Args[0])
		}
		return u.mismatch(pattern, actual)
	case ast.TypeArray:
		if actual.Kind != ast.TypeArray {
			return u.mismatch(pattern, actual)
		}
		if u.params[pattern.Len] {
			if err := u.bind(pattern.Len, &ast.Type{Kind: ast.TypePath, Path: []string{actual.Len}}); err != nil {
				return err
			}
		}
		return u.unify(pattern.Elem, actual.Elem)
	case ast.TypeTuple, ast.TypeFn:
		if actual.Kind != pattern.Kind || len(actual.Args) != len(pattern.Args) {
			return u.mismatch(pattern, actual)
		}
		if err := u.unifyAll(pattern.Args, actual.Args); err != nil {
			return err
		}
		if pattern.Kind == ast.TypeFn && pattern.Ret.Mentions(u.params) {
			if actual.Ret == nil {
				return u.mismatch(pattern, actual)
			}
			return u.unify(pattern.Ret, actual.Ret)
		}
		return nil
	case ast.TypePath:
		if actual.Kind != ast.TypePath || actual.Name() != pattern.Name() || len(actual.Args) != len(pattern.Args) {
			return u.mismatch(pattern, actual)
		}
		return u.unifyAll(pattern.Args, actual.Args)
	}
	return u.mismatch(pattern, actual)
}

func (u *unifier) unifyAll(patterns, actuals []*ast.Type) error {
	for i := range patterns {
		if err := u.unify(patterns[i], actuals[i]); err != nil {
			return err
		}
	}
	return nil
}

// RustTyped is implemented by host values that know their guest type.
type RustTyped interface {
	RustType() string
}

// HostType maps a host value to the guest type it is passed as.
func HostType(v any) (*ast.Type, error) {
	if rt, ok := v.(RustTyped); ok {
		return parser.ParseType(rt.RustType())
	}
	spelling, err := hostSpelling(reflect.TypeOf(v))
	if err != nil {
		return nil, err
	}
	return parser.ParseType(spelling)
}

// HostTypes maps each argument with HostType.
func HostTypes(args []any) ([]*ast.Type, error) {
	out := make([]*ast.Type, len(args))
	for i, a := range args {
		t, err := HostType(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = t
	}
	return out, nil
}

var hostKinds = map[reflect.Kind]string{
	reflect.Int8:    "i8",
	reflect.Int16:   "i16",
	reflect.Int32:   "i32",
	reflect.Int64:   "i64",
	reflect.Int:     "i64",
	reflect.Uint8:   "u8",
	reflect.Uint16:  "u16",
	reflect.Uint32:  "u32",
	reflect.Uint64:  "u64",
	reflect.Uint:    "u64",
	reflect.Uintptr: "usize",
	reflect.Float32: "f32",
	reflect.Float64: "f64",
	reflect.Bool:    "bool",
	reflect.String:  "&str",
}

func hostSpelling(t reflect.Type) (string, error) {
	if t == nil {
		return "", fmt.Errorf("%w: nil has no guest type", errs.ErrUnsupported)
	}
	if s, ok := hostKinds[t.Kind()]; ok {
		return s, nil
	}
	switch t.Kind() {
	case reflect.Slice:
		elem, err := hostSpelling(t.Elem())
		if err != nil {
			return "", err
		}
		return "[" + elem + "]", nil
	case reflect.Array:
		elem, err := hostSpelling(t.Elem())
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("[%s; %d]", elem, t.Len()), nil
	case reflect.Pointer, reflect.UnsafePointer:
		return "*mut u8", nil
	}
	return "", fmt.Errorf("%w: host type %s", errs.ErrUnsupported, t)
}
