package mono

import (
	"fmt"

	"rsbridge/internal/ast"
	"rsbridge/internal/parser"
)

// Bound is a trait constraint on a type parameter, e.g. Into<String>.
type Bound struct {
	Trait string
	Args  []string
}

func (b Bound) String() string {
	if len(b.Args) == 0 {
		return b.Trait
	}
	s := b.Trait + "<"
	for i, a := range b.Args {
		if i > 0 {
			s += ", "
		}
		s += a
	}
	return s + ">"
}

// GenericInfo describes one generic function of a guest source.
type GenericInfo struct {
	Name        string
	TypeParams  []string
	ConstParams []string
	Lifetimes   []string
	Constraints map[string][]Bound
	Defaults    map[string]*ast.Type
	Decl        *ast.FnDecl
	File        *ast.File
	Source      string
}

// Params returns the substitutable parameters: type parameters, then const parameters.
func (g *GenericInfo) Params() []string {
	out := make([]string, 0, len(g.TypeParams)+len(g.ConstParams))
	out = append(out, g.TypeParams...)
	return append(out, g.ConstParams...)
}

func (g *GenericInfo) paramSet() map[string]bool {
	set := make(map[string]bool, len(g.TypeParams)+len(g.ConstParams))
	for _, p := range g.Params() {
		set[p] = true
	}
	return set
}

// NewGenericInfo collects the parameters and constraints of decl. Bounds from
// the generic list and from where predicates on a bare parameter are merged.
func NewGenericInfo(file *ast.File, decl *ast.FnDecl) *GenericInfo {
	info := &GenericInfo{
		Name:        decl.Name,
		Lifetimes:   decl.Lifetimes(),
		Constraints: make(map[string][]Bound),
		Defaults:    make(map[string]*ast.Type),
		Decl:        decl,
		File:        file,
		Source:      file.Text,
	}
	for _, g := range decl.Generics {
		switch {
		case g.Lifetime:
			continue
		case g.Const:
			info.ConstParams = append(info.ConstParams, g.Name)
		default:
			info.TypeParams = append(info.TypeParams, g.Name)
			if g.Default != nil {
				info.Defaults[g.Name] = g.Default
			}
		}
		info.addBounds(g.Name, g.Bounds)
	}
	for _, w := range decl.Where {
		if len(w.Target.Path) == 1 && len(w.Target.Args) == 0 && w.Target.Kind == ast.TypePath {
			info.addBounds(w.Target.Path[0], w.Bounds)
		}
	}
	return info
}

func (g *GenericInfo) addBounds(param string, bounds []ast.Bound) {
	for _, b := range bounds {
		if b.Lifetime != "" || b.Maybe {
			continue
		}
		mb := Bound{Trait: b.Trait}
		for _, a := range b.Args {
			mb.Args = append(mb.Args, a.String())
		}
		g.Constraints[param] = append(g.Constraints[param], mb)
	}
}

// Analyze parses text and returns every generic free function in it.
func Analyze(text string) ([]*GenericInfo, error) {
	file, err := parser.Parse(text)
	if err != nil {
		return nil, err
	}
	var out []*GenericInfo
	for _, fn := range file.Fns {
		if fn.IsGeneric() && !fn.Method {
			out = append(out, NewGenericInfo(file, fn))
		}
	}
	return out, nil
}

// Find analyzes text and returns the generic function called name.
func Find(text, name string) (*GenericInfo, error) {
	infos, err := Analyze(text)
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if info.Name == name {
			return info, nil
		}
	}
	return nil, fmt.Errorf("no generic function %q in source", name)
}
