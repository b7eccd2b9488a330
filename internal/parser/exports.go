package parser

import (
	"fmt"

	"rsbridge/internal/ast"
	"rsbridge/internal/diag"
	"rsbridge/internal/source"
	"rsbridge/internal/token"
)

// Parse parses text and fails on the first error diagnostic.
func Parse(text string) (*ast.File, error) {
	res := ParseFile(text, Options{MaxErrors: 16})
	if res.Bag != nil && res.Bag.HasErrors() {
		res.Bag.Sort()
		return res.File, fmt.Errorf("parse guest source: %w", res.Bag.Err())
	}
	return res.File, nil
}

// Exports lists the functions of text callable through the C ABI, followed by
// generic templates marked Generic. Parameter and return types are spelled
// canonically; a unit return is empty.
func Exports(text string) ([]source.Signature, error) {
	file, err := Parse(text)
	if err != nil {
		return nil, err
	}
	var out, generic []source.Signature
	for _, fn := range file.Fns {
		switch {
		case fn.Exported():
			out = append(out, Signature(fn))
		case fn.IsGeneric() && !fn.Method:
			generic = append(generic, Signature(fn))
		}
	}
	return append(out, generic...), nil
}

// Signature converts a declaration to its exported form.
func Signature(fn *ast.FnDecl) source.Signature {
	sig := source.Signature{Name: fn.Name, Generic: fn.IsGeneric()}
	for _, p := range fn.Params {
		sig.Params = append(sig.Params, source.Param{Name: BindingName(p.Pattern), Type: p.Type.String()})
	}
	if !fn.Return.IsUnit() {
		sig.Return = fn.Return.String()
	}
	return sig
}

// ParseType parses a standalone type spelling such as "Vec<Option<i32>>".
func ParseType(text string) (*ast.Type, error) {
	bag := diag.NewBag(4)
	p := newParser(text, Options{Reporter: diag.BagReporter{Bag: bag}})
	t, ok := p.parseType()
	if ok && !p.at(token.EOF) {
		p.err(diag.SynUnexpectedToken, "trailing tokens after type \""+p.peek().Text+"\"")
		ok = false
	}
	if !ok || bag.HasErrors() {
		return nil, fmt.Errorf("parse type %q: %w", text, bag.Err())
	}
	return t, nil
}
