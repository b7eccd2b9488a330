package mono

import (
	"fmt"
	"strings"

	"rsbridge/internal/ast"
	"rsbridge/internal/errs"
	"rsbridge/internal/parser"
	"rsbridge/internal/source"
	"rsbridge/internal/token"
)

// Instance is one specialization of a generic function.
type Instance struct {
	Base      string
	Bindings  Bindings
	Key       InstantiationKey
	Symbol    string
	Signature source.Signature // parameter and return types after substitution
	Fn        string           // the specialized function alone
	Source    string           // original source followed by Fn
}

// InstantiationKey is a comparable key for instances.
//
// Maps cannot use Bindings as keys, so the bindings are stored as a stable
// ArgsKey string in parameter order.
type InstantiationKey struct {
	Name    string
	ArgsKey string
}

// Specialize rewrites info for bindings. The generic list, where clause and
// parameter identifiers are replaced; the result is exported under a mangled
// symbol with the C ABI.
func Specialize(info *GenericInfo, bindings Bindings) (*Instance, error) {
	params := info.Params()
	subst := make(map[string]string, len(params))
	typed := make(map[string]*ast.Type, len(params))
	for _, p := range params {
		b, ok := bindings[p]
		if !ok || strings.TrimSpace(b) == "" {
			return nil, &errs.ResolutionError{Func: info.Name, TypeParam: p, Kind: errs.ErrUnderdetermined, Detail: "missing binding"}
		}
		t, err := parseBinding(info, p, b)
		if err != nil {
			return nil, &errs.ResolutionError{Func: info.Name, TypeParam: p, Kind: errs.ErrConflict, Detail: err.Error()}
		}
		subst[p] = t.String()
		typed[p] = t
	}
	decl := info.Decl
	if decl.Body.Empty() {
		return nil, fmt.Errorf("specialize %s: function has no body", info.Name)
	}

	symbol := MangledName(info.Name, params, subst)
	var b strings.Builder
	b.WriteString("#[no_mangle]\npub extern \"C\" ")
	if decl.Unsafe {
		b.WriteString("unsafe ")
	}
	b.WriteString("fn ")
	b.WriteString(symbol)
	if lts := lifetimeList(decl); lts != "" {
		b.WriteString(lts)
	}
	rw := rewriter{file: info.File, subst: subst}
	b.WriteString(rw.rewrite(decl.SigRest))
	b.WriteByte(' ')
	b.WriteString(rw.rewrite(decl.Body))
	fn := b.String()

	sig := source.Signature{Name: symbol}
	for _, p := range decl.Params {
		sig.Params = append(sig.Params, source.Param{Name: parser.BindingName(p.Pattern), Type: p.Type.Subst(typed).String()})
	}
	if !decl.Return.IsUnit() {
		sig.Return = decl.Return.Subst(typed).String()
	}

	canon := make(Bindings, len(subst))
	for k, v := range subst {
		canon[k] = v
	}
	return &Instance{
		Base:      info.Name,
		Bindings:  canon,
		Key:       InstantiationKey{Name: info.Name, ArgsKey: canon.Key(params)},
		Symbol:    symbol,
		Signature: sig,
		Fn:        fn,
		Source:    strings.TrimRight(info.Source, "\n") + "\n\n" + fn + "\n",
	}, nil
}

// parseBinding reads a type spelling, or a const argument for a const parameter.
func parseBinding(info *GenericInfo, param, spelling string) (*ast.Type, error) {
	for _, c := range info.ConstParams {
		if c == param {
			return &ast.Type{Kind: ast.TypePath, Path: []string{strings.TrimSpace(spelling)}}, nil
		}
	}
	return parser.ParseType(spelling)
}

// lifetimeList keeps the lifetime parameters, which the signature may still use.
func lifetimeList(decl *ast.FnDecl) string {
	var parts []string
	for _, g := range decl.Generics {
		if !g.Lifetime {
			continue
		}
		s := g.Name
		for i, bd := range g.Bounds {
			if i == 0 {
				s += ": "
			} else {
				s += " + "
			}
			s += bd.Lifetime
		}
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return ""
	}
	return "<" + strings.Join(parts, ", ") + ">"
}

type rewriter struct {
	file  *ast.File
	subst map[string]string
}

// rewrite reproduces the tokens of r with the text between them, replacing
// identifiers that name a parameter. Field accesses (x.T) are left alone; a
// generic binding used as a path qualifier is wrapped: <Vec<i32>>::new().
func (rw rewriter) rewrite(r ast.TokRange) string {
	toks := rw.file.Tokens
	text := rw.file.Text
	var b strings.Builder
	for i := r.Start; i < r.End; i++ {
		tok := toks[i]
		if i > r.Start {
			b.WriteString(text[toks[i-1].Span.End:tok.Span.Start])
		}
		repl, ok := rw.subst[tok.Text]
		if !ok || tok.Kind != token.Ident || (i > 0 && toks[i-1].Kind == token.Dot) {
			b.WriteString(tok.Text)
			continue
		}
		if toks[i+1].Kind == token.ColonColon && strings.ContainsAny(repl, "<&[(*") {
			repl = "<" + repl + ">"
		}
		b.WriteString(repl)
	}
	return b.String()
}

// MangledName builds <name>__<binding1>_<binding2> from the bindings in
// parameter order.
func MangledName(name string, params []string, bindings map[string]string) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		parts = append(parts, Mangle(bindings[p]))
	}
	return name + "__" + strings.Join(parts, "_")
}

// Mangle turns a type spelling into an identifier fragment: every run of
// non-alphanumeric characters becomes one underscore, edges trimmed.
func Mangle(spelling string) string {
	var b strings.Builder
	pending := false
	for _, r := range spelling {
		alnum := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
		if !alnum {
			pending = b.Len() > 0
			continue
		}
		if pending {
			b.WriteByte('_')
			pending = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
