package parser

import (
	"strings"

	"rsbridge/internal/ast"
	"rsbridge/internal/diag"
	"rsbridge/internal/source"
	"rsbridge/internal/token"
)

// parseType reads one type expression.
func (p *Parser) parseType() (*ast.Type, bool) {
	start := p.pos
	tok := p.peek()
	var (
		t  *ast.Type
		ok = true
	)
	switch tok.Kind {
	case token.Amp:
		p.advance()
		t, ok = p.parseRefTail()
	case token.AndAnd:
		// &&: две ссылки подряд
		p.advance()
		var inner *ast.Type
		if inner, ok = p.parseRefTail(); ok {
			inner.Span.Start++
			t = &ast.Type{Kind: ast.TypeRef, Elem: inner}
		}
	case token.Star:
		p.advance()
		t = &ast.Type{Kind: ast.TypePtr}
		switch {
		case p.eat(token.KwMut):
			t.Mut = true
		case p.eat(token.KwConst):
		default:
			p.err(diag.SynExpectType, "expected 'const' or 'mut' after '*'")
			return nil, false
		}
		t.Elem, ok = p.parseType()
	case token.LParen:
		t, ok = p.parseTupleType()
	case token.LBracket:
		t, ok = p.parseArrayType()
	case token.Bang:
		p.advance()
		t = &ast.Type{Kind: ast.TypeNever}
	case token.Underscore:
		p.advance()
		t = &ast.Type{Kind: ast.TypeInfer}
	case token.KwFn, token.KwUnsafe, token.KwExtern:
		t, ok = p.parseFnPtrType()
	case token.KwFor:
		p.skipForLifetimes()
		return p.parseType()
	case token.KwDyn, token.KwImpl:
		t, ok = p.parseTraitObject()
	case token.Lt:
		t, ok = p.parseQualifiedPath()
	case token.Ident, token.KwSelfType, token.KwSelf, token.KwCrate, token.ColonColon:
		var path pathParts
		if path, ok = p.parsePath(); ok {
			t = &ast.Type{Kind: ast.TypePath, Path: path.segs, Args: path.args, Lifetimes: path.lifetimes, Ret: path.ret}
		}
	default:
		p.err(diag.SynExpectType, "expected type, got \""+tok.Text+"\"")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	t.Span = source.Span{Start: p.toks[start].Span.Start, End: p.lastSpan.End}
	return t, true
}

// parseRefTail reads the part of a reference type after '&'.
func (p *Parser) parseRefTail() (*ast.Type, bool) {
	start := p.lastSpan
	t := &ast.Type{Kind: ast.TypeRef}
	if p.at(token.Lifetime) {
		t.Lifetimes = []string{p.advance().Text}
	}
	t.Mut = p.eat(token.KwMut)
	elem, ok := p.parseType()
	if !ok {
		return nil, false
	}
	t.Elem = elem
	t.Span = source.Span{Start: start.Start, End: p.lastSpan.End}
	return t, true
}

func (p *Parser) parseTupleType() (*ast.Type, bool) {
	p.advance() // (
	t := &ast.Type{Kind: ast.TypeTuple}
	trailing := false
	for !p.at(token.RParen) && !p.at(token.EOF) {
		elem, ok := p.parseType()
		if !ok {
			return nil, false
		}
		t.Args = append(t.Args, elem)
		trailing = p.eat(token.Comma)
		if !trailing {
			break
		}
	}
	if _, ok := p.expect(token.RParen, diag.SynUnclosedDelimiter, "expected ')' to close tuple type"); !ok {
		return nil, false
	}
	if len(t.Args) == 1 && !trailing {
		return t.Args[0], true
	}
	return t, true
}

func (p *Parser) parseArrayType() (*ast.Type, bool) {
	p.advance() // [
	elem, ok := p.parseType()
	if !ok {
		return nil, false
	}
	t := &ast.Type{Kind: ast.TypeSlice, Elem: elem}
	if p.eat(token.Semicolon) {
		t.Kind = ast.TypeArray
		start, depth := p.pos, 0
		for !p.at(token.EOF) && (depth > 0 || !p.at(token.RBracket)) {
			switch p.peek().Kind {
			case token.LParen, token.LBracket, token.LBrace:
				depth++
			case token.RParen, token.RBracket, token.RBrace:
				depth--
			}
			p.advance()
		}
		t.Len = p.textBetween(start, p.pos)
	}
	_, ok = p.expect(token.RBracket, diag.SynUnclosedDelimiter, "expected ']' to close array type")
	return t, ok
}

// parseFnPtrType reads [unsafe] [extern "abi"] fn(args) [-> ret].
func (p *Parser) parseFnPtrType() (*ast.Type, bool) {
	p.eat(token.KwUnsafe)
	if p.eat(token.KwExtern) {
		p.eat(token.StringLit)
	}
	if _, ok := p.expect(token.KwFn, diag.SynExpectType, "expected 'fn' in function pointer type"); !ok {
		return nil, false
	}
	if _, ok := p.expect(token.LParen, diag.SynExpectType, "expected '(' in function pointer type"); !ok {
		return nil, false
	}
	t := &ast.Type{Kind: ast.TypeFn}
	for !p.at(token.RParen) && !p.at(token.EOF) {
		// именованные параметры: fn(x: i32)
		if (p.at(token.Ident) || p.at(token.Underscore)) && p.peekAt(1).Kind == token.Colon {
			p.advance()
			p.advance()
		}
		arg, ok := p.parseType()
		if !ok {
			return nil, false
		}
		t.Args = append(t.Args, arg)
		if !p.eat(token.Comma) {
			break
		}
	}
	if _, ok := p.expect(token.RParen, diag.SynUnclosedDelimiter, "expected ')' in function pointer type"); !ok {
		return nil, false
	}
	if p.eat(token.Arrow) {
		ret, ok := p.parseType()
		if !ok {
			return nil, false
		}
		t.Ret = ret
	}
	return t, true
}

// parseTraitObject reads dyn/impl Bound + ... and keeps the first trait bound.
func (p *Parser) parseTraitObject() (*ast.Type, bool) {
	dyn := p.advance().Text
	bounds, ok := p.parseBounds()
	if !ok {
		return nil, false
	}
	t := &ast.Type{Kind: ast.TypeTraitObj, Dyn: dyn}
	for _, b := range bounds {
		if b.Lifetime != "" {
			t.Lifetimes = append(t.Lifetimes, b.Lifetime)
			continue
		}
		if t.Path == nil {
			t.Path = strings.Split(b.Trait, "::")
			t.Args, t.Ret = b.Args, b.Ret
		}
	}
	if t.Path == nil {
		p.err(diag.SynExpectType, "expected trait after "+dyn)
		return nil, false
	}
	return t, true
}

// parseQualifiedPath reads <T as Trait>::Assoc.
func (p *Parser) parseQualifiedPath() (*ast.Type, bool) {
	p.advance() // <
	self, ok := p.parseType()
	if !ok {
		return nil, false
	}
	head := "<" + self.String()
	if p.eat(token.KwAs) {
		tr, ok := p.parsePath()
		if !ok {
			return nil, false
		}
		head += " as " + strings.Join(tr.segs, "::")
	}
	if !p.eatGt() {
		p.err(diag.SynExpectType, "expected '>' in qualified path")
		return nil, false
	}
	t := &ast.Type{Kind: ast.TypePath, Path: []string{head + ">"}}
	for p.eat(token.ColonColon) {
		seg, ok := p.expect(token.Ident, diag.SynExpectIdentifier, "expected associated item name")
		if !ok {
			return nil, false
		}
		t.Path = append(t.Path, seg.IdentName())
	}
	return t, true
}

type pathParts struct {
	segs      []string
	args      []*ast.Type // generic arguments of the last segment
	lifetimes []string
	ret       *ast.Type // Fn(A) -> R sugar
}

func isPathSegment(k token.Kind) bool {
	return k == token.Ident || k == token.KwSelfType || k == token.KwSelf || k == token.KwCrate
}

// parsePath reads a::b::C<Args> including turbofish and Fn(A) -> R sugar.
func (p *Parser) parsePath() (pathParts, bool) {
	var out pathParts
	p.eat(token.ColonColon)
	for {
		tok := p.peek()
		if !isPathSegment(tok.Kind) {
			p.err(diag.SynExpectIdentifier, "expected path segment, got \""+tok.Text+"\"")
			return out, false
		}
		p.advance()
		out.segs = append(out.segs, tok.IdentName())
		out.args, out.lifetimes, out.ret = nil, nil, nil

		if p.at(token.ColonColon) && p.peekAt(1).Kind == token.Lt {
			p.advance()
		}
		switch {
		case p.at(token.Lt):
			args, lts, ok := p.parseGenericArgs()
			if !ok {
				return out, false
			}
			out.args, out.lifetimes = args, lts
		case p.at(token.LParen) && isFnTrait(tok.Text):
			args, ret, ok := p.parseFnSugar()
			if !ok {
				return out, false
			}
			out.args, out.ret = args, ret
		}
		if p.at(token.ColonColon) && isPathSegment(p.peekAt(1).Kind) {
			p.advance()
			continue
		}
		return out, true
	}
}

func (p *Parser) parsePathSegments() ([]string, []*ast.Type, *ast.Type, bool) {
	path, ok := p.parsePath()
	return path.segs, path.args, path.ret, ok
}

func isFnTrait(name string) bool {
	return name == "Fn" || name == "FnMut" || name == "FnOnce"
}

// parseGenericArgs reads <...> after a path segment. Lifetimes are returned
// separately; const arguments become single-segment paths holding their text.
func (p *Parser) parseGenericArgs() ([]*ast.Type, []string, bool) {
	p.advance() // <
	var (
		args []*ast.Type
		lts  []string
	)
	for !p.at(token.Gt) && !p.at(token.Shr) && !p.at(token.EOF) {
		tok := p.peek()
		switch {
		case tok.Kind == token.Lifetime:
			lts = append(lts, p.advance().Text)
		case tok.IsLiteral(), tok.Kind == token.Minus, tok.Kind == token.LBrace:
			start := p.pos
			p.skipConstArg()
			args = append(args, &ast.Type{Kind: ast.TypePath, Path: []string{p.textBetween(start, p.pos)}, Span: p.spanFrom(start)})
		case tok.Kind == token.Ident && p.peekAt(1).Kind == token.Assign:
			// Item = T
			p.advance()
			p.advance()
			t, ok := p.parseType()
			if !ok {
				return nil, nil, false
			}
			args = append(args, t)
		case tok.Kind == token.Ident && p.peekAt(1).Kind == token.Colon:
			p.advance()
			p.advance()
			if _, ok := p.parseBounds(); !ok {
				return nil, nil, false
			}
		default:
			t, ok := p.parseType()
			if !ok {
				return nil, nil, false
			}
			args = append(args, t)
		}
		if !p.eat(token.Comma) {
			break
		}
	}
	if !p.eatGt() {
		p.err(diag.SynUnclosedDelimiter, "expected '>' to close generic arguments")
		return nil, nil, false
	}
	return args, lts, true
}

// parseFnSugar reads (A, B) -> R after Fn, FnMut or FnOnce.
func (p *Parser) parseFnSugar() ([]*ast.Type, *ast.Type, bool) {
	p.advance() // (
	var args []*ast.Type
	for !p.at(token.RParen) && !p.at(token.EOF) {
		t, ok := p.parseType()
		if !ok {
			return nil, nil, false
		}
		args = append(args, t)
		if !p.eat(token.Comma) {
			break
		}
	}
	if _, ok := p.expect(token.RParen, diag.SynUnclosedDelimiter, "expected ')' after Fn arguments"); !ok {
		return nil, nil, false
	}
	var ret *ast.Type
	if p.eat(token.Arrow) {
		r, ok := p.parseType()
		if !ok {
			return nil, nil, false
		}
		ret = r
	}
	return args, ret, true
}
