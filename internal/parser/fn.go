package parser

import (
	"strings"

	"rsbridge/internal/ast"
	"rsbridge/internal/diag"
	"rsbridge/internal/token"
)

// parseFn parses a free function from its qualifiers through the body.
// start is the index of the first attribute or visibility token.
func (p *Parser) parseFn(start int, attrs []ast.Attr, pub bool) (*ast.FnDecl, bool) {
	fn := &ast.FnDecl{Attrs: attrs, Pub: pub}
	for !p.at(token.KwFn) {
		switch p.advance().Kind {
		case token.KwConst:
			fn.Const = true
		case token.KwAsync:
			fn.Async = true
		case token.KwUnsafe:
			fn.Unsafe = true
		case token.KwExtern:
			fn.Extern = true
			fn.ABI = "C"
			if p.at(token.StringLit) {
				fn.ABI = strings.Trim(p.advance().Text, "\"")
			}
		}
	}
	fn.Header = ast.TokRange{Start: start, End: p.pos}
	fn.FnTok = p.pos
	p.advance()

	fn.NameTok = p.pos
	name, ok := p.expect(token.Ident, diag.SynExpectIdentifier, "expected function name")
	if !ok {
		return nil, false
	}
	fn.Name = name.IdentName()

	if p.at(token.Lt) {
		gstart := p.pos
		gens, ok := p.parseGenerics()
		if !ok {
			return nil, false
		}
		fn.Generics = gens
		fn.Generic = ast.TokRange{Start: gstart, End: p.pos}
	}

	rest := p.pos
	if !p.parseParams(fn) {
		return nil, false
	}
	if p.eat(token.Arrow) {
		ret, ok := p.parseType()
		if !ok {
			return nil, false
		}
		if !ret.IsUnit() {
			fn.Return = ret
		}
	}
	fn.SigRest = ast.TokRange{Start: rest, End: p.pos}

	if p.at(token.KwWhere) {
		wstart := p.pos
		preds, ok := p.parseWhere()
		if !ok {
			return nil, false
		}
		fn.Where = preds
		fn.WhereTok = ast.TokRange{Start: wstart, End: p.pos}
	}

	switch {
	case p.at(token.LBrace):
		bstart := p.pos
		if !p.skipGroup() {
			return nil, false
		}
		fn.Body = ast.TokRange{Start: bstart, End: p.pos}
	case p.eat(token.Semicolon):
	default:
		p.err(diag.SynExpectBody, "expected function body or ';' after signature of "+fn.Name)
		return nil, false
	}
	fn.Span = p.spanFrom(start)
	return fn, true
}

// parseParams reads "(" params ")". A self receiver marks the function as a
// method and is not recorded as a parameter.
func (p *Parser) parseParams(fn *ast.FnDecl) bool {
	if _, ok := p.expect(token.LParen, diag.SynUnexpectedToken, "expected '(' after function name"); !ok {
		return false
	}
	for !p.at(token.RParen) {
		p.parseAttrs()
		if p.selfAhead() {
			fn.Method = true
			p.skipSelf()
		} else {
			param, ok := p.parseParam()
			if !ok {
				return false
			}
			fn.Params = append(fn.Params, param)
		}
		if !p.eat(token.Comma) {
			break
		}
	}
	_, ok := p.expect(token.RParen, diag.SynUnclosedDelimiter, "expected ')' to close parameter list")
	return ok
}

// selfAhead matches self, mut self, &self, &mut self, &'a self, &'a mut self.
func (p *Parser) selfAhead() bool {
	i := 0
	if p.peekAt(i).Kind == token.Amp {
		i++
		if p.peekAt(i).Kind == token.Lifetime {
			i++
		}
	}
	if p.peekAt(i).Kind == token.KwMut {
		i++
	}
	return p.peekAt(i).Kind == token.KwSelf && p.peekAt(i+1).Kind != token.ColonColon
}

func (p *Parser) skipSelf() {
	for !p.at(token.KwSelf) {
		p.advance()
	}
	p.advance()
	if p.eat(token.Colon) {
		p.parseType()
	}
}

// parseParam reads "pattern: Type". The pattern is kept as written.
func (p *Parser) parseParam() (ast.Param, bool) {
	start := p.pos
	depth := 0
	for !p.at(token.EOF) {
		k := p.peek().Kind
		if depth == 0 && (k == token.Colon || k == token.Comma || k == token.RParen) {
			break
		}
		switch k {
		case token.LParen, token.LBracket, token.LBrace:
			depth++
		case token.RParen, token.RBracket, token.RBrace:
			depth--
		}
		p.advance()
	}
	if p.pos == start {
		p.err(diag.SynExpectIdentifier, "expected parameter name")
		return ast.Param{}, false
	}
	pattern := p.textBetween(start, p.pos)
	if _, ok := p.expect(token.Colon, diag.SynExpectType, "expected ':' and a type after parameter "+pattern); !ok {
		return ast.Param{}, false
	}
	ty, ok := p.parseType()
	if !ok {
		return ast.Param{}, false
	}
	return ast.Param{Pattern: pattern, Type: ty, Span: p.spanFrom(start)}, true
}

// BindingName returns the identifier bound by a simple pattern ("mut x" -> "x").
func BindingName(pattern string) string {
	fields := strings.Fields(pattern)
	if len(fields) == 0 {
		return ""
	}
	name := fields[len(fields)-1]
	return strings.TrimPrefix(name, "r#")
}
