package parser

import (
	"strings"

	"rsbridge/internal/ast"
	"rsbridge/internal/diag"
	"rsbridge/internal/token"
)

// parseGenerics reads "<" params ">": lifetimes with outlives bounds, const
// params, and type params with bounds and defaults.
func (p *Parser) parseGenerics() ([]ast.GenericParam, bool) {
	p.advance() // <
	var out []ast.GenericParam
	for !p.at(token.Gt) && !p.at(token.Shr) {
		start := p.pos
		p.parseAttrs()
		var g ast.GenericParam
		switch {
		case p.at(token.Lifetime):
			g.Name = p.advance().Text
			g.Lifetime = true
			if p.eat(token.Colon) {
				for p.at(token.Lifetime) {
					g.Bounds = append(g.Bounds, ast.Bound{Lifetime: p.advance().Text})
					if !p.eat(token.Plus) {
						break
					}
				}
			}
		case p.eat(token.KwConst):
			name, ok := p.expect(token.Ident, diag.SynBadGenerics, "expected const parameter name")
			if !ok {
				return nil, false
			}
			g.Name, g.Const = name.IdentName(), true
			if _, ok := p.expect(token.Colon, diag.SynBadGenerics, "expected ':' after const parameter"); !ok {
				return nil, false
			}
			if g.ConstTy, ok = p.parseType(); !ok {
				return nil, false
			}
			if p.eat(token.Assign) {
				p.skipConstArg()
			}
		case p.at(token.Ident):
			g.Name = p.advance().IdentName()
			if p.eat(token.Colon) {
				bounds, ok := p.parseBounds()
				if !ok {
					return nil, false
				}
				g.Bounds = bounds
			}
			if p.eat(token.Assign) {
				def, ok := p.parseType()
				if !ok {
					return nil, false
				}
				g.Default = def
			}
		default:
			p.err(diag.SynBadGenerics, "expected generic parameter, got \""+p.peek().Text+"\"")
			return nil, false
		}
		g.Span = p.spanFrom(start)
		out = append(out, g)
		if !p.eat(token.Comma) {
			break
		}
	}
	if !p.eatGt() {
		p.err(diag.SynBadGenerics, "expected '>' to close generic parameters")
		return nil, false
	}
	return out, true
}

// skipConstArg consumes a const generic argument: a literal, a path or a block.
func (p *Parser) skipConstArg() {
	switch {
	case p.at(token.LBrace):
		p.skipGroup()
	case p.at(token.Minus):
		p.advance()
		p.advance()
	default:
		p.advance()
	}
}

// parseBounds reads "Bound + Bound + 'a" up to a token that cannot continue it.
func (p *Parser) parseBounds() ([]ast.Bound, bool) {
	var out []ast.Bound
	for {
		switch {
		case p.at(token.Lifetime):
			out = append(out, ast.Bound{Lifetime: p.advance().Text})
		case p.at(token.Question), p.at(token.Ident), p.at(token.ColonColon), p.at(token.LParen), p.at(token.KwFor):
			b, ok := p.parseBound()
			if !ok {
				return nil, false
			}
			out = append(out, b)
		default:
			return out, true
		}
		if !p.eat(token.Plus) {
			return out, true
		}
	}
}

func (p *Parser) parseBound() (ast.Bound, bool) {
	if p.at(token.LParen) {
		p.advance()
		b, ok := p.parseBound()
		if !ok {
			return b, false
		}
		_, ok = p.expect(token.RParen, diag.SynUnclosedDelimiter, "expected ')' after bound")
		return b, ok
	}
	var b ast.Bound
	if p.eat(token.Question) {
		b.Maybe = true
	}
	if p.at(token.KwFor) {
		p.skipForLifetimes()
	}
	segs, args, ret, ok := p.parsePathSegments()
	if !ok {
		return b, false
	}
	b.Trait = strings.Join(segs, "::")
	b.Args, b.Ret = args, ret
	return b, true
}

// skipForLifetimes consumes a higher-ranked prefix: for<'a, 'b>.
func (p *Parser) skipForLifetimes() {
	p.advance() // for
	if !p.eat(token.Lt) {
		return
	}
	for p.at(token.Lifetime) || p.at(token.Comma) {
		p.advance()
	}
	p.eatGt()
}

// parseWhere reads "where" predicates up to the body or ';'.
func (p *Parser) parseWhere() ([]ast.WherePred, bool) {
	p.advance() // where
	var out []ast.WherePred
	for !p.atOr(token.LBrace, token.Semicolon, token.EOF) {
		if p.at(token.KwFor) {
			p.skipForLifetimes()
		}
		var pred ast.WherePred
		if p.at(token.Lifetime) {
			tok := p.advance()
			pred.Target = &ast.Type{Kind: ast.TypePath, Path: []string{tok.Text}, Span: tok.Span}
		} else {
			target, ok := p.parseType()
			if !ok {
				return nil, false
			}
			pred.Target = target
		}
		if _, ok := p.expect(token.Colon, diag.SynBadGenerics, "expected ':' in where predicate"); !ok {
			return nil, false
		}
		bounds, ok := p.parseBounds()
		if !ok {
			return nil, false
		}
		pred.Bounds = bounds
		out = append(out, pred)
		if !p.eat(token.Comma) {
			break
		}
	}
	return out, true
}
