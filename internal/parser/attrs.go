package parser

import (
	"strings"

	"rsbridge/internal/ast"
	"rsbridge/internal/diag"
	"rsbridge/internal/token"
)

// parseAttrs reads outer attributes: #[name], #[name(args)], #[name = value].
func (p *Parser) parseAttrs() []ast.Attr {
	var out []ast.Attr
	for p.at(token.Hash) && p.peekAt(1).Kind == token.LBracket {
		start := p.pos
		p.advance() // #
		open := p.pos
		if !p.skipGroup() {
			return out
		}
		attr := ast.Attr{
			Span: p.spanFrom(start),
			Toks: ast.TokRange{Start: start, End: p.pos},
		}
		// внутри скобок: путь, затем (args) или = value
		inner := p.toks[open+1 : p.pos-1]
		var name []string
		i := 0
		for ; i < len(inner); i++ {
			t := inner[i]
			if t.Kind == token.ColonColon {
				continue
			}
			if t.Kind != token.Ident && !t.Kind.IsKeyword() {
				break
			}
			name = append(name, t.Text)
		}
		attr.Name = strings.Join(name, "::")
		if i < len(inner) {
			switch inner[i].Kind {
			case token.LParen:
				attr.Args = p.textBetween(open+1+i+1, p.pos-2)
			case token.Assign:
				attr.Args = p.textBetween(open+1+i+1, p.pos-1)
			}
		}
		out = append(out, attr)
	}
	return out
}

// skipAttr consumes an inner attribute #![...].
func (p *Parser) skipAttr() {
	p.advance() // #
	p.advance() // !
	if !p.at(token.LBracket) {
		p.err(diag.SynUnexpectedToken, "expected '[' after \"#!\"")
		return
	}
	p.skipGroup()
}

// parseVisibility reads pub, pub(crate), pub(super), pub(in path).
func (p *Parser) parseVisibility() bool {
	if !p.eat(token.KwPub) {
		return false
	}
	if p.at(token.LParen) {
		p.skipGroup()
	}
	return true
}
