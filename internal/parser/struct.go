package parser

import (
	"rsbridge/internal/ast"
	"rsbridge/internal/diag"
	"rsbridge/internal/token"
)

// parseStruct parses named-field, tuple and unit structs.
func (p *Parser) parseStruct(start int, attrs []ast.Attr, pub bool) (*ast.StructDecl, bool) {
	p.advance() // struct
	name, ok := p.expect(token.Ident, diag.SynExpectIdentifier, "expected struct name")
	if !ok {
		return nil, false
	}
	st := &ast.StructDecl{Name: name.IdentName(), Attrs: attrs, Pub: pub}
	if p.at(token.Lt) {
		if st.Generics, ok = p.parseGenerics(); !ok {
			return nil, false
		}
	}
	if p.at(token.KwWhere) {
		if _, ok = p.parseWhere(); !ok {
			return nil, false
		}
	}
	switch {
	case p.eat(token.Semicolon):
	case p.at(token.LBrace):
		if !p.parseFields(st) {
			return nil, false
		}
	case p.at(token.LParen):
		st.Tuple = true
		if !p.parseTupleFields(st) {
			return nil, false
		}
		if p.at(token.KwWhere) {
			if _, ok = p.parseWhere(); !ok {
				return nil, false
			}
		}
		p.expect(token.Semicolon, diag.SynUnexpectedToken, "expected ';' after tuple struct")
	default:
		p.err(diag.SynExpectBody, "expected struct body")
		return nil, false
	}
	st.Span = p.spanFrom(start)
	return st, true
}

func (p *Parser) parseFields(st *ast.StructDecl) bool {
	p.advance() // {
	for !p.at(token.RBrace) && !p.at(token.EOF) {
		p.parseAttrs()
		pub := p.parseVisibility()
		name, ok := p.expect(token.Ident, diag.SynExpectIdentifier, "expected field name")
		if !ok {
			return false
		}
		if _, ok := p.expect(token.Colon, diag.SynExpectType, "expected ':' after field name"); !ok {
			return false
		}
		ty, ok := p.parseType()
		if !ok {
			return false
		}
		st.Fields = append(st.Fields, ast.Field{Name: name.IdentName(), Type: ty, Pub: pub})
		if !p.eat(token.Comma) {
			break
		}
	}
	_, ok := p.expect(token.RBrace, diag.SynUnclosedDelimiter, "expected '}' to close struct "+st.Name)
	return ok
}

func (p *Parser) parseTupleFields(st *ast.StructDecl) bool {
	p.advance() // (
	for !p.at(token.RParen) && !p.at(token.EOF) {
		p.parseAttrs()
		pub := p.parseVisibility()
		ty, ok := p.parseType()
		if !ok {
			return false
		}
		st.Fields = append(st.Fields, ast.Field{Type: ty, Pub: pub})
		if !p.eat(token.Comma) {
			break
		}
	}
	_, ok := p.expect(token.RParen, diag.SynUnclosedDelimiter, "expected ')' to close tuple struct "+st.Name)
	return ok
}
