package lexer

import (
	"rsbridge/internal/token"
)

// scanIdentOrKeyword reads an identifier (optionally raw, r#name) and maps
// reserved words to keyword kinds. Raw identifiers are never keywords.
func (lx *Lexer) scanIdentOrKeyword() token.Token {
	start := lx.cursor.Mark()
	raw := false
	if lx.cursor.Peek() == 'r' && lx.cursor.PeekAt(1) == '#' {
		lx.cursor.Bump()
		lx.cursor.Bump()
		raw = true
	}
	r, _ := lx.peekRune()
	if !isIdentStartRune(r) {
		lx.bumpRune()
		sp := lx.cursor.SpanFrom(start)
		lx.report("BadIdent", sp, "invalid identifier start")
		return token.Token{Kind: token.Invalid, Span: sp, Text: lx.text[sp.Start:sp.End]}
	}
	lx.bumpRune()
	for !lx.cursor.EOF() {
		b := lx.cursor.Peek()
		if b < utf8RuneSelf {
			if !isIdentContinueByte(b) {
				break
			}
			lx.cursor.Bump()
			continue
		}
		r, _ := lx.peekRune()
		if !isIdentContinueRune(r) {
			break
		}
		lx.bumpRune()
	}
	tok := lx.tokenFrom(start, token.Ident)
	if !raw {
		if kw, ok := token.LookupKeyword(tok.Text); ok {
			tok.Kind = kw
		}
	}
	return tok
}
