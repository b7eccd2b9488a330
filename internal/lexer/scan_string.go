package lexer

import (
	"rsbridge/internal/token"
)

// scanString reads "..." (prefix bytes already identified: 0 or 1 for b"...").
func (lx *Lexer) scanString(prefix int) token.Token {
	start := lx.cursor.Mark()
	for range prefix {
		lx.cursor.Bump()
	}
	lx.cursor.Bump() // opening quote
	for !lx.cursor.EOF() {
		switch lx.cursor.Bump() {
		case '\\':
			lx.cursor.Bump()
		case '"':
			return lx.tokenFrom(start, token.StringLit)
		}
	}
	sp := lx.cursor.SpanFrom(start)
	lx.report("UnterminatedString", sp, "unterminated string literal")
	return token.Token{Kind: token.Invalid, Span: sp, Text: lx.text[sp.Start:sp.End]}
}

// rawStringAhead reports whether r#..#" starts at offset off (pointing at the first '#').
func (lx *Lexer) rawStringAhead(off int) bool {
	for lx.cursor.PeekAt(off) == '#' {
		off++
	}
	return lx.cursor.PeekAt(off) == '"'
}

// scanRawString reads r#"..."# (prefix is 1 for r, 2 for br).
func (lx *Lexer) scanRawString(prefix int) token.Token {
	start := lx.cursor.Mark()
	for range prefix {
		lx.cursor.Bump()
	}
	hashes := 0
	for lx.cursor.Eat('#') {
		hashes++
	}
	if !lx.cursor.Eat('"') {
		sp := lx.cursor.SpanFrom(start)
		lx.report("BadRawString", sp, "expected '\"' after raw string prefix")
		return token.Token{Kind: token.Invalid, Span: sp, Text: lx.text[sp.Start:sp.End]}
	}
	for !lx.cursor.EOF() {
		if lx.cursor.Bump() != '"' {
			continue
		}
		n := 0
		for n < hashes && lx.cursor.PeekAt(n) == '#' {
			n++
		}
		if n == hashes {
			lx.cursor.Off += uint32(n) // #nosec G115 -- n <= hashes
			return lx.tokenFrom(start, token.StringLit)
		}
	}
	sp := lx.cursor.SpanFrom(start)
	lx.report("UnterminatedString", sp, "unterminated raw string literal")
	return token.Token{Kind: token.Invalid, Span: sp, Text: lx.text[sp.Start:sp.End]}
}

// scanQuote distinguishes a char literal ('x', '\n') from a lifetime ('a, 'static).
func (lx *Lexer) scanQuote() token.Token {
	if lx.cursor.PeekAt(1) == '\\' {
		return lx.scanChar(0)
	}
	// one rune followed by a closing quote is a char literal
	save := lx.cursor.Off
	lx.cursor.Bump()
	_, sz := lx.peekRune()
	closing := lx.cursor.PeekAt(sz) == '\''
	lx.cursor.Off = save
	if closing {
		return lx.scanChar(0)
	}

	start := lx.cursor.Mark()
	lx.cursor.Bump() // '\''
	r, _ := lx.peekRune()
	if !isIdentStartRune(r) {
		sp := lx.cursor.SpanFrom(start)
		lx.report("BadLifetime", sp, "expected lifetime name or char literal")
		return token.Token{Kind: token.Invalid, Span: sp, Text: lx.text[sp.Start:sp.End]}
	}
	for !lx.cursor.EOF() {
		r, _ := lx.peekRune()
		if !isIdentContinueRune(r) {
			break
		}
		lx.bumpRune()
	}
	return lx.tokenFrom(start, token.Lifetime)
}

func (lx *Lexer) scanChar(prefix int) token.Token {
	start := lx.cursor.Mark()
	for range prefix {
		lx.cursor.Bump()
	}
	lx.cursor.Bump() // opening quote
	for !lx.cursor.EOF() {
		b := lx.cursor.Peek()
		if b == '\n' {
			break
		}
		if b == '\\' {
			lx.cursor.Bump()
			lx.cursor.Bump()
			continue
		}
		lx.bumpRune()
		if b == '\'' {
			return lx.tokenFrom(start, token.CharLit)
		}
	}
	sp := lx.cursor.SpanFrom(start)
	lx.report("UnterminatedChar", sp, "unterminated char literal")
	return token.Token{Kind: token.Invalid, Span: sp, Text: lx.text[sp.Start:sp.End]}
}
