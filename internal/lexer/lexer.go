// Package lexer tokenizes the Rust subset accepted by the specializer and the
// signature extractor. Whitespace and comments are skipped; every token keeps
// the span it was read from so callers can splice the original text.
package lexer

import (
	"rsbridge/internal/source"
	"rsbridge/internal/token"
)

type Lexer struct {
	text   string
	cursor Cursor
	opts   Options
	look   *token.Token // 1 элементный буфер для токена
}

func New(text string, opts Options) *Lexer {
	return &Lexer{
		text:   text,
		cursor: NewCursor(text),
		opts:   opts,
	}
}

// Tokenize lexes the whole text. The returned slice always ends with EOF.
func Tokenize(text string) ([]token.Token, []Error) {
	var c collector
	lx := New(text, Options{Reporter: &c})
	toks := make([]token.Token, 0, len(text)/4+1)
	for {
		tok := lx.Next()
		toks = append(toks, tok)
		if tok.Kind == token.EOF {
			break
		}
	}
	return toks, c.errs
}

// Next возвращает следующий значимый токен. После EOF всегда возвращает EOF.
func (lx *Lexer) Next() token.Token {
	if lx.look != nil {
		tok := *lx.look
		lx.look = nil
		return tok
	}

	lx.skipTrivia()
	if lx.cursor.EOF() {
		return token.Token{Kind: token.EOF, Span: lx.emptySpan()}
	}

	ch := lx.cursor.Peek()
	switch {
	case ch == 'r' && lx.cursor.PeekAt(1) == '#' && isIdentStartByte(lx.cursor.PeekAt(2)):
		return lx.scanIdentOrKeyword()
	case ch == 'r' && (lx.cursor.PeekAt(1) == '"' || (lx.cursor.PeekAt(1) == '#' && lx.rawStringAhead(1))):
		return lx.scanRawString(1)
	case ch == 'b' && lx.cursor.PeekAt(1) == 'r' && (lx.cursor.PeekAt(2) == '"' || lx.cursor.PeekAt(2) == '#'):
		return lx.scanRawString(2)
	case ch == 'b' && lx.cursor.PeekAt(1) == '"':
		return lx.scanString(1)
	case ch == 'b' && lx.cursor.PeekAt(1) == '\'':
		return lx.scanChar(1)
	case ch == '_' && !isIdentContinueByte(lx.cursor.PeekAt(1)):
		return lx.scanOperatorOrPunct()
	case isIdentStartByte(ch), ch >= utf8RuneSelf:
		return lx.scanIdentOrKeyword()
	case isDec(ch):
		return lx.scanNumber()
	case ch == '"':
		return lx.scanString(0)
	case ch == '\'':
		return lx.scanQuote()
	default:
		return lx.scanOperatorOrPunct()
	}
}

// Peek возвращает следующий токен, не потребляя его.
func (lx *Lexer) Peek() token.Token {
	t := lx.Next()
	lx.look = &t
	return t
}

func (lx *Lexer) emptySpan() source.Span {
	return source.Span{Start: lx.cursor.Off, End: lx.cursor.Off}
}

func (lx *Lexer) tokenFrom(start uint32, kind token.Kind) token.Token {
	sp := lx.cursor.SpanFrom(start)
	return token.Token{Kind: kind, Span: sp, Text: lx.text[sp.Start:sp.End]}
}
