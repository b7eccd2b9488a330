package lexer

import (
	"strings"

	"rsbridge/internal/token"
)

// scanOperatorOrPunct применяет жадное сопоставление по таблице token.Puncts.
func (lx *Lexer) scanOperatorOrPunct() token.Token {
	start := lx.cursor.Mark()
	rest := lx.text[lx.cursor.Off:]
	for _, p := range token.Puncts {
		if strings.HasPrefix(rest, p.Text) {
			lx.cursor.Off += uint32(len(p.Text)) // #nosec G115 -- at most 3 bytes
			return lx.tokenFrom(start, p.Kind)
		}
	}
	lx.bumpRune()
	sp := lx.cursor.SpanFrom(start)
	lx.report("UnknownChar", sp, "unexpected character "+lx.text[sp.Start:sp.End])
	return token.Token{Kind: token.Invalid, Span: sp, Text: lx.text[sp.Start:sp.End]}
}
