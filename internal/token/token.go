package token

import (
	"rsbridge/internal/source"
)

// Token represents a single source token with its location.
type Token struct {
	Kind Kind
	Span source.Span
	Text string
}

// IsLiteral reports whether the token is a numeric, string, char or boolean literal.
func (t Token) IsLiteral() bool {
	switch t.Kind {
	case IntLit, FloatLit, StringLit, CharLit, KwTrue, KwFalse:
		return true
	default:
		return false
	}
}

// IsIdent reports whether the token is an identifier.
func (t Token) IsIdent() bool { return t.Kind == Ident }

// Is reports whether the token is an identifier with the given text.
func (t Token) Is(ident string) bool { return t.Kind == Ident && t.Text == ident }

// IdentName strips the raw-identifier prefix: r#type -> type.
func (t Token) IdentName() string {
	if len(t.Text) > 2 && t.Text[0] == 'r' && t.Text[1] == '#' {
		return t.Text[2:]
	}
	return t.Text
}
