package lexer_test

import (
	"testing"

	"rsbridge/internal/lexer"
	"rsbridge/internal/token"
)

func kinds(t *testing.T, src string) []token.Token {
	t.Helper()
	toks, errs := lexer.Tokenize(src)
	if len(errs) != 0 {
		t.Fatalf("unexpected lex errors for %q: %v", src, errs)
	}
	return toks[:len(toks)-1]
}

func TestGenericSignature(t *testing.T) {
	toks := kinds(t, "pub fn first<'a, T: Clone>(xs: &'a [T]) -> Option<Vec<T>> where T: Copy {}")
	want := []token.Kind{
		token.KwPub, token.KwFn, token.Ident, token.Lt, token.Lifetime, token.Comma, token.Ident, token.Colon, token.Ident, token.Gt,
		token.LParen, token.Ident, token.Colon, token.Amp, token.Lifetime, token.LBracket, token.Ident, token.RBracket, token.RParen,
		token.Arrow, token.Ident, token.Lt, token.Ident, token.Lt, token.Ident, token.Shr,
		token.KwWhere, token.Ident, token.Colon, token.Ident, token.LBrace, token.RBrace,
	}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d: %+v", len(toks), len(want), toks)
	}
	for i, k := range want {
		if toks[i].Kind != k {
			t.Fatalf("token %d (%q) = %v, want %v", i, toks[i].Text, toks[i].Kind, k)
		}
	}
}

func TestLiterals(t *testing.T) {
	cases := []struct {
		src  string
		kind token.Kind
	}{
		{"42", token.IntLit},
		{"0xff_u8", token.IntLit},
		{"1_000i64", token.IntLit},
		{"1.5", token.FloatLit},
		{"2e10", token.FloatLit},
		{"3f64", token.FloatLit},
		{`"a \" b"`, token.StringLit},
		{`b"bytes"`, token.StringLit},
		{`r#"raw "quoted""#`, token.StringLit},
		{"'x'", token.CharLit},
		{`'\n'`, token.CharLit},
		{`b'\0'`, token.CharLit},
		{"'static", token.Lifetime},
		{"r#type", token.Ident},
		{"_", token.Underscore},
		{"_x", token.Ident},
	}
	for _, tc := range cases {
		toks := kinds(t, tc.src)
		if len(toks) != 1 || toks[0].Kind != tc.kind || toks[0].Text != tc.src {
			t.Fatalf("%q lexed as %+v, want single %v", tc.src, toks, tc.kind)
		}
	}
}

func TestRangeIsNotFloat(t *testing.T) {
	toks := kinds(t, "0..10")
	if len(toks) != 3 || toks[1].Kind != token.DotDot {
		t.Fatalf("unexpected tokens %+v", toks)
	}
}

func TestCommentsAreSkipped(t *testing.T) {
	toks := kinds(t, "a // line\n/* outer /* nested */ still */ b")
	if len(toks) != 2 || toks[0].Text != "a" || toks[1].Text != "b" {
		t.Fatalf("unexpected tokens %+v", toks)
	}
}

func TestSpansSliceOriginalText(t *testing.T) {
	src := "fn  add ( a : i32 )"
	toks, _ := lexer.Tokenize(src)
	for _, tok := range toks {
		if tok.Span.Text(src) != tok.Text {
			t.Fatalf("span %v does not match %q", tok.Span, tok.Text)
		}
	}
}

func TestErrorsReported(t *testing.T) {
	_, errs := lexer.Tokenize("\"open")
	if len(errs) != 1 || errs[0].Kind != "UnterminatedString" {
		t.Fatalf("unexpected errors %v", errs)
	}
	_, errs = lexer.Tokenize("/* open")
	if len(errs) != 1 {
		t.Fatalf("unexpected errors %v", errs)
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	lx := lexer.New("fn main", lexer.Options{})
	if lx.Peek().Kind != token.KwFn || lx.Next().Kind != token.KwFn || lx.Next().Text != "main" {
		t.Fatal("peek consumed a token")
	}
	if lx.Next().Kind != token.EOF || lx.Next().Kind != token.EOF {
		t.Fatal("EOF must be sticky")
	}
}
