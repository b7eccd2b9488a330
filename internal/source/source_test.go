package source

import "testing"

func TestNormalizeBOMAndCRLF(t *testing.T) {
	got := Normalize("\ufefffn f() {}   \r\nfn g() {}\t\r\n")
	if want := "fn f() {}   \nfn g() {}\t\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNormalizeKeepsLoneCR(t *testing.T) {
	if got := Normalize("a\rb"); got != "a\rb" {
		t.Fatalf("got %q", got)
	}
}

func TestLineIndexPosition(t *testing.T) {
	text := "ab\ncd\n\nef"
	idx := NewLineIndex(text)
	cases := []struct {
		off  uint32
		want LineCol
	}{
		{0, LineCol{1, 1}},
		{2, LineCol{1, 3}},
		{3, LineCol{2, 1}},
		{6, LineCol{3, 1}},
		{8, LineCol{4, 2}},
	}
	for _, tc := range cases {
		if got := idx.Position(tc.off); got != tc.want {
			t.Fatalf("Position(%d) = %+v, want %+v", tc.off, got, tc.want)
		}
	}
}

func TestLine(t *testing.T) {
	text := "first\r\nsecond\nthird"
	if l, ok := Line(text, 1); !ok || l != "first" {
		t.Fatalf("line 1 = %q", l)
	}
	if l, ok := Line(text, 3); !ok || l != "third" {
		t.Fatalf("line 3 = %q", l)
	}
	if _, ok := Line(text, 4); ok {
		t.Fatal("line 4 should not exist")
	}
}

func TestSpanText(t *testing.T) {
	s := Span{Start: 3, End: 50}
	if got := s.Text("fn main"); got != "main" {
		t.Fatalf("got %q", got)
	}
	if !(Span{Start: 2, End: 2}).Empty() {
		t.Fatal("expected empty span")
	}
}

func TestUnitSignatureLookup(t *testing.T) {
	u := &Unit{Signatures: []Signature{{Name: "add", Params: []Param{{"a", "i32"}, {"b", "i32"}}, Return: "i32"}}}
	sig, ok := u.Signature("add")
	if !ok || len(sig.ParamTypes()) != 2 || sig.ParamTypes()[1] != "i32" {
		t.Fatalf("unexpected signature %+v", sig)
	}
	if _, ok := u.Signature("missing"); ok {
		t.Fatal("unexpected hit")
	}
}
