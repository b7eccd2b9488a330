package diag

import (
	"strings"
	"testing"

	"rsbridge/internal/errs"
	"rsbridge/internal/source"
)

func TestRenderShowsOffendingLine(t *testing.T) {
	be := &errs.BuildError{
		Toolchain:   "rustc",
		Raw:         "error[E0308]: mismatched types\n --> snippet.rs:2:5\n",
		Lines:       []int{2},
		Suggestions: []string{"check the return type"},
		Source:      "fn f() -> i32 {\n    \"x\"\n}",
	}
	var out strings.Builder
	if err := Render(&out, be, RenderOptions{Context: 1, Raw: true}); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{
		"error: error[E0308]: mismatched types",
		"1 | fn f() -> i32 {",
		"2 |     \"x\"",
		"  |     ^^^",
		"help: check the return type",
		"--- rustc output ---",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in:\n%s", want, got)
		}
	}
}

func TestUnderlineUsesDisplayWidth(t *testing.T) {
	pad, span := underline("  漢字")
	if pad != 2 || span != 4 {
		t.Fatalf("pad=%d span=%d", pad, span)
	}
}

func TestBagSortDedupErr(t *testing.T) {
	bag := NewBag(0)
	r := BagReporter{Bag: bag}
	r.Report(SynExpectType, SevError, source.Span{Start: 9, End: 10}, "expected type", nil)
	r.Report(SynUnexpectedToken, SevError, source.Span{Start: 1, End: 2}, "unexpected", nil)
	r.Report(SynUnexpectedToken, SevError, source.Span{Start: 1, End: 2}, "unexpected", nil)
	bag.Sort()
	bag.Dedup()
	if bag.Len() != 2 || bag.Items()[0].Primary.Start != 1 {
		t.Fatalf("unexpected items %+v", bag.Items())
	}
	if bag.Err() == nil || !bag.HasErrors() {
		t.Fatal("expected errors")
	}
	if d := bag.Items()[1]; d.Format("fn f(x: 1)\n") != "1:10: ERROR SYN2004: expected type" {
		t.Fatalf("format = %q", d.Format("fn f(x: 1)\n"))
	}
}

func TestBagLimit(t *testing.T) {
	bag := NewBag(1)
	if !bag.Add(Diagnostic{}) || bag.Add(Diagnostic{}) {
		t.Fatal("limit not enforced")
	}
}

func TestColorForNonTerminal(t *testing.T) {
	var b strings.Builder
	if ColorFor(&b) {
		t.Fatal("builder is not a terminal")
	}
}
