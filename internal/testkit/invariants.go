package testkit

import (
	"fmt"

	"fortio.org/safecast"

	"rsbridge/internal/ast"
	"rsbridge/internal/source"
)

// CheckSpanInvariants runs a minimal set of span invariants on a parsed file:
// 1) every token span is non-empty, ordered and within the text
// 2) every item span is non-empty and inside the text
// 3) function token ranges are ordered header < generics < signature < where < body
func CheckSpanInvariants(f *ast.File) error {
	if f == nil {
		return fmt.Errorf("nil file")
	}
	lenContent, err := safecast.Conv[uint32](len(f.Text))
	if err != nil {
		return fmt.Errorf("len content overflow: %w", err)
	}

	var prevEnd uint32
	for i, tok := range f.Tokens {
		sp := tok.Span
		if sp.End > lenContent {
			return fmt.Errorf("token %d span end beyond content: %d > %d", i, sp.End, lenContent)
		}
		if sp.Start < prevEnd {
			return fmt.Errorf("token %d overlaps previous: %v", i, sp)
		}
		prevEnd = sp.End
	}

	check := func(what string, sp source.Span) error {
		if sp.End <= sp.Start {
			return fmt.Errorf("empty %s span: %v", what, sp)
		}
		if sp.End > lenContent {
			return fmt.Errorf("%s span %v is outside text of %d bytes", what, sp, lenContent)
		}
		return nil
	}
	for _, st := range f.Structs {
		if err := check("struct "+st.Name, st.Span); err != nil {
			return err
		}
	}
	for _, fn := range f.Fns {
		if err := check("fn "+fn.Name, fn.Span); err != nil {
			return err
		}
		if fn.NameTok <= fn.FnTok {
			return fmt.Errorf("fn %s: name token %d not after fn token %d", fn.Name, fn.NameTok, fn.FnTok)
		}
		// порядок диапазонов
		last := fn.NameTok
		for _, r := range []struct {
			name string
			r    ast.TokRange
		}{{"generics", fn.Generic}, {"signature", fn.SigRest}, {"where", fn.WhereTok}, {"body", fn.Body}} {
			if r.r.Empty() {
				continue
			}
			if r.r.Start <= last-1 || r.r.End > len(f.Tokens) {
				return fmt.Errorf("fn %s: %s range %v out of order", fn.Name, r.name, r.r)
			}
			last = r.r.End
		}
	}
	return nil
}
