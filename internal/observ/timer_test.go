package observ

import (
	"errors"
	"strings"
	"testing"
)

func TestTimerMeasure(t *testing.T) {
	tm := NewTimer()
	if err := tm.Measure("hash", func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	if err := tm.Measure("rustc", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	phases := tm.Phases()
	if len(phases) != 2 || phases[1].Note != "failed" {
		t.Fatalf("unexpected phases: %+v", phases)
	}
	if s := tm.Summary(); !strings.Contains(s, "rustc") || !strings.Contains(s, "total") {
		t.Fatalf("summary missing rows:\n%s", s)
	}
}

func TestTimerOutOfRangeEnd(t *testing.T) {
	tm := NewTimer()
	tm.End(3, "ignored")
	if r := tm.Report(); len(r.Phases) != 0 {
		t.Fatalf("expected empty report, got %+v", r)
	}
}
