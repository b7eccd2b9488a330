package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestBuildError_IsAndMessage(t *testing.T) {
	err := fmt.Errorf("compile snippet: %w", &BuildError{
		Toolchain: "rustc",
		Raw:       "error[E0308]: mismatched types\n --> lib.rs:3:5\n",
		Lines:     []int{3},
	})
	if !errors.Is(err, ErrBuild) {
		t.Fatal("expected errors.Is(err, ErrBuild)")
	}
	var be *BuildError
	if !errors.As(err, &be) {
		t.Fatal("expected errors.As to find *BuildError")
	}
	if !strings.Contains(be.Error(), "line 3") || !strings.Contains(be.Error(), "mismatched types") {
		t.Fatalf("unexpected message %q", be.Error())
	}
}

func TestHandleError_NamesTypeAndOp(t *testing.T) {
	err := &HandleError{Type: "Rc<i64>", Op: "share", Kind: ErrReleased}
	if !errors.Is(err, ErrReleased) {
		t.Fatal("expected ErrReleased")
	}
	if got := err.Error(); got != "Rc<i64>: share: handle already released" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestRuntimeCallError_Unwrap(t *testing.T) {
	err := &RuntimeCallError{Symbol: "add", Artifact: "0123abcd", Kind: ErrMissingSymbol}
	if !errors.Is(err, ErrMissingSymbol) {
		t.Fatal("expected ErrMissingSymbol")
	}
	if !strings.Contains(err.Error(), "add [0123abcd]") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
