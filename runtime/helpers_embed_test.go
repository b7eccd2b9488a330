package runtimeembed

import (
	"strings"
	"testing"

	"rsbridge/internal/parser"
)

func TestHelperSourceExports(t *testing.T) {
	text, err := HelperSource("i64", "f64", "i64")
	if err != nil {
		t.Fatal(err)
	}
	sigs, err := parser.Exports(text)
	if err != nil {
		t.Fatalf("helpers do not parse: %v", err)
	}
	byName := map[string]string{}
	for _, s := range sigs {
		if !s.Generic {
			byName[s.Name] = strings.Join(s.ParamTypes(), ",") + "->" + s.Return
		}
	}
	if len(byName) != 2*10 {
		t.Fatalf("exported %d helpers, want 20", len(byName))
	}
	for name, want := range map[string]string{
		"rust_rc_clone_i64":            "*mut c_void->*mut c_void",
		"rust_box_new_f64":             "f64->*mut c_void",
		"rust_vec_push_i64":            "CVec<i64>,i64->CVec<i64>",
		"rust_vec_new_from_array_f64":  "*const f64,usize->CVec<f64>",
		"rust_arc_drop_i64":            "*mut c_void->",
	} {
		if got := byName[name]; got != want {
			t.Fatalf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestHelperSourceDeterministic(t *testing.T) {
	a, _ := HelperSource("f64", "i32")
	b, _ := HelperSource("i32", "f64", "f64")
	if a != b {
		t.Fatalf("helper source depends on argument order")
	}
	if _, err := HelperSource("String"); err == nil {
		t.Fatalf("String helpers should be rejected")
	}
}
