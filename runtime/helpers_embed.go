// Package runtimeembed provides the embedded guest source of the ownership
// helpers the handle manager calls.
package runtimeembed

import (
	"embed"
	"fmt"
	"slices"
	"strings"
	"text/template"
)

//go:embed helpers/*.rs.tmpl
var helpersFS embed.FS

var ownership = template.Must(template.ParseFS(helpersFS, "helpers/ownership.rs.tmpl"))

// HelperElems are the element types helpers can be generated for.
var HelperElems = []string{"i8", "i16", "i32", "i64", "u8", "u16", "u32", "u64", "isize", "usize", "f32", "f64", "bool"}

// DefaultElems are generated when no element list is given.
var DefaultElems = []string{"i32", "i64", "u8", "u64", "usize", "f32", "f64", "bool"}

// HelperSource renders Box/Rc/Arc/Vec helpers for elems, sorted and
// deduplicated so the text (and its cache key) is deterministic.
func HelperSource(elems ...string) (string, error) {
	if len(elems) == 0 {
		elems = DefaultElems
	}
	list := slices.Clone(elems)
	for _, e := range list {
		if !slices.Contains(HelperElems, e) {
			return "", fmt.Errorf("no ownership helpers for element type %q", e)
		}
	}
	slices.Sort(list)
	list = slices.Compact(list)
	var b strings.Builder
	if err := ownership.Execute(&b, list); err != nil {
		return "", err
	}
	return b.String(), nil
}
