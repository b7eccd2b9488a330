package buildpipeline

import (
	"errors"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"rsbridge/internal/errs"
)

var (
	// rustc: " --> /tmp/ws/unit.rs:12:5"
	rustcLocRe = regexp.MustCompile(`-->\s+(.+?):(\d+):(\d+)`)
	// clang: "/tmp/ws/thunk.ll:7:12: error: ..."
	clangLocRe = regexp.MustCompile(`(?m)^(.+?):(\d+):(\d+):\s+error`)
)

type hint struct {
	needle     string
	suggestion string
}

var hints = []hint{
	{"E0463", "only std and core are available; inline the code instead of depending on an external crate"},
	{"can't find crate", "only std and core are available; inline the code instead of depending on an external crate"},
	{"E0412", "declare the type in the same source or qualify it with its std path"},
	{"cannot find type", "declare the type in the same source or qualify it with its std path"},
	{"E0425", "check the spelling of the identifier; items from other snippets are not visible"},
	{"E0308", "check that the declared return type matches the returned expression"},
	{"mismatched types", "check that the declared return type matches the returned expression"},
	{"not FFI-safe", "use #[repr(C)] structs, primitives or raw pointers in exported signatures"},
	{"unclosed delimiter", "check for unbalanced braces or brackets"},
	{"expected one of", "check for a missing semicolon or comma near the reported line"},
	{"is never used", "mark functions called from the host as #[no_mangle] pub extern \"C\""},
	{"E0133", "wrap raw pointer dereferences in an unsafe block"},
}

// NewBuildError turns a failed toolchain run into an *errs.BuildError.
// sourcePath is the workspace file so only lines of the submitted source are kept.
func NewBuildError(toolchain, sourcePath, text string, err error) *errs.BuildError {
	be := &errs.BuildError{Toolchain: toolchain, Source: text, Err: err}
	var raw string
	var ce *CommandError
	if errors.As(err, &ce) {
		raw = ce.Stderr
	}
	be.Raw = raw
	be.Lines = referencedLines(raw, sourcePath)
	be.Suggestions = suggestions(raw)
	return be
}

func referencedLines(raw, sourcePath string) []int {
	base := filepath.Base(sourcePath)
	var lines []int
	collect := func(re *regexp.Regexp) {
		for _, m := range re.FindAllStringSubmatch(raw, -1) {
			if sourcePath != "" && filepath.Base(strings.TrimSpace(m[1])) != base {
				continue
			}
			n, err := strconv.Atoi(m[2])
			if err != nil || slices.Contains(lines, n) {
				continue
			}
			lines = append(lines, n)
		}
	}
	collect(rustcLocRe)
	collect(clangLocRe)
	return lines
}

func suggestions(raw string) []string {
	var out []string
	for _, h := range hints {
		if strings.Contains(raw, h.needle) && !slices.Contains(out, h.suggestion) {
			out = append(out, h.suggestion)
		}
	}
	return out
}
