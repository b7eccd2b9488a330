package source

import (
	"slices"
	"strings"
)

// Normalize strips a leading BOM and folds CRLF to LF, the same way rustc
// reads a source file. Everything else is left byte for byte.
func Normalize(text string) string {
	b, _ := removeBOM([]byte(text))
	b, _ = normalizeCRLF(b)
	return string(b)
}

// normalizeCRLF заменяет все \r\n на \n, не трогая одиночные \r.
func normalizeCRLF(content []byte) ([]byte, bool) {
	if !slices.Contains(content, '\r') {
		return content, false
	}

	out := make([]byte, 0, len(content))
	changed := false
	for i := 0; i < len(content); i++ {
		if content[i] == '\r' && i+1 < len(content) && content[i+1] == '\n' {
			continue
		}
		if content[i] == '\n' && i > 0 && content[i-1] == '\r' {
			changed = true
		}
		out = append(out, content[i])
	}
	return out, changed
}

func removeBOM(content []byte) ([]byte, bool) {
	if len(content) >= 3 && content[0] == 0xEF && content[1] == 0xBB && content[2] == 0xBF {
		return content[3:], true
	}
	return content, false
}

// LineIndex records the byte offset of every '\n' in a text.
type LineIndex []uint32

// NewLineIndex builds the index for text.
func NewLineIndex(text string) LineIndex {
	out := make(LineIndex, 0, strings.Count(text, "\n"))
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			out = append(out, uint32(i)) // #nosec G115 -- bounded by source size
		}
	}
	return out
}

// Position converts a byte offset to a 1-based line and column.
func (idx LineIndex) Position(off uint32) LineCol {
	// бинпоиск: число переводов строки строго до off
	line, _ := slices.BinarySearch(idx, off)
	var start uint32
	if line > 0 {
		start = idx[line-1] + 1
	}
	return LineCol{Line: uint32(line + 1), Col: off - start + 1} // #nosec G115
}

// Line returns the text of the 1-based line n without its terminator.
func Line(text string, n int) (string, bool) {
	if n < 1 {
		return "", false
	}
	for i := 1; i < n; i++ {
		nl := strings.IndexByte(text, '\n')
		if nl < 0 {
			return "", false
		}
		text = text[nl+1:]
	}
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[:nl]
	}
	return strings.TrimRight(text, "\r"), true
}
