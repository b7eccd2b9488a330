package source

import (
	"fmt"
)

// Span is a half-open byte range inside one source text.
type Span struct {
	Start uint32 // в байтах включительно
	End   uint32 // в байтах не включительно
}

func (s Span) Empty() bool {
	return s.Start == s.End
}

func (s Span) Len() uint32 {
	return s.End - s.Start
}

func (s Span) String() string {
	return fmt.Sprintf("%d-%d", s.Start, s.End)
}

// Cover returns the smallest span containing both s and other.
func (s Span) Cover(other Span) Span {
	if other.Start < s.Start {
		s.Start = other.Start
	}
	if other.End > s.End {
		s.End = other.End
	}
	return s
}

// Text returns the slice of text covered by the span, clamped to its bounds.
func (s Span) Text(text string) string {
	n := uint32(len(text)) // #nosec G115 -- guest sources are far below 4GiB
	start, end := min(s.Start, n), min(s.End, n)
	if start > end {
		return ""
	}
	return text[start:end]
}
