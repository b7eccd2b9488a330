package diag

import (
	"fmt"

	"rsbridge/internal/source"
)

type Note struct {
	Span source.Span
	Msg  string
}

type Diagnostic struct {
	Severity Severity
	Code     Code
	Message  string
	Primary  source.Span
	Notes    []Note
}

// Format renders "line:col: SEVERITY CODE: message" against text.
func (d Diagnostic) Format(text string) string {
	pos := source.NewLineIndex(text).Position(d.Primary.Start)
	return fmt.Sprintf("%d:%d: %s %s: %s", pos.Line, pos.Col, d.Severity, d.Code, d.Message)
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s %s at %s: %s", d.Severity, d.Code, d.Primary, d.Message)
}
