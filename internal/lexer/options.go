package lexer

import (
	"rsbridge/internal/source"
)

// Reporter: тонкий интерфейс, чтобы не тянуть diag сюда.
type Reporter interface {
	Report(kind string, span source.Span, msg string)
}

type Options struct {
	Reporter Reporter // может быть nil: тогда ошибки игнорируем (но продолжаем лексить)
}

func (lx *Lexer) report(kind string, sp source.Span, msg string) {
	if lx.opts.Reporter != nil {
		lx.opts.Reporter.Report(kind, sp, msg)
	}
}

// Error is a lexical error collected by Tokenize.
type Error struct {
	Kind string
	Span source.Span
	Msg  string
}

func (e Error) Error() string { return e.Kind + " at " + e.Span.String() + ": " + e.Msg }

type collector struct{ errs []Error }

func (c *collector) Report(kind string, span source.Span, msg string) {
	c.errs = append(c.errs, Error{Kind: kind, Span: span, Msg: msg})
}
