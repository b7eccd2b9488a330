// Package parser reads the item-level structure of a guest source: free
// functions with their generics, parameters and return types, and struct
// definitions. Function bodies and every other item kind are skipped by
// balanced-delimiter scanning; only signatures are modeled.
package parser

import (
	"slices"

	"rsbridge/internal/ast"
	"rsbridge/internal/diag"
	"rsbridge/internal/lexer"
	"rsbridge/internal/source"
	"rsbridge/internal/token"
)

type Options struct {
	MaxErrors     uint
	CurrentErrors uint
	Reporter      diag.Reporter
}

// Enough - проверить, достигли ли мы максимального количества ошибок
func (o *Options) Enough() bool {
	if o.MaxErrors == 0 {
		return false
	}
	return o.CurrentErrors >= o.MaxErrors
}

type Result struct {
	File *ast.File
	Bag  *diag.Bag
}

// Parser: состояние парсера на один текст
type Parser struct {
	text     string
	toks     []token.Token
	pos      int
	halfGt   bool // первая половина '>>' уже закрыла список обобщений
	opts     Options
	lastSpan source.Span
}

// ParseFile tokenizes and parses text. When opts.Reporter is nil the
// diagnostics are collected into the returned Bag.
func ParseFile(text string, opts Options) Result {
	var bag *diag.Bag
	if opts.Reporter == nil {
		bag = diag.NewBag(0)
		opts.Reporter = diag.BagReporter{Bag: bag}
	} else if br, ok := opts.Reporter.(diag.BagReporter); ok {
		bag = br.Bag
	}
	p := newParser(text, opts)
	file := &ast.File{Text: text, Tokens: p.toks}
	p.parseItems(file)
	return Result{File: file, Bag: bag}
}

func newParser(text string, opts Options) *Parser {
	toks, lexErrs := lexer.Tokenize(text)
	p := &Parser{text: text, toks: toks, opts: opts}
	for _, e := range lexErrs {
		p.report(diag.LexCode(e.Kind), diag.SevError, e.Span, e.Msg)
	}
	return p
}

func (p *Parser) IsError() bool {
	return p.opts.CurrentErrors != 0
}

// parseItems: основной цикл верхнего уровня: пока не EOF: parseItem.
func (p *Parser) parseItems(file *ast.File) {
	for !p.at(token.EOF) {
		start := p.pos
		if p.parseItem(file) {
			continue
		}
		if p.pos == start {
			p.resyncTop()
		}
	}
}

// parseItem dispatches on the first token after attributes and visibility.
// Items other than fn and struct are skipped.
func (p *Parser) parseItem(file *ast.File) bool {
	start := p.pos
	if p.at(token.Semicolon) {
		p.advance()
		return true
	}
	if p.at(token.Hash) && p.peekAt(1).Kind == token.Bang {
		p.skipAttr()
		return true
	}
	attrs := p.parseAttrs()
	pub := p.parseVisibility()

	switch {
	case p.fnAhead():
		fn, ok := p.parseFn(start, attrs, pub)
		if ok {
			file.Fns = append(file.Fns, fn)
		}
		return ok
	case p.at(token.KwStruct):
		st, ok := p.parseStruct(start, attrs, pub)
		if ok {
			file.Structs = append(file.Structs, st)
		}
		return ok
	case p.atOr(token.KwUse, token.KwMod, token.KwImpl, token.KwTrait, token.KwEnum,
		token.KwStatic, token.KwType, token.KwConst, token.KwUnsafe, token.KwExtern):
		p.skipItem()
		return true
	case p.peek().Is("macro_rules") || p.peek().Is("union"):
		p.skipItem()
		return true
	default:
		p.err(diag.SynUnexpectedToken, "unexpected top-level token \""+p.peek().Text+"\"")
		return false
	}
}

// fnAhead reports whether the qualifiers at the cursor lead to the fn keyword.
func (p *Parser) fnAhead() bool {
	for i := 0; ; i++ {
		switch p.peekAt(i).Kind {
		case token.KwFn:
			return true
		case token.KwConst, token.KwUnsafe, token.KwAsync:
		case token.KwExtern:
			if p.peekAt(i+1).Kind == token.StringLit {
				i++
			}
		default:
			return false
		}
	}
}

// resyncTop: восстановление после ошибки на верхнем уровне:
// прокручиваем до ';' ИЛИ до стартового токена следующего item ИЛИ EOF.
func (p *Parser) resyncTop() {
	p.advance()
	for !p.at(token.EOF) && !isTopLevelStarter(p.peek().Kind) {
		if p.at(token.Semicolon) {
			p.advance()
			return
		}
		p.advance()
	}
}

// isTopLevelStarter: принадлежит ли токен стартерам item.
func isTopLevelStarter(k token.Kind) bool {
	switch k {
	case token.KwFn, token.KwPub, token.KwStruct, token.KwUse, token.KwMod, token.KwImpl,
		token.KwTrait, token.KwEnum, token.KwStatic, token.KwType, token.KwConst,
		token.KwUnsafe, token.KwExtern, token.KwAsync, token.Hash:
		return true
	default:
		return false
	}
}

// spanFrom covers the tokens from startTok through the last consumed one.
func (p *Parser) spanFrom(startTok int) source.Span {
	if startTok >= len(p.toks) {
		return p.lastSpan
	}
	return source.Span{Start: p.toks[startTok].Span.Start, End: p.lastSpan.End}
}

func (p *Parser) atOr(kinds ...token.Kind) bool {
	return slices.Contains(kinds, p.peek().Kind)
}
