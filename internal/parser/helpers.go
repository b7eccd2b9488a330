package parser

import (
	"rsbridge/internal/diag"
	"rsbridge/internal/source"
	"rsbridge/internal/token"
)

func (p *Parser) peek() token.Token {
	return p.peekAt(0)
}

// peekAt looks n tokens ahead. A '>>' whose first half was consumed reads as '>'.
func (p *Parser) peekAt(n int) token.Token {
	i := p.pos + n
	if i >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	tok := p.toks[i]
	if n == 0 && p.halfGt && tok.Kind == token.Shr {
		tok.Kind = token.Gt
		tok.Span.Start++
		tok.Text = ">"
	}
	return tok
}

func (p *Parser) at(k token.Kind) bool {
	return p.peek().Kind == k
}

// advance: съедает следующий токен и обновляет lastSpan
func (p *Parser) advance() token.Token {
	tok := p.peek()
	if tok.Kind == token.EOF {
		return tok
	}
	p.halfGt = false
	p.pos++
	p.lastSpan = tok.Span
	return tok
}

// eat consumes the token if it has kind k.
func (p *Parser) eat(k token.Kind) bool {
	if p.at(k) {
		p.advance()
		return true
	}
	return false
}

// eatGt closes a generic list, splitting '>>' into two closers.
func (p *Parser) eatGt() bool {
	switch p.peek().Kind {
	case token.Gt:
		p.advance()
		return true
	case token.Shr:
		tok := p.toks[p.pos]
		p.halfGt = true
		p.lastSpan = source.Span{Start: tok.Span.Start, End: tok.Span.Start + 1}
		return true
	}
	return false
}

// getDiagnosticSpan: возвращает лучший span для диагностики.
// На EOF используем позицию после lastSpan.
func (p *Parser) getDiagnosticSpan() source.Span {
	peek := p.peek()
	if peek.Kind == token.EOF && p.lastSpan.End > 0 {
		return source.Span{Start: p.lastSpan.End, End: p.lastSpan.End}
	}
	return peek.Span
}

// expect: ожидаем конкретный токен. Если нет: репортим и возвращаем (invalid,false).
func (p *Parser) expect(k token.Kind, code diag.Code, msg string) (token.Token, bool) {
	if p.at(k) {
		return p.advance(), true
	}
	diagSpan := p.getDiagnosticSpan()
	p.report(code, diag.SevError, diagSpan, msg)
	return token.Token{Kind: token.Invalid, Span: diagSpan, Text: p.peek().Text}, false
}

// репортует ошибку и передает текущий спан
func (p *Parser) err(code diag.Code, msg string) bool {
	return p.report(code, diag.SevError, p.getDiagnosticSpan(), msg)
}

func (p *Parser) report(code diag.Code, sev diag.Severity, sp source.Span, msg string) bool {
	if sev == diag.SevError {
		p.opts.CurrentErrors++
	}
	if p.opts.Reporter == nil || p.opts.Enough() {
		return false
	}
	p.opts.Reporter.Report(code, sev, sp, msg, nil)
	return true
}

func closerOf(k token.Kind) token.Kind {
	switch k {
	case token.LParen:
		return token.RParen
	case token.LBracket:
		return token.RBracket
	case token.LBrace:
		return token.RBrace
	}
	return token.Invalid
}

// skipGroup consumes a balanced (), [] or {} group starting at the cursor.
func (p *Parser) skipGroup() bool {
	open := p.peek()
	if closerOf(open.Kind) == token.Invalid {
		return false
	}
	stack := []token.Kind{closerOf(open.Kind)}
	p.advance()
	for len(stack) > 0 {
		tok := p.peek()
		switch {
		case tok.Kind == token.EOF:
			p.report(diag.SynUnclosedDelimiter, diag.SevError, open.Span, "unclosed delimiter \""+open.Text+"\"")
			return false
		case closerOf(tok.Kind) != token.Invalid:
			stack = append(stack, closerOf(tok.Kind))
		case tok.Kind == stack[len(stack)-1]:
			stack = stack[:len(stack)-1]
		case tok.Kind == token.RParen || tok.Kind == token.RBracket || tok.Kind == token.RBrace:
			p.err(diag.SynUnexpectedToken, "mismatched closing delimiter \""+tok.Text+"\"")
		}
		p.advance()
	}
	return true
}

// skipItem consumes an item that is not modeled: up to a ';' at depth zero or
// through the first top-level brace group.
func (p *Parser) skipItem() {
	for !p.at(token.EOF) {
		switch p.peek().Kind {
		case token.Semicolon:
			p.advance()
			return
		case token.LBrace:
			p.skipGroup()
			return
		case token.LParen, token.LBracket:
			p.skipGroup()
		default:
			p.advance()
		}
	}
}

// textBetween returns the source text from the start of token i to the end of
// token j-1.
func (p *Parser) textBetween(i, j int) string {
	if j <= i || i >= len(p.toks) {
		return ""
	}
	return p.text[p.toks[i].Span.Start:p.toks[j-1].Span.End]
}
