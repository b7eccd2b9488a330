package lexer

import (
	"rsbridge/internal/source"
)

// Cursor представляет собой позицию в тексте
type Cursor struct {
	Text string
	Off  uint32
}

// NewCursor creates a new cursor at the start of text.
func NewCursor(text string) Cursor {
	return Cursor{Text: text}
}

// EOF проверяет, достигнут ли конец текста
func (c *Cursor) EOF() bool {
	return int(c.Off) >= len(c.Text)
}

// Peek читает текущий байт, если есть, иначе возвращает 0
func (c *Cursor) Peek() byte {
	if c.EOF() {
		return 0
	}
	return c.Text[c.Off]
}

// PeekAt читает байт со смещением n от текущей позиции, иначе 0
func (c *Cursor) PeekAt(n int) byte {
	i := int(c.Off) + n
	if i < 0 || i >= len(c.Text) {
		return 0
	}
	return c.Text[i]
}

// Bump перемещает курсор на один байт вперед и возвращает прочитанный байт
func (c *Cursor) Bump() byte {
	if c.EOF() {
		return 0
	}
	b := c.Text[c.Off]
	c.Off++
	return b
}

// Eat съедает байт, если он совпадает с b
func (c *Cursor) Eat(b byte) bool {
	if c.Peek() != b {
		return false
	}
	c.Off++
	return true
}

// Mark возвращает текущую позицию для последующего SpanFrom.
func (c *Cursor) Mark() uint32 { return c.Off }

// SpanFrom возвращает диапазон от start до текущей позиции.
func (c *Cursor) SpanFrom(start uint32) source.Span {
	return source.Span{Start: start, End: c.Off}
}
