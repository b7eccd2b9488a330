package lexer

import (
	"rsbridge/internal/token"
)

// Поддержка: 0, 1_000, 0b..., 0o..., 0x..., 1.0, 1e-3, 2.5E+10 и суффиксы (u8, i64, f32, usize ...).
// Суффикс остаётся в Token.Text.
func (lx *Lexer) scanNumber() token.Token {
	start := lx.cursor.Mark()
	kind := token.IntLit

	if lx.cursor.Peek() == '0' {
		switch lx.cursor.PeekAt(1) {
		case 'x', 'X':
			lx.cursor.Bump()
			lx.cursor.Bump()
			lx.eatDigits(isHex)
			lx.eatSuffix()
			return lx.tokenFrom(start, kind)
		case 'o', 'O':
			lx.cursor.Bump()
			lx.cursor.Bump()
			lx.eatDigits(func(b byte) bool { return b >= '0' && b <= '7' })
			lx.eatSuffix()
			return lx.tokenFrom(start, kind)
		case 'b', 'B':
			lx.cursor.Bump()
			lx.cursor.Bump()
			lx.eatDigits(func(b byte) bool { return b == '0' || b == '1' })
			lx.eatSuffix()
			return lx.tokenFrom(start, kind)
		}
	}

	lx.eatDigits(isDec)
	// "1.5" is a float, "1..2" is a range and "1.foo()" is a method call
	if lx.cursor.Peek() == '.' && isDec(lx.cursor.PeekAt(1)) {
		lx.cursor.Bump()
		lx.eatDigits(isDec)
		kind = token.FloatLit
	} else if lx.cursor.Peek() == '.' && lx.cursor.PeekAt(1) != '.' && !isIdentStartByte(lx.cursor.PeekAt(1)) {
		lx.cursor.Bump() // "1." is a float literal
		kind = token.FloatLit
	}
	if b := lx.cursor.Peek(); b == 'e' || b == 'E' {
		next := lx.cursor.PeekAt(1)
		if isDec(next) || ((next == '+' || next == '-') && isDec(lx.cursor.PeekAt(2))) {
			lx.cursor.Bump()
			if next == '+' || next == '-' {
				lx.cursor.Bump()
			}
			lx.eatDigits(isDec)
			kind = token.FloatLit
		}
	}
	if lx.cursor.Peek() == 'f' && (lx.cursor.PeekAt(1) == '3' || lx.cursor.PeekAt(1) == '6') {
		kind = token.FloatLit
	}
	lx.eatSuffix()
	return lx.tokenFrom(start, kind)
}

func (lx *Lexer) eatDigits(ok func(byte) bool) {
	for {
		b := lx.cursor.Peek()
		if !ok(b) && b != '_' {
			return
		}
		lx.cursor.Bump()
	}
}

func (lx *Lexer) eatSuffix() {
	if !isIdentStartByte(lx.cursor.Peek()) {
		return
	}
	for isIdentContinueByte(lx.cursor.Peek()) {
		lx.cursor.Bump()
	}
}
