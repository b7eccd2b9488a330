package diag

import (
	"fmt"
)

type Code uint16

const (
	UnknownCode Code = 0
	// Лексические
	LexUnknownChar         Code = 1001
	LexUnterminatedString  Code = 1002
	LexUnterminatedComment Code = 1003
	LexBadLiteral          Code = 1004

	// Парсерные
	SynUnexpectedToken   Code = 2001
	SynUnclosedDelimiter Code = 2002
	SynExpectIdentifier  Code = 2003
	SynExpectType        Code = 2004
	SynExpectBody        Code = 2005
	SynBadGenerics       Code = 2006
	SynUnsupportedItem   Code = 2007
)

var codeNames = map[Code]string{
	UnknownCode:            "E0000",
	LexUnknownChar:         "LEX1001",
	LexUnterminatedString:  "LEX1002",
	LexUnterminatedComment: "LEX1003",
	LexBadLiteral:          "LEX1004",
	SynUnexpectedToken:     "SYN2001",
	SynUnclosedDelimiter:   "SYN2002",
	SynExpectIdentifier:    "SYN2003",
	SynExpectType:          "SYN2004",
	SynExpectBody:          "SYN2005",
	SynBadGenerics:         "SYN2006",
	SynUnsupportedItem:     "SYN2007",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("E%04d", uint16(c))
}

// LexCode maps a lexer error kind to its code.
func LexCode(kind string) Code {
	switch kind {
	case "UnknownChar", "BadIdent":
		return LexUnknownChar
	case "UnterminatedString", "UnterminatedChar", "BadRawString":
		return LexUnterminatedString
	case "UnterminatedComment":
		return LexUnterminatedComment
	default:
		return LexBadLiteral
	}
}
