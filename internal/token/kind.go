package token

// Kind represents the category of a source token.
type Kind uint8

const (
	// Invalid indicates an erroneous token.
	Invalid Kind = iota
	// EOF marks the end of the source input.
	EOF

	Ident     // foo, r#type
	Lifetime  // 'a, 'static
	IntLit    // 42, 0xff_u8
	FloatLit  // 1.5, 2e10f64
	StringLit // "..", b"..", r#".."#
	CharLit   // 'x', b'x'

	keywordStart
	KwAs       // as
	KwConst    // const
	KwCrate    // crate
	KwDyn      // dyn
	KwEnum     // enum
	KwExtern   // extern
	KwFalse    // false
	KwFn       // fn
	KwFor      // for
	KwIf       // if
	KwImpl     // impl
	KwIn       // in
	KwLet      // let
	KwLoop     // loop
	KwMatch    // match
	KwMod      // mod
	KwMove     // move
	KwMut      // mut
	KwPub      // pub
	KwRef      // ref
	KwReturn   // return
	KwSelf     // self
	KwSelfType // Self
	KwStatic   // static
	KwStruct   // struct
	KwTrait    // trait
	KwTrue     // true
	KwType     // type
	KwUnsafe   // unsafe
	KwUse      // use
	KwWhere    // where
	KwWhile    // while
	KwAsync    // async
	KwElse     // else
	keywordEnd

	LParen     // (
	RParen     // )
	LBrace     // {
	RBrace     // }
	LBracket   // [
	RBracket   // ]
	Lt         // <
	Gt         // >
	Shl        // <<
	Shr        // >>
	LtEq       // <=
	GtEq       // >=
	ShrEq      // >>=
	ShlEq      // <<=
	Comma      // ,
	Semicolon  // ;
	Colon      // :
	ColonColon // ::
	Arrow      // ->
	FatArrow   // =>
	Hash       // #
	Bang       // !
	BangEq     // !=
	Amp        // &
	AndAnd     // &&
	Pipe       // |
	OrOr       // ||
	Star       // *
	Plus       // +
	Minus      // -
	Slash      // /
	Percent    // %
	Caret      // ^
	Assign     // =
	EqEq       // ==
	PlusEq     // +=
	MinusEq    // -=
	StarEq     // *=
	SlashEq    // /=
	PercentEq  // %=
	AmpEq      // &=
	PipeEq     // |=
	CaretEq    // ^=
	Dot        // .
	DotDot     // ..
	DotDotEq   // ..=
	DotDotDot  // ...
	Question   // ?
	At         // @
	Dollar     // $
	Underscore // _
)

var kindNames = [...]string{
	Invalid:    "Invalid",
	EOF:        "EOF",
	Ident:      "Ident",
	Lifetime:   "Lifetime",
	IntLit:     "IntLit",
	FloatLit:   "FloatLit",
	StringLit:  "StringLit",
	CharLit:    "CharLit",
	KwAs:       "as",
	KwConst:    "const",
	KwCrate:    "crate",
	KwDyn:      "dyn",
	KwEnum:     "enum",
	KwExtern:   "extern",
	KwFalse:    "false",
	KwFn:       "fn",
	KwFor:      "for",
	KwIf:       "if",
	KwImpl:     "impl",
	KwIn:       "in",
	KwLet:      "let",
	KwLoop:     "loop",
	KwMatch:    "match",
	KwMod:      "mod",
	KwMove:     "move",
	KwMut:      "mut",
	KwPub:      "pub",
	KwRef:      "ref",
	KwReturn:   "return",
	KwSelf:     "self",
	KwSelfType: "Self",
	KwStatic:   "static",
	KwStruct:   "struct",
	KwTrait:    "trait",
	KwTrue:     "true",
	KwType:     "type",
	KwUnsafe:   "unsafe",
	KwUse:      "use",
	KwWhere:    "where",
	KwWhile:    "while",
	KwAsync:    "async",
	KwElse:     "else",
	LParen:     "(",
	RParen:     ")",
	LBrace:     "{",
	RBrace:     "}",
	LBracket:   "[",
	RBracket:   "]",
	Lt:         "<",
	Gt:         ">",
	Shl:        "<<",
	Shr:        ">>",
	LtEq:       "<=",
	GtEq:       ">=",
	ShrEq:      ">>=",
	ShlEq:      "<<=",
	Comma:      ",",
	Semicolon:  ";",
	Colon:      ":",
	ColonColon: "::",
	Arrow:      "->",
	FatArrow:   "=>",
	Hash:       "#",
	Bang:       "!",
	BangEq:     "!=",
	Amp:        "&",
	AndAnd:     "&&",
	Pipe:       "|",
	OrOr:       "||",
	Star:       "*",
	Plus:       "+",
	Minus:      "-",
	Slash:      "/",
	Percent:    "%",
	Caret:      "^",
	Assign:     "=",
	EqEq:       "==",
	PlusEq:     "+=",
	MinusEq:    "-=",
	StarEq:     "*=",
	SlashEq:    "/=",
	PercentEq:  "%=",
	AmpEq:      "&=",
	PipeEq:     "|=",
	CaretEq:    "^=",
	Dot:        ".",
	DotDot:     "..",
	DotDotEq:   "..=",
	DotDotDot:  "...",
	Question:   "?",
	At:         "@",
	Dollar:     "$",
	Underscore: "_",
}

// String returns the keyword or punctuation spelling, or the kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "Kind(?)"
}

// IsKeyword reports whether k is a reserved word.
func (k Kind) IsKeyword() bool { return k > keywordStart && k < keywordEnd }
