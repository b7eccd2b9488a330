package token

var keywords = map[string]Kind{
	"as":     KwAs,
	"const":  KwConst,
	"crate":  KwCrate,
	"dyn":    KwDyn,
	"enum":   KwEnum,
	"extern": KwExtern,
	"false":  KwFalse,
	"fn":     KwFn,
	"for":    KwFor,
	"if":     KwIf,
	"impl":   KwImpl,
	"in":     KwIn,
	"let":    KwLet,
	"loop":   KwLoop,
	"match":  KwMatch,
	"mod":    KwMod,
	"move":   KwMove,
	"mut":    KwMut,
	"pub":    KwPub,
	"ref":    KwRef,
	"return": KwReturn,
	"self":   KwSelf,
	"Self":   KwSelfType,
	"static": KwStatic,
	"struct": KwStruct,
	"trait":  KwTrait,
	"true":   KwTrue,
	"type":   KwType,
	"unsafe": KwUnsafe,
	"use":    KwUse,
	"where":  KwWhere,
	"while":  KwWhile,
	"async":  KwAsync,
	"else":   KwElse,
}

// LookupKeyword returns the keyword kind for ident, if any.
func LookupKeyword(ident string) (Kind, bool) {
	k, ok := keywords[ident]
	return k, ok
}
