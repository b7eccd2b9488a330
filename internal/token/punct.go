package token

// Puncts lists every punctuation spelling, longest first, for maximal munch.
var Puncts = []struct {
	Text string
	Kind Kind
}{
	{">>=", ShrEq},
	{"<<=", ShlEq},
	{"..=", DotDotEq},
	{"...", DotDotDot},
	{"<<", Shl},
	{">>", Shr},
	{"<=", LtEq},
	{">=", GtEq},
	{"::", ColonColon},
	{"->", Arrow},
	{"=>", FatArrow},
	{"!=", BangEq},
	{"&&", AndAnd},
	{"||", OrOr},
	{"==", EqEq},
	{"+=", PlusEq},
	{"-=", MinusEq},
	{"*=", StarEq},
	{"/=", SlashEq},
	{"%=", PercentEq},
	{"&=", AmpEq},
	{"|=", PipeEq},
	{"^=", CaretEq},
	{"..", DotDot},
	{"(", LParen},
	{")", RParen},
	{"{", LBrace},
	{"}", RBrace},
	{"[", LBracket},
	{"]", RBracket},
	{"<", Lt},
	{">", Gt},
	{",", Comma},
	{";", Semicolon},
	{":", Colon},
	{"#", Hash},
	{"!", Bang},
	{"&", Amp},
	{"|", Pipe},
	{"*", Star},
	{"+", Plus},
	{"-", Minus},
	{"/", Slash},
	{"%", Percent},
	{"^", Caret},
	{"=", Assign},
	{".", Dot},
	{"?", Question},
	{"@", At},
	{"$", Dollar},
	{"_", Underscore},
}
