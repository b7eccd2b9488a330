package source

// LineCol represents a human-readable position in a source text.
type LineCol struct {
	Line uint32 // 1-based
	Col  uint32 // 1-based
}

// Param is one parameter of an exported function, with its type spelled as
// in the guest source ("i64", "*const c_char", "Point").
type Param struct {
	Name string `msgpack:"name"`
	Type string `msgpack:"type"`
}

// Signature describes a function exported by a compiled unit.
type Signature struct {
	Name    string  `msgpack:"name"`
	Params  []Param `msgpack:"params"`
	Return  string  `msgpack:"return,omitempty"` // empty means unit
	Generic bool    `msgpack:"generic,omitempty"`
}

// ParamTypes returns the parameter type spellings in declaration order.
func (s Signature) ParamTypes() []string {
	out := make([]string, len(s.Params))
	for i, p := range s.Params {
		out[i] = p.Type
	}
	return out
}

// Unit is one piece of guest source submitted for compilation.
type Unit struct {
	Name       string
	Text       string
	Signatures []Signature
}

// Signature looks up an exported signature by name.
func (u *Unit) Signature(name string) (Signature, bool) {
	if u == nil {
		return Signature{}, false
	}
	for _, sig := range u.Signatures {
		if sig.Name == name {
			return sig, true
		}
	}
	return Signature{}, false
}
