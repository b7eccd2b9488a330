// Package handle tracks native values owned under the guest's ownership
// discipline (Box, Rc, Arc, Vec and borrowed slices) as host handles with
// idempotent release and a bounded deferred-release queue.
package handle

import (
	"strings"

	"rsbridge/internal/abi"
)

// Kind is the ownership flavour of a handle.
type Kind uint8

const (
	Box Kind = iota
	Rc
	Arc
	Vec
	Slice
)

var kindNames = [...]string{Box: "box", Rc: "rc", Arc: "arc", Vec: "vec", Slice: "slice"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// ParseKind accepts "box", "rc", "arc", "vec" and "slice" in any case.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if strings.EqualFold(s, name) {
			return Kind(k), true
		}
	}
	return 0, false
}

// Shared reports whether handles of k can be shared.
func (k Kind) Shared() bool { return k == Rc || k == Arc }

// TypeName renders the guest type of a handle, e.g. "Rc<i64>" or "&[f64]".
func TypeName(k Kind, elem *abi.Type) string {
	e := elem.String()
	switch k {
	case Box:
		return "Box<" + e + ">"
	case Rc:
		return "Rc<" + e + ">"
	case Arc:
		return "Arc<" + e + ">"
	case Vec:
		return "Vec<" + e + ">"
	case Slice:
		return "&[" + e + "]"
	}
	return e
}

// Op names a native helper operation.
type Op string

const (
	OpNew       Op = "new"
	OpDrop      Op = "drop"
	OpClone     Op = "clone"
	OpPush      Op = "push"
	OpFromArray Op = "new_from_array"
)

// SymbolFunc names the native helper for an operation.
type SymbolFunc func(k Kind, op Op, elem *abi.Type) string

// DefaultSymbol follows the rust_<kind>_<op>_<elem> convention of the
// bundled helper crate, e.g. rust_rc_clone_i64.
func DefaultSymbol(k Kind, op Op, elem *abi.Type) string {
	return "rust_" + k.String() + "_" + string(op) + "_" + symbolSuffix(elem)
}

func symbolSuffix(t *abi.Type) string {
	var b strings.Builder
	for _, r := range strings.ToLower(t.String()) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
