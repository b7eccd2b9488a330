package mono

import (
	"fmt"
	"strings"

	"rsbridge/internal/errs"
)

type traitSet map[string]bool

func traits(names ...string) traitSet {
	s := make(traitSet, len(names))
	for _, n := range names {
		s[n] = true
	}
	return s
}

var (
	common  = []string{"Copy", "Clone", "Debug", "Default", "PartialEq", "PartialOrd", "Send", "Sync", "Sized", "Unpin"}
	arith   = []string{"Add", "Sub", "Mul", "Div", "Rem", "AddAssign", "SubAssign", "MulAssign", "DivAssign", "RemAssign", "Sum", "Product"}
	integer = append(append(append([]string{}, common...), arith...), "Eq", "Ord", "Hash", "Display", "FromStr",
		"BitAnd", "BitOr", "BitXor", "Shl", "Shr", "Not")
	float = append(append(append([]string{}, common...), arith...), "Display", "FromStr", "Neg")
)

// primitiveTraits lists the standard traits implemented by each primitive.
// Types outside the table are not checked.
var primitiveTraits = map[string]traitSet{
	"i8":    traits(append(integer, "Neg")...),
	"i16":   traits(append(integer, "Neg")...),
	"i32":   traits(append(integer, "Neg")...),
	"i64":   traits(append(integer, "Neg")...),
	"i128":  traits(append(integer, "Neg")...),
	"isize": traits(append(integer, "Neg")...),
	"u8":    traits(integer...),
	"u16":   traits(integer...),
	"u32":   traits(integer...),
	"u64":   traits(integer...),
	"u128":  traits(integer...),
	"usize": traits(integer...),
	"f32":   traits(float...),
	"f64":   traits(float...),
	"bool":  traits(append(common, "Eq", "Ord", "Hash", "Display", "FromStr", "Not", "BitAnd", "BitOr", "BitXor")...),
	"char":  traits(append(common, "Eq", "Ord", "Hash", "Display", "FromStr")...),
	"&str":  traits(append(common, "Eq", "Ord", "Hash", "Display")...),
}

// known lists the traits the table can answer for; others are left to the compiler.
var known = func() traitSet {
	s := make(traitSet)
	for _, set := range primitiveTraits {
		for t := range set {
			s[t] = true
		}
	}
	s["Neg"] = true
	return s
}()

// CheckBounds rejects bindings of primitive types to parameters whose
// constraints the primitive does not implement, e.g. f64 for T: Ord.
func CheckBounds(info *GenericInfo, bindings Bindings) error {
	for _, p := range info.TypeParams {
		set, ok := primitiveTraits[bindings[p]]
		if !ok {
			continue
		}
		for _, b := range info.Constraints[p] {
			trait := b.Trait
			if i := strings.LastIndex(trait, "::"); i >= 0 {
				trait = trait[i+2:]
			}
			if known[trait] && !set[trait] {
				return &errs.ResolutionError{
					Func:      info.Name,
					TypeParam: p,
					Kind:      errs.ErrBound,
					Detail:    fmt.Sprintf("%s does not implement %s", bindings[p], b),
				}
			}
		}
	}
	return nil
}
