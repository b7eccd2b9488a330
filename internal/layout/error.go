package layout

import (
	"fmt"
	"strings"
)

// LayoutErrorKind enumerates types of layout calculation errors.
type LayoutErrorKind uint8

const (
	// LayoutErrRecursiveUnsized indicates a recursive type with no fixed size.
	LayoutErrRecursiveUnsized LayoutErrorKind = iota + 1
	LayoutErrLengthConversion
	LayoutErrNegativeLength
	LayoutErrPackedAlign
	LayoutErrFieldIndex
	LayoutErrUnsized
)

// LayoutError represents an error during memory layout calculation.
type LayoutError struct {
	Kind  LayoutErrorKind
	Type  string
	Cycle []string // for LayoutErrRecursiveUnsized
	Value int64    // for LayoutErrNegativeLength, LayoutErrFieldIndex
	Err   error    // for LayoutErrLengthConversion
}

func (e *LayoutError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case LayoutErrRecursiveUnsized:
		if len(e.Cycle) == 0 {
			return fmt.Sprintf("recursive value type has infinite size (%s)", e.Type)
		}
		return fmt.Sprintf("recursive value type has infinite size (cycle: %s)", strings.Join(e.Cycle, " -> "))
	case LayoutErrLengthConversion:
		if e.Err != nil {
			return fmt.Sprintf("array length conversion error (%s): %v", e.Type, e.Err)
		}
		return fmt.Sprintf("array length conversion error (%s)", e.Type)
	case LayoutErrNegativeLength:
		return fmt.Sprintf("negative array length: %d (%s)", e.Value, e.Type)
	case LayoutErrPackedAlign:
		return fmt.Sprintf("packed struct %s cannot also set an alignment", e.Type)
	case LayoutErrFieldIndex:
		return fmt.Sprintf("field index %d out of range (%s)", e.Value, e.Type)
	case LayoutErrUnsized:
		return fmt.Sprintf("type %s has no C layout", e.Type)
	default:
		return fmt.Sprintf("layout error kind=%d %s", e.Kind, e.Type)
	}
}

func (e *LayoutError) Unwrap() error { return e.Err }
