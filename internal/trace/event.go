package trace

import "time"

// Kind represents the type of trace event.
type Kind uint8

const (
	// KindSpanBegin marks the start of a logical operation.
	KindSpanBegin Kind = iota + 1
	// KindSpanEnd marks the end of a logical operation.
	KindSpanEnd
	// KindPoint represents an instant event.
	KindPoint
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindSpanBegin:
		return "begin"
	case KindSpanEnd:
		return "end"
	case KindPoint:
		return "point"
	default:
		return "unknown"
	}
}

// Scope indicates the granularity level of the event.
// Lower numeric values represent higher-level/coarser events.
type Scope uint8

const (
	// ScopeContext covers operations on the owning context (open, close, sweep).
	ScopeContext Scope = iota + 1
	// ScopeBuild covers toolchain invocations and hot-reload rebuilds.
	ScopeBuild
	// ScopeArtifact covers cache hits/misses, loads and swaps.
	ScopeArtifact
	// ScopeCall covers individual native calls and handle releases.
	ScopeCall
)

// String returns the string representation of Scope.
func (s Scope) String() string {
	switch s {
	case ScopeContext:
		return "context"
	case ScopeBuild:
		return "build"
	case ScopeArtifact:
		return "artifact"
	case ScopeCall:
		return "call"
	default:
		return "unknown"
	}
}

// Event represents a single trace event.
type Event struct {
	Time     time.Time         // wall-clock timestamp
	Seq      uint64            // global sequence number (monotonic)
	Kind     Kind              // event kind
	Scope    Scope             // granularity level
	SpanID   uint64            // unique span identifier
	ParentID uint64            // parent span (0 if root)
	GID      uint64            // goroutine ID (for concurrent spans)
	Name     string            // e.g. "rustc", "cache.miss", "release:Rc<i64>"
	Detail   string            // optional detail message
	Extra    map[string]string // extensible key-value pairs
}
