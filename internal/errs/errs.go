// Package errs defines the error taxonomy shared by the build, call, handle
// and specialization layers.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel kinds, matched with errors.Is.
var (
	ErrBuild           = errors.New("build failed")
	ErrMissingSymbol   = errors.New("missing symbol")
	ErrArity           = errors.New("argument count mismatch")
	ErrUnsupported     = errors.New("unsupported ABI type")
	ErrNilFunction     = errors.New("nil function pointer")
	ErrReleased        = errors.New("handle already released")
	ErrChecksum        = errors.New("artifact checksum mismatch")
	ErrQueueFull       = errors.New("deferred release queue full")
	ErrOutOfBounds     = errors.New("index out of bounds")
	ErrUnderdetermined = errors.New("type parameter not determined")
	ErrConflict        = errors.New("conflicting type bindings")
	ErrBound           = errors.New("type does not satisfy bound")
)

// BuildError is a toolchain failure with its raw diagnostic output.
type BuildError struct {
	Toolchain   string
	Raw         string   // complete stderr of the toolchain
	Lines       []int    // 1-based source lines referenced by the diagnostic
	Suggestions []string // heuristic fixes
	Source      string   // the source that failed to compile
	Err         error    // process error (exit status, timeout)
}

func (e *BuildError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(e.Toolchain)
	b.WriteString(": build failed")
	if len(e.Lines) > 0 {
		fmt.Fprintf(&b, " (line %d)", e.Lines[0])
	}
	if msg := firstLine(e.Raw); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *BuildError) Is(target error) bool { return target == ErrBuild }

func (e *BuildError) Unwrap() error { return e.Err }

// RuntimeCallError reports a failed foreign call.
type RuntimeCallError struct {
	Symbol   string
	Artifact string // short key of the artifact the symbol was looked up in
	Kind     error  // ErrMissingSymbol, ErrArity, ErrUnsupported, ErrNilFunction
	Detail   string
}

func (e *RuntimeCallError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("call %s", e.Symbol)
	if e.Artifact != "" {
		msg += " [" + e.Artifact + "]"
	}
	if e.Kind != nil {
		msg += ": " + e.Kind.Error()
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *RuntimeCallError) Unwrap() error { return e.Kind }

// HandleError reports misuse of a native handle or an artifact integrity failure.
// Type names the concrete handle type (e.g. "Rc<i64>"), Op the operation.
type HandleError struct {
	Type string
	Op   string
	Kind error
	Err  error
}

func (e *HandleError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Op)
	if e.Kind != nil {
		msg += ": " + e.Kind.Error()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *HandleError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// ResolutionError reports under- or contradictorily-determined generic bindings.
type ResolutionError struct {
	Func      string
	TypeParam string
	Kind      error
	Detail    string
}

func (e *ResolutionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("resolve %s", e.Func)
	if e.TypeParam != "" {
		msg += "<" + e.TypeParam + ">"
	}
	if e.Kind != nil {
		msg += ": " + e.Kind.Error()
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Kind }

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
