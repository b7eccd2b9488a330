package hotreload

import (
	"context"
	"fmt"

	"rsbridge/internal/dispatch"
)

// Caller invokes a symbol of a loaded artifact.
type Caller interface {
	Call(ctx context.Context, art *dispatch.Artifact, symbol string, args []any, declaredReturn string) (any, error)
}

// Callable is a symbol bound to a watched project. The artifact is resolved
// at every call, so a callable observes swaps made after it was bound.
type Callable struct {
	project *Project
	caller  Caller
	symbol  string
	ret     string
}

// Bind returns a callable for symbol. declaredReturn may be empty.
func (p *Project) Bind(c Caller, symbol, declaredReturn string) *Callable {
	return &Callable{project: p, caller: c, symbol: symbol, ret: declaredReturn}
}

// Call invokes the symbol in the current artifact.
func (c *Callable) Call(ctx context.Context, args ...any) (any, error) {
	art := c.project.Current()
	if art == nil {
		return nil, fmt.Errorf("%s: no artifact loaded for %s", c.symbol, c.project.path)
	}
	return c.caller.Call(ctx, art, c.symbol, args, c.ret)
}
