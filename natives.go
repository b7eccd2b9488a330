package rsbridge

import (
	"context"

	"rsbridge/internal/abi"
	"rsbridge/internal/cache"
	"rsbridge/internal/config"
	"rsbridge/internal/dispatch"
	"rsbridge/internal/thunk"
	runtimeembed "rsbridge/runtime"
)

// helperUnit is the unit name of the compiled ownership helpers.
const helperUnit = "rsbridge_helpers"

// helperArtifact compiles and loads the ownership helpers on first use.
func (c *Context) helperArtifact(ctx context.Context) (*dispatch.Artifact, error) {
	c.helperMu.Lock()
	defer c.helperMu.Unlock()
	if c.helpers != nil {
		return c.helpers, nil
	}
	text, err := runtimeembed.HelperSource(runtimeembed.HelperElems...)
	if err != nil {
		return nil, err
	}
	unit, err := c.Unit(helperUnit, text)
	if err != nil {
		return nil, err
	}
	entry, err := c.store.GetOrBuild(ctx, c.tc, unit, c.build)
	if err != nil {
		return nil, err
	}
	art, err := c.disp.Load(entry)
	if err != nil {
		return nil, err
	}
	c.helpers = art
	return art, nil
}

// natives runs handle helpers through the dispatcher.
type natives struct{ c *Context }

func (n natives) CallSig(ctx context.Context, symbol string, sig abi.Signature, args []any) (any, error) {
	art, err := n.c.helperArtifact(ctx)
	if err != nil {
		return nil, err
	}
	return n.c.disp.CallSig(ctx, art, symbol, sig, args)
}

func (n natives) Memory() abi.Memory { return n.c.backend.Memory() }

func (n natives) Scratch() (abi.Allocator, func()) {
	arena := n.c.backend.NewArena()
	return arena, arena.Free
}

// BuildThunk implements dispatch.ThunkBuilder: thunks are LLVM IR compiled
// to a shared object and cached like any other artifact.
func (c *Context) BuildThunk(ctx context.Context, t *thunk.Thunk) (*cache.Entry, error) {
	cfg := c.build
	cfg.Emit = config.EmitShared
	return c.store.GetOrBuild(ctx, c.thunkTC, t.Unit(), cfg)
}
