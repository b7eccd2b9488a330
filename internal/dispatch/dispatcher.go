// Package dispatch loads compiled artifacts and calls their exported
// functions, marshaling host values through the abi codec.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"rsbridge/internal/abi"
	"rsbridge/internal/cache"
	"rsbridge/internal/errs"
	"rsbridge/internal/ffi"
	"rsbridge/internal/layout"
	"rsbridge/internal/project"
	"rsbridge/internal/thunk"
	"rsbridge/internal/trace"
)

// ThunkBuilder compiles a generated thunk into a loadable artifact.
type ThunkBuilder interface {
	BuildThunk(ctx context.Context, t *thunk.Thunk) (*cache.Entry, error)
}

// Options configure a Dispatcher.
type Options struct {
	Backend ffi.Backend
	Types   *abi.Registry
	Target  layout.Target

	// Thunks switches calls to the thunk path. Nil means direct libffi calls.
	Thunks   ThunkBuilder
	CallConv thunk.CallConv

	Logger *slog.Logger
}

// Dispatcher owns the loaded-artifact registry.
type Dispatcher struct {
	backend ffi.Backend
	types   *abi.Registry
	engine  *layout.LayoutEngine
	thunks  ThunkBuilder
	cc      thunk.CallConv
	log     *slog.Logger

	mu        sync.RWMutex
	artifacts map[project.Digest]*Artifact

	thunkMu   sync.Mutex
	thunkLibs map[string]*Artifact
}

// New returns a dispatcher. Backend is required.
func New(opts Options) (*Dispatcher, error) {
	if opts.Backend == nil {
		return nil, errors.New("dispatch: nil backend")
	}
	if opts.Thunks != nil {
		if _, err := thunk.ParseCallConv(string(opts.CallConv)); err != nil {
			return nil, fmt.Errorf("dispatch: %w", err)
		}
	}
	types := opts.Types
	if types == nil {
		types = abi.NewRegistry()
	}
	target := opts.Target
	if target.PtrSize == 0 {
		target = layout.X86_64LinuxGNU()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		backend:   opts.Backend,
		types:     types,
		engine:    layout.New(target),
		thunks:    opts.Thunks,
		cc:        opts.CallConv,
		log:       log,
		artifacts: make(map[project.Digest]*Artifact),
		thunkLibs: make(map[string]*Artifact),
	}, nil
}

// Types returns the type registry used to resolve signatures.
func (d *Dispatcher) Types() *abi.Registry { return d.types }

// Engine returns the layout engine of the target.
func (d *Dispatcher) Engine() *layout.LayoutEngine { return d.engine }

// Load opens the artifact of entry, or returns it if already loaded.
func (d *Dispatcher) Load(entry *cache.Entry) (*Artifact, error) {
	if entry == nil {
		return nil, errors.New("dispatch: nil cache entry")
	}
	d.mu.RLock()
	art, ok := d.artifacts[entry.Key]
	d.mu.RUnlock()
	if ok {
		return art, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if art, ok := d.artifacts[entry.Key]; ok {
		return art, nil
	}
	lib, err := d.backend.Open(entry.ArtifactPath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", entry.Key.Short(), err)
	}
	art = &Artifact{
		Key:     entry.Key,
		Name:    entry.Name,
		Path:    entry.ArtifactPath,
		lib:     lib,
		sigs:    make(map[string]sigEntry, len(entry.Exported)),
		symbols: make(map[string]uintptr),
	}
	for _, sig := range entry.Exported {
		if sig.Generic {
			continue
		}
		art.addSignature(d.types, sig)
		if e, _ := art.signature(sig.Name); e.err != nil {
			d.log.Debug("exported function is not callable", "artifact", entry.Key.Short(), "symbol", sig.Name, "err", e.err)
		}
	}
	d.artifacts[entry.Key] = art
	return art, nil
}

// Lookup returns a loaded artifact.
func (d *Dispatcher) Lookup(key project.Digest) (*Artifact, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	art, ok := d.artifacts[key]
	return art, ok
}

// Loaded returns the number of loaded artifacts.
func (d *Dispatcher) Loaded() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.artifacts)
}

// Unload closes the library of key. Calls through the artifact fail afterwards.
func (d *Dispatcher) Unload(key project.Digest) error {
	d.mu.Lock()
	art, ok := d.artifacts[key]
	delete(d.artifacts, key)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return art.close()
}

// Close unloads every artifact and thunk library.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	arts := d.artifacts
	d.artifacts = make(map[project.Digest]*Artifact)
	d.mu.Unlock()
	d.thunkMu.Lock()
	thunks := d.thunkLibs
	d.thunkLibs = make(map[string]*Artifact)
	d.thunkMu.Unlock()

	var errList []error
	for _, a := range arts {
		errList = append(errList, a.close())
	}
	for _, a := range thunks {
		errList = append(errList, a.close())
	}
	return errors.Join(errList...)
}

func callErr(art *Artifact, symbol string, kind error, detail string) *errs.RuntimeCallError {
	e := &errs.RuntimeCallError{Symbol: symbol, Kind: kind, Detail: detail}
	if art != nil {
		e.Artifact = art.Key.Short()
	}
	return e
}

// Call invokes an exported symbol of art. declaredReturn overrides the
// exported return type when non-empty. A unit return yields nil.
func (d *Dispatcher) Call(ctx context.Context, art *Artifact, symbol string, args []any, declaredReturn string) (any, error) {
	if art == nil {
		return nil, callErr(nil, symbol, errs.ErrMissingSymbol, "no artifact")
	}
	e, ok := art.signature(symbol)
	if !ok {
		return nil, callErr(art, symbol, errs.ErrMissingSymbol, "not exported by "+art.Name)
	}
	if e.err != nil {
		return nil, callErr(art, symbol, errs.ErrUnsupported, e.err.Error())
	}
	sig := e.sig
	if declaredReturn != "" {
		rt, err := d.types.Parse(declaredReturn)
		if err != nil {
			return nil, callErr(art, symbol, errs.ErrUnsupported, err.Error())
		}
		sig.Return = rt
	}
	return d.CallSig(ctx, art, symbol, sig, args)
}

// CallSig invokes symbol with an explicit signature, bypassing the export
// table. Runtime helper symbols are called this way.
func (d *Dispatcher) CallSig(ctx context.Context, art *Artifact, symbol string, sig abi.Signature, args []any) (result any, err error) {
	if art == nil {
		return nil, callErr(nil, symbol, errs.ErrMissingSymbol, "no artifact")
	}
	if len(args) != len(sig.Params) {
		return nil, callErr(art, symbol, errs.ErrArity, fmt.Sprintf("want %d, got %d", len(sig.Params), len(args)))
	}
	_, span := trace.StartSpan(ctx, trace.ScopeCall, "call")
	defer func() {
		if err != nil {
			span.WithExtra("error", err.Error())
		}
		span.End(symbol)
	}()

	fn, err := art.resolve(symbol)
	if err != nil {
		return nil, callErr(art, symbol, errs.ErrMissingSymbol, err.Error())
	}
	if fn == 0 {
		return nil, callErr(art, symbol, errs.ErrNilFunction, "")
	}

	arena := d.backend.NewArena()
	defer arena.Free()
	codec := abi.NewCodec(d.engine, arena, d.backend.Memory())

	images := make([][]byte, len(args))
	for i, a := range args {
		img, err := codec.Encode(sig.Params[i], a)
		if err != nil {
			return nil, callErr(art, symbol, errs.ErrUnsupported, fmt.Sprintf("argument %d: %v", i, err))
		}
		images[i] = img
	}
	retSize, err := codec.SizeOf(sig.Return)
	if err != nil {
		return nil, callErr(art, symbol, errs.ErrUnsupported, "return: "+err.Error())
	}
	ret := make([]byte, retSize)

	if d.thunks != nil && thunk.Supported(sig, d.engine.Target.PtrSize) {
		err = d.callThunk(ctx, arena, fn, sig, images, ret)
	} else {
		err = d.backend.Call(fn, sig, images, ret)
	}
	if err != nil {
		if errors.Is(err, errs.ErrUnsupported) {
			return nil, callErr(art, symbol, errs.ErrUnsupported, err.Error())
		}
		return nil, fmt.Errorf("call %s: %w", symbol, err)
	}
	if sig.Return.IsVoid() {
		return nil, nil
	}
	out, err := codec.Decode(sig.Return, ret)
	if err != nil {
		return nil, callErr(art, symbol, errs.ErrUnsupported, "return: "+err.Error())
	}
	return out, nil
}
