// Package rsbridge compiles guest source on demand, caches the artifacts by
// content, and calls their exported functions from Go.
package rsbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"rsbridge/internal/abi"
	"rsbridge/internal/buildpipeline"
	"rsbridge/internal/cache"
	"rsbridge/internal/config"
	"rsbridge/internal/dispatch"
	"rsbridge/internal/ffi"
	"rsbridge/internal/handle"
	"rsbridge/internal/hotreload"
	"rsbridge/internal/layout"
	"rsbridge/internal/mono"
	"rsbridge/internal/parser"
	"rsbridge/internal/remote"
	"rsbridge/internal/source"
	"rsbridge/internal/thunk"
	"rsbridge/internal/trace"
)

// Options configure a Context. Zero values fall back to Config, and Config
// falls back to config.Defaults.
type Options struct {
	Config    *config.File
	CacheRoot string

	Backend   ffi.Backend             // default ffi.New()
	Toolchain buildpipeline.Toolchain // default rustc from PATH

	// UseThunks routes scalar calls through generated thunks compiled by
	// ThunkToolchain (default clang) with CallConv (default ccc).
	UseThunks      bool
	ThunkToolchain buildpipeline.Toolchain
	CallConv       thunk.CallConv

	Remote cache.Remote // default from [remote] when an endpoint is set
	Sink   buildpipeline.ProgressSink
	Tracer trace.Tracer
	Logger *slog.Logger
}

// Context owns every registry: the artifact cache, loaded artifacts, generic
// functions, native handles and watched projects.
type Context struct {
	cfg     config.File
	build   config.BuildConfig
	target  layout.Target
	log     *slog.Logger
	tracer  trace.Tracer
	backend ffi.Backend

	tc      buildpipeline.Toolchain
	thunkTC buildpipeline.Toolchain

	store    *cache.Store
	types    *abi.Registry
	generics *mono.Registry
	disp     *dispatch.Dispatcher
	handles  *handle.Manager
	reload   *hotreload.Registry

	helperMu sync.Mutex
	helpers  *dispatch.Artifact

	closed atomic.Bool
}

// ErrClosed is returned by operations on a closed Context.
var ErrClosed = errors.New("rsbridge: context closed")

// New opens the cache and prepares the dispatcher. It does not invoke any
// toolchain.
func New(opts Options) (*Context, error) {
	cfg := config.Defaults()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	build, err := cfg.BuildConfig()
	if err != nil {
		return nil, err
	}
	target, err := layout.TargetFor(build.TargetTriple)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = trace.Nop
	}

	backend := opts.Backend
	if backend == nil {
		if backend, err = ffi.New(); err != nil {
			return nil, err
		}
	}
	root := opts.CacheRoot
	if root == "" {
		if root, err = cfg.CacheRoot(); err != nil {
			return nil, err
		}
	}
	rem := opts.Remote
	if rem == nil && cfg.Remote.Endpoint != "" {
		ms, err := remote.DialMinio(cfg.Remote)
		if err != nil {
			return nil, err
		}
		rem = remote.NewTier(ms)
	}
	store, err := cache.Open(root, cache.Options{
		VerifyChecksum: cfg.Cache.VerifyChecksum,
		StrictChecksum: cfg.Cache.StrictChecksum,
		MaxParallel:    cfg.Cache.MaxParallel,
		Timeout:        cfg.Cache.Timeout.Duration,
		Sink:           opts.Sink,
		Remote:         rem,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}

	c := &Context{
		cfg:      cfg,
		build:    build,
		target:   target,
		log:      log,
		tracer:   tracer,
		backend:  backend,
		tc:       opts.Toolchain,
		thunkTC:  opts.ThunkToolchain,
		store:    store,
		types:    abi.NewRegistry(),
		generics: mono.NewRegistry(),
	}
	if c.tc == nil {
		c.tc = buildpipeline.NewRustc("")
	}
	if c.thunkTC == nil {
		c.thunkTC = buildpipeline.NewClangIR("")
	}

	dopts := dispatch.Options{Backend: backend, Types: c.types, Target: target, Logger: log}
	if opts.UseThunks {
		dopts.Thunks = c
		dopts.CallConv = opts.CallConv
		if dopts.CallConv == "" {
			dopts.CallConv = thunk.CCC
		}
	}
	if c.disp, err = dispatch.New(dopts); err != nil {
		return nil, err
	}
	c.handles = handle.NewManager(natives{c}, handle.Options{
		MaxDeferred: cfg.Handles.MaxDeferred,
		MaxAttempts: cfg.Handles.MaxAttempts,
		Target:      target,
		Types:       c.types,
		Logger:      log,
	})
	c.reload = hotreload.NewRegistry(c, log)
	return c, nil
}

func (c *Context) withTracer(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if trace.FromContext(ctx) == trace.Nop {
		ctx = trace.WithTracer(ctx, c.tracer)
	}
	return ctx
}

func (c *Context) check() error {
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

// BuildConfig returns the configuration entering every cache key.
func (c *Context) BuildConfig() config.BuildConfig { return c.build }

// Store returns the artifact cache.
func (c *Context) Store() *cache.Store { return c.store }

// Types returns the ABI type registry; #[repr(C)] structs of compiled
// sources are registered here.
func (c *Context) Types() *abi.Registry { return c.types }

// Handles returns the handle manager.
func (c *Context) Handles() *handle.Manager { return c.handles }

// Unit parses text into a source unit with its exported signatures.
func (c *Context) Unit(name, text string) (*source.Unit, error) {
	sigs, err := parser.Exports(text)
	if err != nil {
		return nil, err
	}
	return &source.Unit{Name: name, Text: text, Signatures: sigs}, nil
}

// GetOrBuild returns the cache entry for text, compiling it on a miss.
// Structs and generic functions of text are registered either way.
func (c *Context) GetOrBuild(ctx context.Context, name, text string) (*cache.Entry, error) {
	return c.getOrBuild(ctx, name, text, true)
}

func (c *Context) getOrBuild(ctx context.Context, name, text string, generics bool) (*cache.Entry, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	ctx, span := trace.StartSpan(c.withTracer(ctx), trace.ScopeContext, "get_or_build")
	defer span.End(name)

	unit, err := c.Unit(name, text)
	if err != nil {
		return nil, err
	}
	if _, err := c.types.RegisterSource(text); err != nil {
		return nil, err
	}
	if generics {
		if _, err := c.generics.RegisterSource(text); err != nil {
			return nil, err
		}
	}
	return c.store.GetOrBuild(ctx, c.tc, unit, c.build)
}

// Load loads a cached artifact. Loading the same key twice returns the same
// artifact.
func (c *Context) Load(entry *cache.Entry) (*dispatch.Artifact, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.disp.Load(entry)
}

// Compile is GetOrBuild followed by Load.
func (c *Context) Compile(ctx context.Context, name, text string) (*dispatch.Artifact, error) {
	entry, err := c.GetOrBuild(ctx, name, text)
	if err != nil {
		return nil, err
	}
	return c.Load(entry)
}

// Rebuild implements hotreload.Builder.
func (c *Context) Rebuild(ctx context.Context, name, text string) (*dispatch.Artifact, error) {
	return c.Compile(ctx, name, text)
}

// Call invokes symbol of art. declaredReturn overrides the exported return
// type when non-empty.
func (c *Context) Call(ctx context.Context, art *dispatch.Artifact, symbol string, args []any, declaredReturn string) (any, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.disp.Call(c.withTracer(ctx), art, symbol, args, declaredReturn)
}

// InferBindings infers the type parameters of the registered generic
// function name from host arguments.
func (c *Context) InferBindings(name string, args []any) (mono.Bindings, error) {
	info, ok := c.generics.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("generic function %q is not registered", name)
	}
	types, err := mono.HostTypes(args)
	if err != nil {
		return nil, err
	}
	return mono.InferBindings(info, types)
}

// Specialize returns the cached or new instance of name for bindings.
func (c *Context) Specialize(name string, bindings mono.Bindings) (*mono.Instance, error) {
	return c.generics.InstantiateWith(name, bindings)
}

// CallGeneric infers bindings from args (explicit may fill parameters the
// arguments do not determine), compiles the instance once and calls it.
func (c *Context) CallGeneric(ctx context.Context, name string, args []any, explicit mono.Bindings) (any, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	types, err := mono.HostTypes(args)
	if err != nil {
		return nil, err
	}
	inst, err := c.generics.InstantiatePartial(name, types, explicit)
	if err != nil {
		return nil, err
	}
	// the instance source repeats the generic template; registering it again
	// would drop the cached instances
	entry, err := c.getOrBuild(ctx, inst.Symbol, inst.Source, false)
	if err != nil {
		return nil, err
	}
	art, err := c.Load(entry)
	if err != nil {
		return nil, err
	}
	return c.Call(ctx, art, inst.Symbol, args, "")
}

// Acquire takes ownership of a native Box, Rc or Arc.
func (c *Context) Acquire(kind handle.Kind, addr uintptr, elem string) (*handle.Handle, error) {
	return c.handles.Acquire(kind, addr, elem)
}

// AcquireVec takes ownership of a guest Vec returned by a call.
func (c *Context) AcquireVec(v abi.VecValue, elem string) (*handle.Handle, error) {
	return c.handles.AcquireVec(v, elem)
}

// NewHandle moves value into a native Box, Rc or Arc built by the bundled
// helpers.
func (c *Context) NewHandle(ctx context.Context, kind handle.Kind, elem string, value any) (*handle.Handle, error) {
	return c.handles.New(c.withTracer(ctx), kind, elem, value)
}

// NewVec copies values into a native Vec.
func (c *Context) NewVec(ctx context.Context, elem string, values any) (*handle.Handle, error) {
	return c.handles.NewVec(c.withTracer(ctx), elem, values)
}

// Release releases h; releasing twice is a no-op.
func (c *Context) Release(ctx context.Context, h *handle.Handle) error {
	return c.handles.Release(c.withTracer(ctx), h)
}

// Share clones an Rc or Arc handle.
func (c *Context) Share(ctx context.Context, h *handle.Handle) (*handle.Handle, error) {
	return c.handles.Share(c.withTracer(ctx), h)
}

// EnableHotReload watches the project at path using the [hotreload]
// settings. cb may be nil.
func (c *Context) EnableHotReload(ctx context.Context, path string, cb func(hotreload.Event)) (*hotreload.Project, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	hr := c.cfg.HotReload
	return c.reload.Enable(c.withTracer(ctx), path, hotreload.Options{
		Interval:         hr.Interval.Duration,
		RebuildBurst:     hr.RebuildBurst,
		RebuildPerSecond: hr.RebuildPerSecond,
		Callback:         cb,
	})
}

// DisableHotReload stops watching path and waits for the watcher to exit.
func (c *Context) DisableHotReload(path string) error { return c.reload.Disable(path) }

// CheckForChanges rebuilds path now if any of its files changed.
func (c *Context) CheckForChanges(ctx context.Context, path string) (bool, error) {
	return c.reload.CheckForChanges(c.withTracer(ctx), path)
}

// Sweep removes cache entries older than days.
func (c *Context) Sweep(days int) (int, error) { return c.store.Sweep(days) }

// Clear removes every cache entry. Loaded artifacts stay mapped.
func (c *Context) Clear() error { return c.store.Clear() }

// Close stops watchers, retries deferred releases and unloads every artifact.
func (c *Context) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.reload.Close()
	var errList []error
	if _, err := c.handles.Flush(context.Background()); err != nil {
		errList = append(errList, err)
	}
	if n := len(c.handles.Failed()); n > 0 {
		c.log.Warn("native handles could not be released", "count", n)
	}
	errList = append(errList, c.disp.Close(), c.tracer.Flush())
	return errors.Join(errList...)
}
