package rsbridge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rsbridge/internal/buildpipeline"
	"rsbridge/internal/config"
	"rsbridge/internal/errs"
	"rsbridge/internal/ffi/ffitest"
	"rsbridge/internal/handle"
	"rsbridge/internal/hotreload"
	"rsbridge/internal/mono"
)

// copyToolchain "compiles" by copying the source to the artifact path, so
// the fake backend can read the source back when resolving symbols.
type copyToolchain struct {
	calls atomic.Int32
}

func (c *copyToolchain) Name() string      { return "fake" }
func (c *copyToolchain) SourceExt() string { return ".rs" }
func (c *copyToolchain) Version(context.Context) (string, error) {
	return "fake 1.0", nil
}

func (c *copyToolchain) Compile(_ context.Context, inv buildpipeline.Invocation) error {
	c.calls.Add(1)
	src, err := os.ReadFile(inv.SourcePath)
	if err != nil {
		return err
	}
	if regexp.MustCompile(`\bcompile_error!`).Match(src) {
		return &buildpipeline.CommandError{Name: "fake", Stderr: "error: explicit compile error\n", Err: errors.New("exit status 1")}
	}
	return os.WriteFile(inv.OutputPath, src, 0o600)
}

var constFn = regexp.MustCompile(`fn (\w+)\(\) -> (i32|f64) \{ ([0-9.]+) \}`)

// newBackend resolves constant functions from the artifact text, generic
// instances of first::<T> and the Box/Rc helpers for i64.
func newBackend() *ffitest.Backend {
	b := ffitest.New()
	b.RequireFile = true
	b.Resolve = func(path, symbol string) (ffitest.Func, bool) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, false
		}
		for _, m := range constFn.FindAllStringSubmatch(string(data), -1) {
			if m[1] != symbol {
				continue
			}
			typ, lit := m[2], m[3]
			return func(_ [][]byte, ret []byte) error {
				if typ == "f64" {
					f, _ := strconv.ParseFloat(lit, 64)
					ffitest.PutF64(ret, f)
					return nil
				}
				n, _ := strconv.Atoi(lit)
				ffitest.PutI32(ret, int32(n))
				return nil
			}, true
		}
		if len(symbol) > 7 && symbol[:7] == "first__" {
			return func(args [][]byte, ret []byte) error {
				copy(ret, args[0])
				return nil
			}, true
		}
		return nil, false
	}

	var mu sync.Mutex
	refs := map[uintptr]int{}
	newI64 := func(args [][]byte, ret []byte) error {
		addr := b.Heap.Put(args[0][:8])
		mu.Lock()
		refs[addr] = 1
		mu.Unlock()
		ffitest.PutPtr(ret, addr)
		return nil
	}
	drop := func(args [][]byte, _ []byte) error {
		addr := ffitest.Ptr(args[0])
		mu.Lock()
		defer mu.Unlock()
		if refs[addr]--; refs[addr] == 0 {
			delete(refs, addr)
			return b.Heap.Free(addr)
		}
		return nil
	}
	clone := func(args [][]byte, ret []byte) error {
		mu.Lock()
		refs[ffitest.Ptr(args[0])]++
		mu.Unlock()
		copy(ret, args[0][:8])
		return nil
	}
	b.Define("rust_box_new_i64", newI64)
	b.Define("rust_box_drop_i64", drop)
	b.Define("rust_rc_new_i64", newI64)
	b.Define("rust_rc_clone_i64", clone)
	b.Define("rust_rc_drop_i64", drop)
	return b
}

func testConfig() *config.File {
	cfg := config.Defaults()
	cfg.Build.Target = "x86_64-unknown-linux-gnu"
	cfg.HotReload.Interval = config.Duration{Duration: time.Hour}
	cfg.HotReload.RebuildPerSecond = 0
	return &cfg
}

func newContext(t *testing.T) (*Context, *copyToolchain, *ffitest.Backend) {
	t.Helper()
	tc := &copyToolchain{}
	b := newBackend()
	c, err := New(Options{Config: testConfig(), CacheRoot: t.TempDir(), Backend: b, Toolchain: tc})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, tc, b
}

func TestCompileIsCachedAndSymbolsArePerArtifact(t *testing.T) {
	ctx := context.Background()
	c, tc, _ := newContext(t)
	const srcA = "#[no_mangle]\npub extern \"C\" fn same() -> i32 { 7 }\n"
	const srcB = "#[no_mangle]\npub extern \"C\" fn same() -> f64 { 2.5 }\n"

	a, err := c.Compile(ctx, "a", srcA)
	if err != nil {
		t.Fatalf("compile a: %v", err)
	}
	b, err := c.Compile(ctx, "b", srcB)
	if err != nil {
		t.Fatalf("compile b: %v", err)
	}
	again, err := c.Compile(ctx, "a", srcA)
	if err != nil || again != a {
		t.Fatalf("recompile = %v, %v", again, err)
	}
	if tc.calls.Load() != 2 {
		t.Fatalf("toolchain ran %d times, want 2", tc.calls.Load())
	}

	if got, err := c.Call(ctx, a, "same", nil, ""); err != nil || got != int32(7) {
		t.Fatalf("a.same = %v, %v", got, err)
	}
	if got, err := c.Call(ctx, b, "same", nil, ""); err != nil || got != 2.5 {
		t.Fatalf("b.same = %v, %v", got, err)
	}
	if _, err := c.Call(ctx, a, "missing", nil, ""); !errors.Is(err, errs.ErrMissingSymbol) {
		t.Fatalf("missing symbol: %v", err)
	}
}

func TestBuildErrorIsNotCached(t *testing.T) {
	ctx := context.Background()
	c, tc, _ := newContext(t)
	const bad = "#[no_mangle]\npub extern \"C\" fn f() -> i32 { compile_error!(\"no\") }\n"
	for range 2 {
		_, err := c.Compile(ctx, "bad", bad)
		var be *errs.BuildError
		if !errors.As(err, &be) || be.Raw == "" {
			t.Fatalf("compile error = %v", err)
		}
	}
	if tc.calls.Load() != 2 {
		t.Fatalf("failed builds must run the toolchain each time, ran %d", tc.calls.Load())
	}
}

func TestCallGeneric(t *testing.T) {
	ctx := context.Background()
	c, tc, _ := newContext(t)
	const src = "pub fn first<T: Copy>(x: T, y: T) -> T { x }\n"
	if _, err := c.Compile(ctx, "generics", src); err != nil {
		t.Fatalf("compile: %v", err)
	}
	b, err := c.InferBindings("first", []any{int32(3), int32(4)})
	if err != nil || b["T"] != "i32" {
		t.Fatalf("bindings = %v, %v", b, err)
	}
	for range 2 {
		got, err := c.CallGeneric(ctx, "first", []any{int32(3), int32(4)}, nil)
		if err != nil || got != int32(3) {
			t.Fatalf("first(3, 4) = %v, %v", got, err)
		}
	}
	if tc.calls.Load() != 2 {
		t.Fatalf("toolchain ran %d times, want 2 (template and one instance)", tc.calls.Load())
	}
	got, err := c.CallGeneric(ctx, "first", []any{1.5, 2.5}, nil)
	if err != nil || got != 1.5 {
		t.Fatalf("first(1.5, 2.5) = %v, %v", got, err)
	}

	_, err = c.CallGeneric(ctx, "first", []any{int32(1), 2.0}, nil)
	var re *errs.ResolutionError
	if !errors.As(err, &re) || !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("conflicting bindings: %v", err)
	}
	inst, err := c.Specialize("first", mono.Bindings{"T": "u8"})
	if err != nil || inst.Symbol != "first__u8" {
		t.Fatalf("specialize = %v, %v", inst, err)
	}
}

func TestHandlesThroughHelpers(t *testing.T) {
	ctx := context.Background()
	c, tc, b := newContext(t)
	box, err := c.NewHandle(ctx, handle.Box, "i64", 9)
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	rc, err := c.NewHandle(ctx, handle.Rc, "i64", 10)
	if err != nil {
		t.Fatalf("new rc: %v", err)
	}
	if tc.calls.Load() != 1 {
		t.Fatalf("helpers compiled %d times", tc.calls.Load())
	}
	clone, err := c.Share(ctx, rc)
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	if err := c.Release(ctx, rc); err != nil {
		t.Fatalf("release rc: %v", err)
	}
	raw, err := b.Heap.Read(clone.Address(), 8)
	if err != nil || ffitest.I64(raw) != 10 {
		t.Fatalf("clone unusable after original release: %v, %v", raw, err)
	}
	for _, h := range []*handle.Handle{box, clone, box} {
		if err := c.Release(ctx, h); err != nil {
			t.Fatalf("release: %v", err)
		}
	}
	if b.Heap.Live() != 0 {
		t.Fatalf("live blocks = %d", b.Heap.Live())
	}
	if _, err := c.Share(ctx, box); !errors.Is(err, errs.ErrUnsupported) {
		t.Fatalf("share box: %v", err)
	}
}

func TestHotReloadThroughContext(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newContext(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "lib.rs")
	write := func(n int, step time.Duration) {
		body := "#[no_mangle]\npub extern \"C\" fn version() -> i32 { " + strconv.Itoa(n) + " }\n"
		if err := os.WriteFile(file, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		mt := time.Now().Add(step)
		if err := os.Chtimes(file, mt, mt); err != nil {
			t.Fatal(err)
		}
	}
	write(1, 0)

	var swaps atomic.Int32
	p, err := c.EnableHotReload(ctx, dir, func(ev hotreload.Event) {
		if ev.Success {
			swaps.Add(1)
		}
	})
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	version := p.Bind(c, "version", "")
	if got, err := version.Call(ctx); err != nil || got != int32(1) {
		t.Fatalf("version = %v, %v", got, err)
	}
	write(2, time.Minute)
	if changed, err := c.CheckForChanges(ctx, dir); !changed || err != nil {
		t.Fatalf("check = %v, %v", changed, err)
	}
	if got, err := version.Call(ctx); err != nil || got != int32(2) {
		t.Fatalf("version after edit = %v, %v", got, err)
	}
	if err := c.DisableHotReload(dir); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if swaps.Load() != 2 {
		t.Fatalf("swaps = %d", swaps.Load())
	}
}

func TestMaintenanceAndClose(t *testing.T) {
	ctx := context.Background()
	c, tc, _ := newContext(t)
	const src = "#[no_mangle]\npub extern \"C\" fn one() -> i32 { 1 }\n"
	if _, err := c.GetOrBuild(ctx, "one", src); err != nil {
		t.Fatal(err)
	}
	if n, err := c.Sweep(1); err != nil || n != 0 {
		t.Fatalf("sweep of fresh entries = %d, %v", n, err)
	}
	if err := c.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := c.GetOrBuild(ctx, "one", src); err != nil {
		t.Fatal(err)
	}
	if tc.calls.Load() != 2 {
		t.Fatalf("clear did not force a rebuild")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := c.Compile(ctx, "one", src); !errors.Is(err, ErrClosed) {
		t.Fatalf("compile after close: %v", err)
	}
}
