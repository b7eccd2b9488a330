package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"

	"rsbridge/internal/cache"
	"rsbridge/internal/errs"
	"rsbridge/internal/ffi/ffitest"
	"rsbridge/internal/project"
	"rsbridge/internal/source"
	"rsbridge/internal/thunk"
)

func p(name, typ string) source.Param { return source.Param{Name: name, Type: typ} }

func testEntry(name string) *cache.Entry {
	return &cache.Entry{
		Key:          project.SumParts(name),
		Name:         name,
		ArtifactPath: "/artifacts/" + name + ".so",
		Exported: []source.Signature{
			{Name: "add", Params: []source.Param{p("a", "i32"), p("b", "i32")}, Return: "i32"},
			{Name: "greet", Params: []source.Param{p("name", "&str")}, Return: "usize"},
			{Name: "noop"},
			{Name: "absent", Return: "i32"},
			{Name: "null_fn"},
			{Name: "takes_string", Params: []source.Param{p("s", "String")}},
			{Name: "largest", Params: []source.Param{p("xs", "&[T]")}, Return: "T", Generic: true},
		},
	}
}

func newBackend() *ffitest.Backend {
	b := ffitest.New()
	b.Define("add", func(args [][]byte, ret []byte) error {
		ffitest.PutI32(ret, ffitest.I32(args[0])+ffitest.I32(args[1]))
		return nil
	})
	b.Define("noop", func([][]byte, []byte) error { return nil })
	b.Define("greet", func(args [][]byte, ret []byte) error {
		// &str приходит как {ptr, len}
		n := ffitest.I64(args[0][8:])
		data, err := b.Heap.Read(ffitest.Ptr(args[0]), int(n))
		if err != nil {
			return err
		}
		ffitest.PutI64(ret, int64(len(data)))
		return nil
	})
	b.Resolve = func(_, symbol string) (ffitest.Func, bool) {
		return nil, symbol == "null_fn"
	}
	return b
}

func newDispatcher(t *testing.T, opts Options) (*Dispatcher, *ffitest.Backend) {
	t.Helper()
	b := newBackend()
	opts.Backend = b
	d, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d, b
}

func wantCallErr(t *testing.T, err error, kind error) {
	t.Helper()
	var rce *errs.RuntimeCallError
	if !errors.As(err, &rce) || !errors.Is(err, kind) {
		t.Fatalf("error = %v, want RuntimeCallError(%v)", err, kind)
	}
}

func TestLoadAndCall(t *testing.T) {
	ctx := context.Background()
	d, b := newDispatcher(t, Options{})
	art, err := d.Load(testEntry("unit"))
	if err != nil {
		t.Fatal(err)
	}
	again, _ := d.Load(testEntry("unit"))
	if again != art || b.Opened() != 1 {
		t.Fatalf("second load reopened the library (opened=%d)", b.Opened())
	}

	got, err := d.Call(ctx, art, "add", []any{2, int32(3)}, "")
	if err != nil || got != int32(5) {
		t.Fatalf("add = %v, %v", got, err)
	}
	got, err = d.Call(ctx, art, "greet", []any{"héllo"}, "")
	if err != nil || got != uint64(6) {
		t.Fatalf("greet = %v, %v", got, err)
	}
	got, err = d.Call(ctx, art, "noop", nil, "")
	if err != nil || got != nil {
		t.Fatalf("noop = %v, %v", got, err)
	}
	got, err = d.Call(ctx, art, "add", []any{1, 1}, "i64")
	if err != nil || got != int64(2) {
		t.Fatalf("add with declared i64 return = %v, %v", got, err)
	}
	if b.Heap.Live() != 0 {
		t.Fatalf("call scratch memory leaked: %d blocks", b.Heap.Live())
	}
	if names := art.Symbols(); len(names) != 6 {
		t.Fatalf("symbols = %v", names)
	}
}

func TestCallErrors(t *testing.T) {
	ctx := context.Background()
	d, b := newDispatcher(t, Options{})
	art, err := d.Load(testEntry("unit"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = d.Call(ctx, art, "missing", nil, "")
	wantCallErr(t, err, errs.ErrMissingSymbol)

	_, err = d.Call(ctx, art, "largest", []any{[]int32{1}}, "")
	wantCallErr(t, err, errs.ErrMissingSymbol)

	_, err = d.Call(ctx, art, "absent", nil, "")
	wantCallErr(t, err, errs.ErrMissingSymbol)

	_, err = d.Call(ctx, art, "add", []any{1}, "")
	wantCallErr(t, err, errs.ErrArity)

	_, err = d.Call(ctx, art, "takes_string", []any{"x"}, "")
	wantCallErr(t, err, errs.ErrUnsupported)

	_, err = d.Call(ctx, art, "add", []any{"x", 1}, "")
	wantCallErr(t, err, errs.ErrUnsupported)

	_, err = d.Call(ctx, art, "add", []any{1 << 40, 1}, "")
	wantCallErr(t, err, errs.ErrUnsupported)

	before := b.Calls()
	_, err = d.Call(ctx, art, "null_fn", nil, "")
	wantCallErr(t, err, errs.ErrNilFunction)
	if b.Calls() != before {
		t.Fatal("null function pointer was called")
	}

	_, err = d.Call(ctx, nil, "add", nil, "")
	wantCallErr(t, err, errs.ErrMissingSymbol)
}

func TestUnload(t *testing.T) {
	ctx := context.Background()
	d, b := newDispatcher(t, Options{})
	entry := testEntry("unit")
	art, _ := d.Load(entry)
	if err := d.Unload(entry.Key); err != nil {
		t.Fatal(err)
	}
	if _, ok := d.Lookup(entry.Key); ok || d.Loaded() != 0 {
		t.Fatal("artifact still registered")
	}
	if b.Closed() != 1 {
		t.Fatalf("closed = %d", b.Closed())
	}
	_, err := d.Call(ctx, art, "add", []any{1, 2}, "")
	wantCallErr(t, err, errs.ErrMissingSymbol)
}

type fakeThunks struct{ builds atomic.Int64 }

func (f *fakeThunks) BuildThunk(_ context.Context, th *thunk.Thunk) (*cache.Entry, error) {
	f.builds.Add(1)
	return &cache.Entry{Key: project.SumParts(th.IR), Name: th.Name, ArtifactPath: "/thunks/" + th.Name + ".so"}, nil
}

func TestThunkPath(t *testing.T) {
	ctx := context.Background()
	if _, err := New(Options{Backend: ffitest.New(), Thunks: &fakeThunks{}}); !errors.Is(err, thunk.ErrNoCallConv) {
		t.Fatalf("missing calling convention error = %v", err)
	}

	builder := &fakeThunks{}
	d, b := newDispatcher(t, Options{Thunks: builder, CallConv: thunk.CCC})
	b.EmulateThunks = true
	art, err := d.Load(testEntry("unit"))
	if err != nil {
		t.Fatal(err)
	}
	for range 3 {
		got, err := d.Call(ctx, art, "add", []any{40, 2}, "")
		if err != nil || got != int32(42) {
			t.Fatalf("add via thunk = %v, %v", got, err)
		}
	}
	// &str is an aggregate and goes the direct way
	if got, err := d.Call(ctx, art, "greet", []any{"abc"}, ""); err != nil || got != uint64(3) {
		t.Fatalf("greet = %v, %v", got, err)
	}
	if builder.builds.Load() != 1 || b.ThunkLoads() != 1 {
		t.Fatalf("builds=%d loads=%d, want one", builder.builds.Load(), b.ThunkLoads())
	}
	if got, err := d.Call(ctx, art, "noop", nil, ""); err != nil || got != nil {
		t.Fatalf("noop via thunk = %v, %v", got, err)
	}
	if builder.builds.Load() != 2 {
		t.Fatalf("builds=%d, want one per signature", builder.builds.Load())
	}
}

func TestConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	d, b := newDispatcher(t, Options{})
	var g errgroup.Group
	for i := range 32 {
		g.Go(func() error {
			art, err := d.Load(testEntry("unit"))
			if err != nil {
				return err
			}
			got, err := d.Call(ctx, art, "add", []any{i, 1}, "")
			if err != nil {
				return err
			}
			if got != int32(i+1) {
				return errors.New("wrong sum")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if b.Opened() != 1 || b.Calls() != 32 {
		t.Fatalf("opened=%d calls=%d", b.Opened(), b.Calls())
	}
}
