package hotreload

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

	"rsbridge/internal/cache"
	"rsbridge/internal/dispatch"
	"rsbridge/internal/errs"
	"rsbridge/internal/ffi/ffitest"
	"rsbridge/internal/project"
	"rsbridge/internal/source"
)

var versionRe = regexp.MustCompile(`fn version\(\) -> i32 \{ (\d+) \}`)

// fakeBuilder "compiles" a project by reading the constant returned from
// version() and loading an artifact whose symbol returns it.
type fakeBuilder struct {
	d *dispatch.Dispatcher

	mu     sync.Mutex
	values map[string]int32
}

func newFakeBuilder(t *testing.T) *fakeBuilder {
	t.Helper()
	fb := &fakeBuilder{values: make(map[string]int32)}
	b := ffitest.New()
	b.Resolve = func(path, symbol string) (ffitest.Func, bool) {
		fb.mu.Lock()
		v, ok := fb.values[path]
		fb.mu.Unlock()
		if !ok || symbol != "version" {
			return nil, false
		}
		return func(_ [][]byte, ret []byte) error {
			ffitest.PutI32(ret, v)
			return nil
		}, true
	}
	d, err := dispatch.New(dispatch.Options{Backend: b})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = d.Close() })
	fb.d = d
	return fb
}

func (f *fakeBuilder) Rebuild(_ context.Context, name, text string) (*dispatch.Artifact, error) {
	m := versionRe.FindStringSubmatch(text)
	if m == nil {
		return nil, &errs.BuildError{Toolchain: "rustc", Raw: "error: expected expression", Source: text}
	}
	n, _ := strconv.Atoi(m[1])
	key := project.SumParts(text)
	path := "/artifacts/" + key.Hex() + ".so"
	f.mu.Lock()
	f.values[path] = int32(n)
	f.mu.Unlock()
	return f.d.Load(&cache.Entry{
		Key:          key,
		Name:         name,
		ArtifactPath: path,
		Exported:     []source.Signature{{Name: "version", Return: "i32"}},
	})
}

// writeVersion rewrites lib.rs and pushes its mtime forward so the change is
// visible regardless of filesystem timestamp granularity.
func writeVersion(t *testing.T, file, body string, step int) {
	t.Helper()
	if err := os.WriteFile(file, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	mt := time.Now().Add(time.Duration(step) * time.Minute)
	if err := os.Chtimes(file, mt, mt); err != nil {
		t.Fatal(err)
	}
}

func src(n int) string {
	return "#[no_mangle]\npub extern \"C\" fn version() -> i32 { " + strconv.Itoa(n) + " }\n"
}

func callVersion(t *testing.T, c *Callable) int32 {
	t.Helper()
	got, err := c.Call(context.Background())
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	return got.(int32)
}

func TestRebuildSwapsArtifact(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBuilder(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "lib.rs")
	writeVersion(t, file, src(1), 0)

	var mu sync.Mutex
	var events []Event
	r := NewRegistry(fb, nil)
	t.Cleanup(r.Close)
	p, err := r.Enable(ctx, dir, Options{Interval: time.Hour, Callback: func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}})
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	if st, err := r.Status(dir); st != Watching || err != nil {
		t.Fatalf("status = %v, %v", st, err)
	}
	again, err := r.Enable(ctx, dir, Options{})
	if err != nil || again != p || p.Builds() != 1 {
		t.Fatalf("re-enable = %p (%v), builds %d", again, err, p.Builds())
	}

	version := p.Bind(fb.d, "version", "")
	if got := callVersion(t, version); got != 1 {
		t.Fatalf("version = %d, want 1", got)
	}

	if changed, err := r.CheckForChanges(ctx, dir); changed || err != nil {
		t.Fatalf("unchanged project rebuilt: %v, %v", changed, err)
	}

	writeVersion(t, file, src(2), 1)
	if changed, err := r.CheckForChanges(ctx, dir); !changed || err != nil {
		t.Fatalf("check = %v, %v", changed, err)
	}
	if got := callVersion(t, version); got != 2 {
		t.Fatalf("version after edit = %d, want 2", got)
	}

	writeVersion(t, file, "fn version( -> {", 2)
	changed, err := r.CheckForChanges(ctx, dir)
	if !changed || !errors.Is(err, errs.ErrBuild) {
		t.Fatalf("broken build = %v, %v", changed, err)
	}
	if st, err := r.Status(dir); st != WatchingWithError || err == nil {
		t.Fatalf("status = %v, %v", st, err)
	}
	if got := callVersion(t, version); got != 2 {
		t.Fatalf("failed build replaced artifact: version = %d", got)
	}

	writeVersion(t, file, src(3), 3)
	if _, err := r.CheckForChanges(ctx, dir); err != nil {
		t.Fatalf("fixed build: %v", err)
	}
	if got := callVersion(t, version); got != 3 {
		t.Fatalf("version = %d, want 3", got)
	}

	mu.Lock()
	defer mu.Unlock()
	var ok, failed int
	for _, ev := range events {
		if ev.Success {
			ok++
		} else {
			failed++
		}
	}
	if ok != 3 || failed != 1 {
		t.Fatalf("events: %d ok, %d failed", ok, failed)
	}
}

func TestNewFileTriggersRebuild(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBuilder(t)
	dir := t.TempDir()
	writeVersion(t, filepath.Join(dir, "lib.rs"), src(1), 0)
	r := NewRegistry(fb, nil)
	t.Cleanup(r.Close)
	p, err := r.Enable(ctx, dir, Options{Interval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "util.rs"), []byte("fn helper() {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if changed, err := p.CheckForChanges(ctx); !changed || err != nil {
		t.Fatalf("check = %v, %v", changed, err)
	}
	if files := p.Files(); len(files) != 2 {
		t.Fatalf("files = %v", files)
	}
	if err := os.Remove(filepath.Join(dir, "util.rs")); err != nil {
		t.Fatal(err)
	}
	if changed, _ := p.CheckForChanges(ctx); !changed {
		t.Fatalf("removed file not detected")
	}
}

func TestPollLoopAndDisable(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBuilder(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "lib.rs")
	writeVersion(t, file, src(10), 0)
	r := NewRegistry(fb, nil)
	p, err := r.Enable(ctx, dir, Options{Interval: 5 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	version := p.Bind(fb.d, "version", "")
	writeVersion(t, file, src(11), 1)

	deadline := time.Now().Add(5 * time.Second)
	for callVersion(t, version) != 11 {
		if time.Now().After(deadline) {
			t.Fatalf("poll loop never picked up the edit")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := r.Disable(dir); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if st, _ := r.Status(dir); st != Disabled {
		t.Fatalf("status = %v", st)
	}
	if err := r.Disable(dir); err != nil {
		t.Fatalf("second disable: %v", err)
	}
	builds := p.Builds()
	writeVersion(t, file, src(12), 2)
	if changed, err := r.CheckForChanges(ctx, dir); changed || err != nil {
		t.Fatalf("disabled project rebuilt: %v, %v", changed, err)
	}
	if p.Builds() != builds || callVersion(t, version) != 11 {
		t.Fatalf("disabled project changed")
	}
	if len(r.Projects()) != 0 {
		t.Fatalf("projects = %v", r.Projects())
	}
}

func TestBrokenInitialBuild(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBuilder(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "lib.rs")
	writeVersion(t, file, "fn broken(", 0)
	r := NewRegistry(fb, nil)
	t.Cleanup(r.Close)
	p, err := r.Enable(ctx, dir, Options{Interval: time.Hour})
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	if st, err := p.Status(); st != WatchingWithError || !errors.Is(err, errs.ErrBuild) {
		t.Fatalf("status = %v, %v", st, err)
	}
	if _, err := r.Current(dir); err == nil {
		t.Fatalf("current artifact without a successful build")
	}
	writeVersion(t, file, src(5), 1)
	if _, err := p.CheckForChanges(ctx); err != nil {
		t.Fatal(err)
	}
	if art, err := r.Current(dir); err != nil || art == nil {
		t.Fatalf("current = %v, %v", art, err)
	}
}

func TestUnknownProject(t *testing.T) {
	r := NewRegistry(newFakeBuilder(t), nil)
	if _, err := r.CheckForChanges(context.Background(), t.TempDir()); !errors.Is(err, ErrNotWatched) {
		t.Fatalf("err = %v", err)
	}
	if err := r.Disable(t.TempDir()); err != nil {
		t.Fatalf("disable unknown: %v", err)
	}
	if _, err := r.Enable(context.Background(), filepath.Join(t.TempDir(), "missing"), Options{}); err == nil {
		t.Fatalf("enable of missing path succeeded")
	}
}

func TestRateLimitedCheckIsRetried(t *testing.T) {
	fb := newFakeBuilder(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "lib.rs")
	writeVersion(t, file, src(1), 0)
	r := NewRegistry(fb, nil)
	t.Cleanup(r.Close)
	p, err := r.Enable(context.Background(), dir, Options{Interval: time.Hour, RebuildPerSecond: 5})
	if err != nil {
		t.Fatal(err)
	}
	version := p.Bind(fb.d, "version", "")
	writeVersion(t, file, src(2), 1)

	// the initial build used the only token; the next one is 200ms away
	short, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if changed, err := p.CheckForChanges(short); changed || err == nil {
		t.Fatalf("limited check = %v, %v", changed, err)
	}
	if got := callVersion(t, version); got != 1 {
		t.Fatalf("version = %d before the rebuild was admitted", got)
	}

	changed, err := p.CheckForChanges(context.Background())
	if !changed || err != nil {
		t.Fatalf("edit lost after a limited check: %v, %v", changed, err)
	}
	if got := callVersion(t, version); got != 2 {
		t.Fatalf("version = %d, want 2", got)
	}
}

func TestDisableFromCallback(t *testing.T) {
	fb := newFakeBuilder(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "lib.rs")
	writeVersion(t, file, src(1), 0)
	r := NewRegistry(fb, nil)
	t.Cleanup(r.Close)

	var armed atomic.Bool
	disabled := make(chan error, 1)
	_, err := r.Enable(context.Background(), dir, Options{
		Interval: 5 * time.Millisecond,
		Callback: func(ev Event) {
			if armed.Load() && ev.Success {
				armed.Store(false)
				disabled <- r.Disable(dir)
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	armed.Store(true)
	writeVersion(t, file, src(2), 1)

	select {
	case err := <-disabled:
		if err != nil {
			t.Fatalf("disable: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Disable from a callback did not return")
	}
	if st, _ := r.Status(dir); st != Disabled {
		t.Fatalf("status = %v", st)
	}
}

// gatedBuilder holds a rebuild open until released.
type gatedBuilder struct {
	*fakeBuilder
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedBuilder) Rebuild(ctx context.Context, name, text string) (*dispatch.Artifact, error) {
	if g.armed.Load() {
		g.entered <- struct{}{}
		<-g.release
	}
	return g.fakeBuilder.Rebuild(ctx, name, text)
}

func TestStatusDuringRebuild(t *testing.T) {
	g := &gatedBuilder{
		fakeBuilder: newFakeBuilder(t),
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	dir := t.TempDir()
	file := filepath.Join(dir, "lib.rs")
	writeVersion(t, file, src(1), 0)
	r := NewRegistry(g, nil)
	t.Cleanup(r.Close)
	p, err := r.Enable(context.Background(), dir, Options{Interval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}

	g.armed.Store(true)
	writeVersion(t, file, src(2), 1)
	result := make(chan error, 1)
	go func() {
		_, err := p.CheckForChanges(context.Background())
		result <- err
	}()
	<-g.entered

	status := make(chan State, 1)
	go func() {
		st, _ := p.Status()
		status <- st
	}()
	select {
	case st := <-status:
		if st != Rebuilding {
			t.Fatalf("status during rebuild = %v", st)
		}
	case <-time.After(5 * time.Second):
		close(g.release)
		t.Fatal("Status blocked on a running rebuild")
	}

	close(g.release)
	if err := <-result; err != nil {
		t.Fatal(err)
	}
	if st, err := p.Status(); st != Watching || err != nil {
		t.Fatalf("status = %v, %v", st, err)
	}
}
