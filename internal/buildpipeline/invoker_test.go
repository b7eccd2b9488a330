package buildpipeline

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rsbridge/internal/config"
	"rsbridge/internal/errs"
	"rsbridge/internal/project"
)

type fakeToolchain struct {
	compile func(ctx context.Context, inv Invocation) error
	calls   atomic.Int32
}

func (f *fakeToolchain) Name() string      { return "fake" }
func (f *fakeToolchain) SourceExt() string { return ".rs" }
func (f *fakeToolchain) Version(context.Context) (string, error) {
	return "fake 1.0", nil
}

func (f *fakeToolchain) Compile(ctx context.Context, inv Invocation) error {
	f.calls.Add(1)
	if f.compile != nil {
		return f.compile(ctx, inv)
	}
	src, err := os.ReadFile(inv.SourcePath)
	if err != nil {
		return err
	}
	return os.WriteFile(inv.OutputPath, append([]byte("artifact:"), src...), 0o600)
}

func testJob(t *testing.T, dir, text string) Job {
	t.Helper()
	cfg := config.DefaultBuildConfig()
	key := project.SumParts(text)
	return Job{Key: key, Name: "unit", Text: text, Config: cfg, Dest: filepath.Join(dir, "artifacts", key.Hex()+cfg.ArtifactExt())}
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected %s to be empty, found %d entries", dir, len(entries))
	}
}

func TestBuildPersistsArtifactAndCleansWorkspace(t *testing.T) {
	dir := t.TempDir()
	tmpRoot := filepath.Join(dir, "tmp")
	var events []Event
	var mu sync.Mutex
	tc := &fakeToolchain{}
	iv := NewInvoker(tc, tmpRoot, Options{Sink: SinkFunc(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})})

	job := testJob(t, dir, "pub fn f() {}")
	res, err := iv.Build(context.Background(), job)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	data, err := os.ReadFile(job.Dest)
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if string(data) != "artifact:pub fn f() {}" {
		t.Fatalf("unexpected artifact %q", data)
	}
	assertEmptyDir(t, tmpRoot)
	if !res.Timings.Has(StageCompile) || len(res.Phases) != 3 {
		t.Fatalf("expected timings for all phases, got %+v", res.Phases)
	}
	last := events[len(events)-1]
	if last.Status != StatusDone || last.Key != job.Key.Short() {
		t.Fatalf("unexpected final event %+v", last)
	}
}

func TestBuildFailureReturnsBuildError(t *testing.T) {
	dir := t.TempDir()
	tmpRoot := filepath.Join(dir, "tmp")
	stderr := "error[E0308]: mismatched types\n --> /x/" + SourceStem + ".rs:2:5\n  |\n2 |     \"x\"\n  |     ^^^ expected `i32`, found `&str`\n"
	tc := &fakeToolchain{compile: func(context.Context, Invocation) error {
		return &CommandError{Name: "rustc", Stderr: stderr, Err: errors.New("exit status 1")}
	}}
	iv := NewInvoker(tc, tmpRoot, Options{})
	job := testJob(t, dir, "fn f() -> i32 {\n    \"x\"\n}")

	_, err := iv.Build(context.Background(), job)
	var be *errs.BuildError
	if !errors.As(err, &be) {
		t.Fatalf("expected BuildError, got %v", err)
	}
	if !errors.Is(err, errs.ErrBuild) {
		t.Fatal("BuildError must match ErrBuild")
	}
	if !slices.Equal(be.Lines, []int{2}) {
		t.Fatalf("lines = %v", be.Lines)
	}
	if len(be.Suggestions) == 0 || be.Source != job.Text || be.Raw != stderr {
		t.Fatalf("incomplete build error: %+v", be)
	}
	assertEmptyDir(t, tmpRoot)
	if _, err := os.Stat(job.Dest); !os.IsNotExist(err) {
		t.Fatal("failed build must not leave an artifact")
	}
}

func TestBuildCleansWorkspaceOnPanic(t *testing.T) {
	dir := t.TempDir()
	tmpRoot := filepath.Join(dir, "tmp")
	tc := &fakeToolchain{compile: func(context.Context, Invocation) error { panic("toolchain exploded") }}
	iv := NewInvoker(tc, tmpRoot, Options{})

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_, _ = iv.Build(context.Background(), testJob(t, dir, "fn f() {}"))
	}()
	assertEmptyDir(t, tmpRoot)
}

func TestBuildTimeoutCleansWorkspace(t *testing.T) {
	dir := t.TempDir()
	tmpRoot := filepath.Join(dir, "tmp")
	tc := &fakeToolchain{compile: func(ctx context.Context, _ Invocation) error {
		<-ctx.Done()
		return &CommandError{Name: "rustc", Err: ctx.Err()}
	}}
	iv := NewInvoker(tc, tmpRoot, Options{Timeout: 20 * time.Millisecond})

	_, err := iv.Build(context.Background(), testJob(t, dir, "fn f() {}"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	assertEmptyDir(t, tmpRoot)
}

func TestBuildDebugDirRetainsSource(t *testing.T) {
	dir := t.TempDir()
	tc := &fakeToolchain{}
	iv := NewInvoker(tc, filepath.Join(dir, "tmp"), Options{})
	job := testJob(t, dir, "fn kept() {}")
	job.Name = "my unit"
	job.Config.DebugDir = filepath.Join(dir, "debug")

	res, err := iv.Build(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	kept := filepath.Join(job.Config.DebugDir, job.Key.Short()+"_my_unit.rs")
	if data, err := os.ReadFile(kept); err != nil || string(data) != job.Text {
		t.Fatalf("debug source not retained: %v", err)
	}
	if res.Workspace == "" {
		t.Fatal("workspace should be retained in debug mode")
	}
}

func TestBuildMaxParallel(t *testing.T) {
	dir := t.TempDir()
	var active, peak atomic.Int32
	tc := &fakeToolchain{compile: func(_ context.Context, inv Invocation) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return os.WriteFile(inv.OutputPath, []byte("x"), 0o600)
	}}
	iv := NewInvoker(tc, filepath.Join(dir, "tmp"), Options{MaxParallel: 1})

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job := testJob(t, dir, strings.Repeat("x", i+1))
			if _, err := iv.Build(context.Background(), job); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if peak.Load() != 1 {
		t.Fatalf("expected at most one concurrent compile, saw %d", peak.Load())
	}
}

func TestRustcArgs(t *testing.T) {
	cfg := config.BuildConfig{OptLevel: 2, DebugInfo: true, DebugMode: true, TargetTriple: "wasm32-unknown-unknown", Emit: config.EmitLLVMIR}
	args := NewRustc("").Args(Invocation{SourcePath: "s.rs", OutputPath: "o.ll", Config: cfg})
	joined := strings.Join(args, " ")
	for _, want := range []string{"--crate-type=cdylib", "opt-level=2", "-g", "debug-assertions=on", "--target=wasm32-unknown-unknown", "--emit=llvm-ir", "-o o.ll s.rs"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing %q in %q", want, joined)
		}
	}
}

func TestVersionRetriesAfterCancel(t *testing.T) {
	echo, err := exec.LookPath("echo")
	if err != nil {
		t.Skip("echo not found")
	}
	tc := NewRustc(echo)
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tc.Version(cancelled); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled version = %v", err)
	}
	v, err := tc.Version(context.Background())
	if err != nil || v == "" {
		t.Fatalf("version after cancel = %q, %v", v, err)
	}
	again, err := tc.Version(context.Background())
	if err != nil || again != v {
		t.Fatalf("memoized version = %q, %v", again, err)
	}
}

func TestClangIRArgs(t *testing.T) {
	cfg := config.DefaultBuildConfig()
	args := strings.Join(NewClangIR("").Args(Invocation{SourcePath: "t.ll", OutputPath: "t.so", Config: cfg}), " ")
	if !strings.Contains(args, "-x ir") || !strings.Contains(args, "-shared") || !strings.HasSuffix(args, "-o t.so t.ll") {
		t.Fatalf("unexpected clang args %q", args)
	}
}

func TestSanitizeName(t *testing.T) {
	if got := SanitizeName("a/b c"); got != "a_b_c" {
		t.Fatalf("got %q", got)
	}
	if got := SanitizeName(""); got != "unit" {
		t.Fatalf("got %q", got)
	}
}

func TestNewBuildErrorSkipsForeignFiles(t *testing.T) {
	raw := "error: x\n --> /rustlib/core.rs:10:1\nerror: y\n --> /ws/snippet.rs:4:2\n"
	be := NewBuildError("rustc", "/ws/snippet.rs", "", &CommandError{Stderr: raw})
	if !slices.Equal(be.Lines, []int{4}) {
		t.Fatalf("lines = %v", be.Lines)
	}
}
