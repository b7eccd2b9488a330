package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCanonical_StableAndIgnoresDebugDir(t *testing.T) {
	a := BuildConfig{OptLevel: 2, TargetTriple: "x86_64-unknown-linux-gnu", Emit: EmitShared}
	b := a
	b.DebugDir = "/tmp/somewhere"
	if a.Canonical() != b.Canonical() {
		t.Fatalf("debug dir must not change canonical form: %q vs %q", a.Canonical(), b.Canonical())
	}
	c := a
	c.OptLevel = 3
	if a.Canonical() == c.Canonical() {
		t.Fatal("opt level must change canonical form")
	}
	want := "opt=2;debuginfo=false;target=x86_64-unknown-linux-gnu;debug=false;emit=shared"
	if got := a.Canonical(); got != want {
		t.Fatalf("Canonical() = %q, want %q", got, want)
	}
}

func TestNormalize_RejectsBadOptLevel(t *testing.T) {
	for _, lvl := range []int{-1, 4} {
		if _, err := (BuildConfig{OptLevel: lvl}).Normalize(); err == nil {
			t.Fatalf("expected error for opt level %d", lvl)
		}
	}
	cfg, err := (BuildConfig{OptLevel: 1}).Normalize()
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.TargetTriple != HostTriple() || cfg.Emit != EmitShared {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestTripleFor(t *testing.T) {
	tests := []struct {
		goos, goarch, want string
	}{
		{"linux", "amd64", "x86_64-unknown-linux-gnu"},
		{"darwin", "arm64", "aarch64-apple-darwin"},
		{"windows", "amd64", "x86_64-pc-windows-msvc"},
	}
	for _, tt := range tests {
		if got := TripleFor(tt.goos, tt.goarch); got != tt.want {
			t.Errorf("TripleFor(%s,%s) = %q, want %q", tt.goos, tt.goarch, got, tt.want)
		}
	}
}

func TestArtifactExt(t *testing.T) {
	if ext := (BuildConfig{TargetTriple: "aarch64-apple-darwin"}).ArtifactExt(); ext != ".dylib" {
		t.Fatalf("got %q", ext)
	}
	if ext := (BuildConfig{TargetTriple: "x86_64-unknown-linux-gnu", Emit: EmitLLVMIR}).ArtifactExt(); ext != ".ll" {
		t.Fatalf("got %q", ext)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rsbridge.toml")
	content := `
[build]
opt_level = 1
debug_info = true
target = "x86_64-unknown-linux-gnu"

[cache]
root = "cache"
max_parallel = 2
timeout = "30s"

[handles]
max_deferred = 10

[hotreload]
interval = "50ms"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	cfg, found, err := Discover(sub)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if found != path {
		t.Fatalf("found %q, want %q", found, path)
	}
	bc, err := cfg.BuildConfig()
	if err != nil {
		t.Fatal(err)
	}
	if bc.OptLevel != 1 || !bc.DebugInfo {
		t.Fatalf("unexpected build config %+v", bc)
	}
	if cfg.Cache.Root != filepath.Join(dir, "cache") {
		t.Fatalf("cache root not resolved relative to file: %q", cfg.Cache.Root)
	}
	if cfg.Cache.Timeout.Duration != 30*time.Second {
		t.Fatalf("timeout = %v", cfg.Cache.Timeout.Duration)
	}
	if cfg.Handles.MaxDeferred != 10 || cfg.Handles.MaxAttempts != 5 {
		t.Fatalf("handles section = %+v", cfg.Handles)
	}
	if cfg.HotReload.Interval.Duration != 50*time.Millisecond {
		t.Fatalf("interval = %v", cfg.HotReload.Interval.Duration)
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rsbridge.toml")
	if err := os.WriteFile(path, []byte("[build]\noptimisation = 2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "unknown keys") {
		t.Fatalf("expected unknown keys error, got %v", err)
	}
}

func TestCacheRoot_Env(t *testing.T) {
	t.Setenv("RSBRIDGE_CACHE_DIR", "/var/cache/rsb")
	root, err := Defaults().CacheRoot()
	if err != nil {
		t.Fatal(err)
	}
	if root != "/var/cache/rsb" {
		t.Fatalf("root = %q", root)
	}
}
