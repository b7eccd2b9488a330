package project

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSumParts_BoundariesMatter(t *testing.T) {
	a := SumParts("ab", "c")
	b := SumParts("a", "bc")
	if a == b {
		t.Fatal("expected different digests for different part boundaries")
	}
	if a != SumParts("ab", "c") {
		t.Fatal("expected stable digest")
	}
}

func TestParseDigest_RoundTrip(t *testing.T) {
	d := Sum([]byte("fn main() {}"))
	got, err := ParseDigest(d.Hex())
	if err != nil {
		t.Fatalf("ParseDigest: %v", err)
	}
	if got != d {
		t.Fatalf("got %s, want %s", got, d)
	}
	if len(d.Short()) != 16 {
		t.Fatalf("short digest length = %d", len(d.Short()))
	}
	if _, err := ParseDigest("abc"); err == nil {
		t.Fatal("expected error for short digest")
	}
}

func TestListSources_SortedAndSkipsTarget(t *testing.T) {
	dir := t.TempDir()
	for _, p := range []string{"src/b.rs", "src/a.rs", "target/debug/gen.rs", "README.md"} {
		full := filepath.Join(dir, p)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("// "+p+"\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	files, err := ListSources(dir)
	if err != nil {
		t.Fatalf("ListSources: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %v", files)
	}
	if !strings.HasSuffix(files[0], "a.rs") || !strings.HasSuffix(files[1], "b.rs") {
		t.Fatalf("unexpected order: %v", files)
	}
	text, err := ReadSources(dir, files)
	if err != nil {
		t.Fatalf("ReadSources: %v", err)
	}
	if !strings.Contains(text, "// -- src/a.rs\n") {
		t.Fatalf("missing path marker in %q", text)
	}
}
