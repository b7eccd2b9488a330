package remote

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"rsbridge/internal/config"
	"rsbridge/internal/project"
)

func TestEncodeDecode(t *testing.T) {
	payload := bytes.Repeat([]byte("\x7fELF shared object "), 200)
	obj := Encode(payload)
	if len(obj) >= len(payload) {
		t.Fatalf("expected compression, %d >= %d", len(obj), len(payload))
	}
	got, err := Decode(obj)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("payload differs after decode")
	}
}

func TestDecodeRejectsCorruption(t *testing.T) {
	obj := Encode([]byte("artifact bytes"))
	obj[len(obj)-1] ^= 0xFF
	if _, err := Decode(obj); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	if _, err := Decode([]byte("nope")); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for short object, got %v", err)
	}

	for _, size := range []uint64{1 << 62, MaxArtifactSize + 1, 3} {
		obj := Encode([]byte("artifact"))
		binary.LittleEndian.PutUint64(obj[4:12], size)
		if _, err := Decode(obj); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("size %d: expected ErrCorrupt, got %v", size, err)
		}
	}
}

func TestTierPushFetch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tier := NewTier(store)
	dir := t.TempDir()
	key := project.SumParts("k")

	ok, err := tier.Fetch(ctx, key, ".so", filepath.Join(dir, "miss.so"))
	if err != nil || ok {
		t.Fatalf("expected clean miss, ok=%v err=%v", ok, err)
	}

	src := filepath.Join(dir, "a.so")
	if err := os.WriteFile(src, []byte("native code"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := tier.Push(ctx, key, ".so", src); err != nil {
		t.Fatal(err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one object, got %d", store.Len())
	}

	dst := filepath.Join(dir, "b.so")
	ok, err = tier.Fetch(ctx, key, ".so", dst)
	if err != nil || !ok {
		t.Fatalf("fetch failed ok=%v err=%v", ok, err)
	}
	if data, _ := os.ReadFile(dst); string(data) != "native code" {
		t.Fatalf("unexpected contents %q", data)
	}

	store.Corrupt(ObjectName(key, ".so"))
	if _, err := tier.Fetch(ctx, key, ".so", filepath.Join(dir, "c.so")); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestDialMinioValidates(t *testing.T) {
	if _, err := DialMinio(config.RemoteSection{}); err == nil {
		t.Fatal("expected error without endpoint and bucket")
	}
	s, err := DialMinio(config.RemoteSection{Endpoint: "localhost:9000", Bucket: "artifacts", Prefix: "rsb"})
	if err != nil {
		t.Fatal(err)
	}
	if got := s.key("x.so.zst"); got != "rsb/x.so.zst" {
		t.Fatalf("key = %q", got)
	}
}
