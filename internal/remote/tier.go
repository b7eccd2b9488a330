package remote

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"rsbridge/internal/project"
)

// Object format: [magic 4][uncompressed size u64][sha256 of payload 32][zstd frame...]
var magic = [4]byte{'R', 'S', 'B', 'Z'}

const headerSize = 4 + 8 + sha256.Size

// MaxArtifactSize bounds the decompressed size of a fetched object.
const MaxArtifactSize = 1 << 30

// ErrCorrupt is returned when a fetched object fails validation.
var ErrCorrupt = errors.New("corrupt remote artifact")

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxArtifactSize))
	return dec
}

// Tier stores compressed artifacts in a BlobStore.
type Tier struct {
	store BlobStore
}

// NewTier wraps store.
func NewTier(store BlobStore) *Tier { return &Tier{store: store} }

// ObjectName is the blob name for an artifact.
func ObjectName(key project.Digest, ext string) string {
	return key.Hex() + ext + ".zst"
}

// Encode compresses payload into the object format.
func Encode(payload []byte) []byte {
	enc := getZstdEncoder()
	defer zstdEncoderPool.Put(enc)

	out := make([]byte, headerSize, headerSize+len(payload)/2)
	copy(out, magic[:])
	binary.LittleEndian.PutUint64(out[4:12], uint64(len(payload)))
	sum := sha256.Sum256(payload)
	copy(out[12:headerSize], sum[:])
	return enc.EncodeAll(payload, out)
}

// Decode validates and decompresses an object.
func Decode(obj []byte) ([]byte, error) {
	if len(obj) < headerSize || !bytes.Equal(obj[:4], magic[:]) {
		return nil, fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	size := binary.LittleEndian.Uint64(obj[4:12])
	if size > MaxArtifactSize {
		return nil, fmt.Errorf("%w: size %d over limit", ErrCorrupt, size)
	}
	dec := getZstdDecoder()
	defer zstdDecoderPool.Put(dec)

	// header sizes are not trusted for allocation
	payload, err := dec.DecodeAll(obj[headerSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if uint64(len(payload)) != size {
		return nil, fmt.Errorf("%w: size %d, want %d", ErrCorrupt, len(payload), size)
	}
	if sha256.Sum256(payload) != [sha256.Size]byte(obj[12:headerSize]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return payload, nil
}

// Fetch downloads key into dst. A missing object is a miss, not an error.
func (t *Tier) Fetch(ctx context.Context, key project.Digest, ext, dst string) (bool, error) {
	obj, err := t.store.Get(ctx, ObjectName(key, ext))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	payload, err := Decode(obj)
	if err != nil {
		return false, err
	}
	if err := writeAtomic(dst, payload); err != nil {
		return false, err
	}
	return true, nil
}

// Push uploads the artifact at src.
func (t *Tier) Push(ctx context.Context, key project.Digest, ext, src string) error {
	payload, err := os.ReadFile(src) // #nosec G304 -- artifact path under the cache root
	if err != nil {
		return err
	}
	return t.store.Put(ctx, ObjectName(key, ext), Encode(payload))
}

func writeAtomic(dst string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0o755); err != nil { // #nosec G302 -- shared libraries must be loadable
		_ = os.Remove(name)
		return err
	}
	return os.Rename(name, dst)
}
