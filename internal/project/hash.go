package project

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Digest - фиксированный 256 битный хеш, ключ кэша артефактов.
type Digest [32]byte

// Sum hashes raw bytes.
func Sum(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// SumParts hashes a sequence of length-prefixed parts so that
// ("ab","c") and ("a","bc") never collide.
func SumParts(parts ...string) Digest {
	h := sha256.New()
	var lenBuf [8]byte
	for _, p := range parts {
		n := uint64(len(p))
		for i := range lenBuf {
			lenBuf[i] = byte(n >> (8 * i))
		}
		_, _ = h.Write(lenBuf[:])
		_, _ = h.Write([]byte(p))
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

// Hex returns the lowercase hex form (64 chars).
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first 16 hex chars, used for workspace and debug file prefixes.
func (d Digest) Short() string {
	return d.Hex()[:16]
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	var z Digest
	return d == z
}

func (d Digest) String() string { return d.Hex() }

// ParseDigest decodes a 64-char hex digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("invalid digest %q: %w", s, err)
	}
	if len(raw) != len(d) {
		return d, fmt.Errorf("invalid digest %q: want %d bytes, got %d", s, len(d), len(raw))
	}
	copy(d[:], raw)
	return d, nil
}
