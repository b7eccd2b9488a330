package cache

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"rsbridge/internal/project"
	"rsbridge/internal/source"
)

// Current schema version - increment when Entry format changes
const schemaVersion uint16 = 1

// Entry describes one cached artifact. Entries are immutable once published.
type Entry struct {
	Schema uint16 `msgpack:"schema"`

	Key          project.Digest `msgpack:"key"`
	Name         string         `msgpack:"name"`
	ArtifactFile string         `msgpack:"artifact"` // file name under <root>/artifacts
	ArtifactPath string         `msgpack:"-"`        // resolved on load
	Checksum     project.Digest `msgpack:"checksum"` // sha256 of the artifact bytes
	Size         int64          `msgpack:"size"`

	Exported []source.Signature `msgpack:"exported"`

	SourceDigest     project.Digest `msgpack:"source_digest"`
	ConfigDigest     project.Digest `msgpack:"config_digest"`
	TargetTriple     string         `msgpack:"target"`
	Emit             string         `msgpack:"emit"`
	Toolchain        string         `msgpack:"toolchain"`
	ToolchainVersion string         `msgpack:"toolchain_version"`
	CreatedAt        time.Time      `msgpack:"created_at"`
}

// Signature looks up an exported signature by symbol name.
func (e *Entry) Signature(name string) (source.Signature, bool) {
	for _, sig := range e.Exported {
		if sig.Name == name {
			return sig, true
		}
	}
	return source.Signature{}, false
}

func writeMeta(path string, e *Entry) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), "tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()

	if err = msgpack.NewEncoder(f).Encode(e); err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	// Атомарная замена
	return os.Rename(f.Name(), path)
}

// readMeta returns (nil, nil) when the file does not exist.
func readMeta(path string) (*Entry, error) {
	f, err := os.Open(path) // #nosec G304 -- path under the cache root
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var e Entry
	if err := msgpack.NewDecoder(f).Decode(&e); err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", filepath.Base(path), err)
	}
	if e.Schema != schemaVersion {
		return nil, fmt.Errorf("metadata %s: schema %d, want %d", filepath.Base(path), e.Schema, schemaVersion)
	}
	return &e, nil
}

// fileChecksum hashes a file's contents.
func fileChecksum(path string) (project.Digest, int64, error) {
	var d project.Digest
	f, err := os.Open(path) // #nosec G304 -- path under the cache root
	if err != nil {
		return d, 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return d, 0, err
	}
	copy(d[:], h.Sum(nil))
	return d, n, nil
}
