// Package cache is the content-addressed artifact store. A build is looked up
// by the digest of its normalized source, configuration and toolchain version;
// misses are compiled once, even under concurrent requests for the same key.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"rsbridge/internal/buildpipeline"
	"rsbridge/internal/config"
	"rsbridge/internal/errs"
	"rsbridge/internal/project"
	"rsbridge/internal/source"
	"rsbridge/internal/trace"
)

const (
	artifactsDir = "artifacts"
	metaDir      = "meta"
	tmpDir       = "tmp"
	metaExt      = ".mp"
)

// Remote is an optional second tier consulted on local misses.
type Remote interface {
	// Fetch downloads the artifact for key into dst. ok is false on a remote miss.
	Fetch(ctx context.Context, key project.Digest, ext, dst string) (ok bool, err error)
	// Push uploads a freshly built artifact.
	Push(ctx context.Context, key project.Digest, ext, src string) error
}

// Options configure a Store.
type Options struct {
	VerifyChecksum bool
	StrictChecksum bool // checksum mismatch fails the lookup instead of rebuilding
	MaxParallel    int
	Timeout        time.Duration
	Sink           buildpipeline.ProgressSink
	Remote         Remote
	Logger         *slog.Logger
}

// Stats summarizes the store.
type Stats struct {
	Entries int
	Bytes   int64
	Oldest  time.Time
	Newest  time.Time
	Hits    uint64
	Misses  uint64
	Builds  uint64
}

// Store owns the on-disk layout <root>/{artifacts,meta,tmp}.
type Store struct {
	root string
	opts Options
	log  *slog.Logger

	mu       sync.RWMutex
	index    map[project.Digest]*Entry
	invokers map[string]*buildpipeline.Invoker

	locks *keyLocks

	hits, misses, builds atomic.Uint64
}

// Open prepares the directory layout under root.
func Open(root string, opts Options) (*Store, error) {
	if root == "" {
		return nil, errors.New("cache root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{artifactsDir, metaDir, tmpDir} {
		if err := os.MkdirAll(filepath.Join(abs, dir), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create cache dir: %w", err)
		}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		root:     abs,
		opts:     opts,
		log:      log,
		index:    make(map[project.Digest]*Entry),
		invokers: make(map[string]*buildpipeline.Invoker),
		locks:    newKeyLocks(),
	}, nil
}

// Root returns the absolute cache root.
func (s *Store) Root() string { return s.root }

func (s *Store) metaPath(key project.Digest) string {
	return filepath.Join(s.root, metaDir, key.Hex()+metaExt)
}

func (s *Store) artifactPath(file string) string {
	return filepath.Join(s.root, artifactsDir, file)
}

func (s *Store) invoker(tc buildpipeline.Toolchain) *buildpipeline.Invoker {
	s.mu.Lock()
	defer s.mu.Unlock()
	iv, ok := s.invokers[tc.Name()]
	if !ok || iv.Toolchain() != tc {
		iv = buildpipeline.NewInvoker(tc, filepath.Join(s.root, tmpDir), buildpipeline.Options{
			MaxParallel: s.opts.MaxParallel,
			Timeout:     s.opts.Timeout,
			Sink:        s.opts.Sink,
			Logger:      s.log,
		})
		s.invokers[tc.Name()] = iv
	}
	return iv
}

// KeyFor computes the cache key of unit under cfg for toolchain tc.
func (s *Store) KeyFor(ctx context.Context, tc buildpipeline.Toolchain, unit *source.Unit, cfg config.BuildConfig) (project.Digest, config.BuildConfig, string, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return project.Digest{}, cfg, "", err
	}
	version, err := tc.Version(ctx)
	if err != nil {
		return project.Digest{}, cfg, "", fmt.Errorf("toolchain version: %w", err)
	}
	return Key(unit.Text, cfg, tc.Name()+" "+version), cfg, version, nil
}

// GetOrBuild returns the cached artifact for unit, building it with tc on a miss.
// The per-key lock is held across lookup, build and publish, so concurrent
// callers for one key observe exactly one toolchain run.
func (s *Store) GetOrBuild(ctx context.Context, tc buildpipeline.Toolchain, unit *source.Unit, cfg config.BuildConfig) (*Entry, error) {
	if unit == nil {
		return nil, errors.New("nil source unit")
	}
	key, cfg, version, err := s.KeyFor(ctx, tc, unit, cfg)
	if err != nil {
		return nil, err
	}
	tracer := trace.FromContext(ctx)

	unlock := s.locks.lock(key)
	defer unlock()

	entry, err := s.lookup(key)
	if err != nil {
		s.log.Warn("unreadable cache metadata, rebuilding", "key", key.Short(), "err", err)
		s.drop(key, nil)
		entry = nil
	}
	if entry != nil {
		if err := s.verify(entry); err != nil {
			if s.opts.StrictChecksum || !errors.Is(err, errs.ErrChecksum) {
				return nil, err
			}
			s.drop(key, entry)
		} else {
			s.hits.Add(1)
			trace.Point(tracer, trace.ScopeArtifact, "cache.hit", key.Short(), trace.CurrentSpan(ctx).SpanID)
			return entry, nil
		}
	}

	s.misses.Add(1)
	trace.Point(tracer, trace.ScopeArtifact, "cache.miss", key.Short(), trace.CurrentSpan(ctx).SpanID)

	file := key.Hex() + cfg.ArtifactExt()
	dest := s.artifactPath(file)
	fetched := false
	if s.opts.Remote != nil {
		ok, err := s.opts.Remote.Fetch(ctx, key, cfg.ArtifactExt(), dest)
		if err != nil {
			s.log.Warn("remote cache fetch failed", "key", key.Short(), "err", err)
		}
		fetched = ok && err == nil
	}
	if !fetched {
		if _, err := s.invoker(tc).Build(ctx, buildpipeline.Job{Key: key, Name: unit.Name, Text: unit.Text, Config: cfg, Dest: dest}); err != nil {
			return nil, err
		}
		s.builds.Add(1)
	}

	sum, size, err := fileChecksum(dest)
	if err != nil {
		return nil, fmt.Errorf("checksum artifact: %w", err)
	}
	entry = &Entry{
		Schema:           schemaVersion,
		Key:              key,
		Name:             unit.Name,
		ArtifactFile:     file,
		ArtifactPath:     dest,
		Checksum:         sum,
		Size:             size,
		Exported:         append([]source.Signature(nil), unit.Signatures...),
		SourceDigest:     SourceDigest(unit.Text),
		ConfigDigest:     ConfigDigest(cfg),
		TargetTriple:     cfg.TargetTriple,
		Emit:             string(cfg.Emit),
		Toolchain:        tc.Name(),
		ToolchainVersion: version,
		CreatedAt:        time.Now().UTC(),
	}
	if err := writeMeta(s.metaPath(key), entry); err != nil {
		return nil, fmt.Errorf("write metadata: %w", err)
	}
	s.mu.Lock()
	s.index[key] = entry
	s.mu.Unlock()

	if !fetched && s.opts.Remote != nil {
		if err := s.opts.Remote.Push(ctx, key, cfg.ArtifactExt(), dest); err != nil {
			s.log.Warn("remote cache push failed", "key", key.Short(), "err", err)
		}
	}
	return entry, nil
}

// Lookup returns the entry for key from memory or disk without building.
func (s *Store) Lookup(key project.Digest) (*Entry, bool) {
	e, err := s.lookup(key)
	if err != nil || e == nil {
		return nil, false
	}
	return e, true
}

func (s *Store) lookup(key project.Digest) (*Entry, error) {
	s.mu.RLock()
	e, ok := s.index[key]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}
	e, err := readMeta(s.metaPath(key))
	if err != nil || e == nil {
		return nil, err
	}
	if e.Key != key {
		return nil, fmt.Errorf("metadata key %s does not match file name", e.Key.Short())
	}
	e.ArtifactPath = s.artifactPath(e.ArtifactFile)
	s.mu.Lock()
	s.index[key] = e
	s.mu.Unlock()
	return e, nil
}

// verify checks that the artifact exists and, when enabled, matches its checksum.
func (s *Store) verify(e *Entry) error {
	if _, err := os.Stat(e.ArtifactPath); err != nil {
		s.log.Warn("cached artifact missing, rebuilding", "key", e.Key.Short(), "path", e.ArtifactPath)
		return &errs.HandleError{Type: "artifact " + e.Key.Short(), Op: "integrity", Kind: errs.ErrChecksum, Err: err}
	}
	if !s.opts.VerifyChecksum {
		return nil
	}
	sum, _, err := fileChecksum(e.ArtifactPath)
	if err != nil {
		return fmt.Errorf("checksum artifact: %w", err)
	}
	if sum != e.Checksum {
		s.log.Error("artifact checksum mismatch",
			"key", e.Key.Short(),
			"path", e.ArtifactPath,
			"want", e.Checksum.Short(),
			"got", sum.Short(),
			"strict", s.opts.StrictChecksum)
		return &errs.HandleError{Type: "artifact " + e.Key.Short(), Op: "integrity", Kind: errs.ErrChecksum}
	}
	return nil
}

// drop forgets key and removes its files. Callers hold the key lock.
func (s *Store) drop(key project.Digest, e *Entry) {
	s.mu.Lock()
	delete(s.index, key)
	s.mu.Unlock()
	if e != nil && e.ArtifactFile != "" {
		if err := os.Remove(s.artifactPath(e.ArtifactFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("failed to remove artifact", "key", key.Short(), "err", err)
		}
	}
	if err := os.Remove(s.metaPath(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("failed to remove metadata", "key", key.Short(), "err", err)
	}
}

// Stats reports the on-disk totals and the counters of this process.
func (s *Store) Stats() (Stats, error) {
	entries, err := s.List()
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Entries: len(entries),
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Builds:  s.builds.Load(),
	}
	for _, e := range entries {
		st.Bytes += e.Size
		if st.Oldest.IsZero() || e.CreatedAt.Before(st.Oldest) {
			st.Oldest = e.CreatedAt
		}
		if e.CreatedAt.After(st.Newest) {
			st.Newest = e.CreatedAt
		}
	}
	return st, nil
}
