package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"rsbridge/internal/project"
)

// sweepParallelism bounds concurrent file removals during Sweep.
const sweepParallelism = 8

// List reads every metadata file, oldest first. Unreadable files are skipped.
func (s *Store) List() ([]*Entry, error) {
	dirents, err := os.ReadDir(filepath.Join(s.root, metaDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]*Entry, 0, len(dirents))
	for _, de := range dirents {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, metaExt) {
			continue
		}
		key, err := project.ParseDigest(strings.TrimSuffix(name, metaExt))
		if err != nil {
			continue
		}
		e, err := s.lookup(key)
		if err != nil || e == nil {
			s.log.Debug("skipping unreadable metadata", "file", name, "err", err)
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Key.Hex() < out[j].Key.Hex()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Sweep removes entries (and stale workspaces) created more than
// olderThanDays days ago. It returns the number of removed entries.
func (s *Store) Sweep(olderThanDays int) (int, error) {
	if olderThanDays < 0 {
		return 0, fmt.Errorf("negative sweep age %d", olderThanDays)
	}
	cutoff := time.Now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	entries, err := s.List()
	if err != nil {
		return 0, err
	}

	var removed atomic.Int64
	var g errgroup.Group
	g.SetLimit(sweepParallelism)
	for _, e := range entries {
		if !e.CreatedAt.Before(cutoff) {
			continue
		}
		g.Go(func() error {
			unlock := s.locks.lock(e.Key)
			defer unlock()
			s.drop(e.Key, e)
			removed.Add(1)
			return nil
		})
	}

	tmpEntries, err := os.ReadDir(filepath.Join(s.root, tmpDir))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = g.Wait()
		return int(removed.Load()), err
	}
	for _, de := range tmpEntries {
		info, err := de.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.root, tmpDir, de.Name())
		g.Go(func() error {
			return os.RemoveAll(path)
		})
	}
	err = g.Wait()
	n := int(removed.Load())
	if n > 0 {
		s.log.Info("cache swept", "removed", n, "older_than_days", olderThanDays)
	}
	return n, err
}

// Clear removes every artifact, metadata file and workspace.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errsOut []error
	for _, dir := range []string{artifactsDir, metaDir, tmpDir} {
		path := filepath.Join(s.root, dir)
		if err := os.RemoveAll(path); err != nil {
			errsOut = append(errsOut, err)
			continue
		}
		if err := os.MkdirAll(path, 0o750); err != nil {
			errsOut = append(errsOut, err)
		}
	}
	clear(s.index)
	return errors.Join(errsOut...)
}
