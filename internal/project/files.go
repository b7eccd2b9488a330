package project

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SourceExt is the extension of guest source files.
const SourceExt = ".rs"

// skipDirs are never scanned for sources.
var skipDirs = map[string]struct{}{
	"target": {},
	".git":   {},
}

// ListSources returns a sorted list of all *.rs files under dir.
// A file path is accepted as a single-file project.
func ListSources(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if filepath.Ext(dir) != SourceExt {
			return nil, fmt.Errorf("%q is not a %s file", dir, SourceExt)
		}
		return []string{dir}, nil
	}
	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if _, skip := skipDirs[d.Name()]; skip && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, SourceExt) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// deterministic order for concatenation and hashing
	sort.Strings(files)
	return files, nil
}

// ReadSources concatenates files in order, separated by a path marker comment.
// Paths are written relative to base so the output does not depend on where
// the project is checked out.
func ReadSources(base string, files []string) (string, error) {
	var b strings.Builder
	for _, f := range files {
		// #nosec G304 -- files come from ListSources
		data, err := os.ReadFile(f)
		if err != nil {
			return "", fmt.Errorf("failed to read %q: %w", f, err)
		}
		rel, relErr := filepath.Rel(base, f)
		if relErr != nil {
			rel = filepath.Base(f)
		}
		fmt.Fprintf(&b, "// -- %s\n", filepath.ToSlash(rel))
		b.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}
