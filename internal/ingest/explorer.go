package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"deployguard/internal/models"
)

// ErrTooManyFiles is returned when a collection exceeds MaxFiles.
var ErrTooManyFiles = errors.New("too many files for one run")

// Options bounds what Collect picks up.
type Options struct {
	MaxDepth         int   // directory levels read, the root being the first; 0 = unlimited
	MaxFiles         int   // 0 = unlimited
	MaxFileSize      int64 // per file; 0 = DefaultMaxFileSize
	IgnoreDirs       []string
	IgnoreExtensions []string
	IgnorePrefixes   []string
}

type filter struct {
	dirs     map[string]bool
	exts     map[string]bool
	prefixes []string
}

func newFilter(opts Options) filter {
	f := filter{dirs: make(map[string]bool), exts: make(map[string]bool), prefixes: opts.IgnorePrefixes}
	for _, d := range opts.IgnoreDirs {
		f.dirs[d] = true
	}
	for _, e := range opts.IgnoreExtensions {
		f.exts[strings.ToLower(e)] = true
	}
	return f
}

func (f filter) skipName(name string) bool {
	for _, p := range f.prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Collect reads every path. Files named explicitly must be readable
// artifacts; files found while walking a directory are kept only when
// their extension is known, and unreadable ones are skipped with a
// warning. Results are sorted by id.
func Collect(paths []string, opts Options) ([]models.Artifact, error) {
	f := newFilter(opts)
	var out []models.Artifact
	seen := make(map[string]bool)

	add := func(a models.Artifact) error {
		if seen[a.ID] {
			return nil
		}
		seen[a.ID] = true
		out = append(out, a)
		if opts.MaxFiles > 0 && len(out) > opts.MaxFiles {
			return fmt.Errorf("%w: limit is %d", ErrTooManyFiles, opts.MaxFiles)
		}
		return nil
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("cannot access '%s': %w", root, err)
		}
		if !info.IsDir() {
			a, err := ReadArtifact(root, opts.MaxFileSize)
			if err != nil {
				return nil, err
			}
			if err := add(a); err != nil {
				return nil, err
			}
			continue
		}
		if err := walk(root, opts, f, add); err != nil {
			return nil, err
		}
	}
	if len(out) == 0 {
		return nil, models.ErrNoArtifacts
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func walk(root string, opts Options, f filter, add func(models.Artifact) error) error {
	base := filepath.Dir(filepath.Clean(root))
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			logrus.Warnf("Skipping '%s': %v", p, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		name := d.Name()
		if d.IsDir() {
			if p == root {
				return nil
			}
			if f.dirs[name] || f.skipName(name) {
				return fs.SkipDir
			}
			if opts.MaxDepth > 0 && depth(rel) >= opts.MaxDepth {
				logrus.Debugf("Depth limit %d reached at '%s'", opts.MaxDepth, p)
				return fs.SkipDir
			}
			return nil
		}
		if f.skipName(name) || f.exts[strings.ToLower(filepath.Ext(name))] || !KnownExtension(name) {
			return nil
		}

		a, err := ReadArtifact(p, opts.MaxFileSize)
		if err != nil {
			logrus.Warnf("Skipping '%s': %v", p, err)
			return nil
		}
		if id, err := filepath.Rel(base, p); err == nil {
			a.ID = ArtifactID(id)
		}
		return add(a)
	})
}

func depth(rel string) int {
	return len(strings.Split(filepath.ToSlash(rel), "/"))
}
