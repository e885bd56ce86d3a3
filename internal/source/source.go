package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoInputDir is returned when the input directory does not exist.
// Callers treat it as "nothing to do" rather than a failure.
var ErrNoInputDir = errors.New("input directory does not exist")

// PredSuffix is appended to the source stem to name a prediction raster.
const PredSuffix = "_pred.tif"

// EvalDirSuffix is appended to the output root in evaluation mode.
const EvalDirSuffix = "_eval"

// WorkItem identifies one input tile and where its prediction goes.
type WorkItem struct {
	SourcePath string // full path to the input tile
	Name       string // base filename, the identity used by the resume ledger
	OutputKey  string // prediction path relative to the output root, slash separated
	OutputDir  string // directory the prediction lands in
}

// Layout maps input tiles onto output locations.
type Layout struct {
	InputDir  string
	OutputDir string
	Evaluate  bool
}

// OutputRoot returns the directory that holds predictions and resume logs.
func (l Layout) OutputRoot() string {
	if l.Evaluate {
		return l.OutputDir + EvalDirSuffix
	}
	return l.OutputDir
}

// Item derives the WorkItem for a source file under the input dir.
func (l Layout) Item(path string) (WorkItem, error) {
	name := filepath.Base(path)
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	var key string
	if l.Evaluate {
		key = stem + PredSuffix
	} else {
		rel, err := filepath.Rel(l.InputDir, path)
		if err != nil {
			return WorkItem{}, fmt.Errorf("relative path for %s: %w", path, err)
		}
		if strings.HasPrefix(rel, "..") {
			return WorkItem{}, fmt.Errorf("%s is outside input dir %s", path, l.InputDir)
		}
		relStem := strings.TrimSuffix(rel, filepath.Ext(rel))
		key = filepath.ToSlash(relStem + PredSuffix)
	}

	return WorkItem{
		SourcePath: path,
		Name:       name,
		OutputKey:  key,
		OutputDir:  filepath.Dir(filepath.Join(l.OutputRoot(), filepath.FromSlash(key))),
	}, nil
}

// Enumerate walks the input dir and returns a WorkItem for every file whose
// extension matches one of exts, sorted by source path.
func Enumerate(l Layout, exts []string) ([]WorkItem, error) {
	info, err := os.Stat(l.InputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoInputDir, l.InputDir)
		}
		return nil, fmt.Errorf("stat input dir %s: %w", l.InputDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path %s is not a directory", l.InputDir)
	}

	var paths []string
	err = filepath.WalkDir(l.InputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if HasExtension(path, exts) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}

	sort.Strings(paths)

	items := make([]WorkItem, 0, len(paths))
	for _, p := range paths {
		item, err := l.Item(p)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Filter drops items whose Name is in seen, preserving order.
func Filter(items []WorkItem, seen map[string]struct{}) (pending []WorkItem, skipped int) {
	pending = make([]WorkItem, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.Name]; ok {
			skipped++
			continue
		}
		pending = append(pending, item)
	}
	return pending, skipped
}

// HasExtension reports whether path ends in one of exts, ignoring case.
// Extensions may be given with or without the leading dot.
func HasExtension(path string, exts []string) bool {
	ext := filepath.Ext(path)
	for _, want := range exts {
		if !strings.HasPrefix(want, ".") {
			want = "." + want
		}
		if strings.EqualFold(ext, want) {
			return true
		}
	}
	return false
}

// Batches splits items into consecutive slices of at most size items.
// The last batch may be smaller.
func Batches(items []WorkItem, size int) [][]WorkItem {
	if size < 1 {
		size = 1
	}
	var out [][]WorkItem
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
