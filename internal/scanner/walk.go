package scanner

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"imgcat/internal/filesystem"
	"imgcat/internal/logging"
	"imgcat/internal/mediatypes"
	"imgcat/internal/metrics"
)

// candidate is one supported image found by the walk.
type candidate struct {
	path    string
	root    string
	size    int64
	modTime time.Time
}

// walkResult is what enumerating the roots produced.
type walkResult struct {
	files []candidate
	// incomplete holds roots under which some directory could not be read.
	// Deletion detection is skipped for them.
	incomplete map[string]bool
	errors     int64
}

// walk enumerates supported images under roots depth-first in lexical
// order. Excluded directories are rejected by name before they are opened.
// It stops early, returning what it has, when stop reports true.
func (s *Scanner) walk(ctx context.Context, roots []string, stop func() bool) walkResult {
	res := walkResult{incomplete: make(map[string]bool)}
	seen := make(map[string]bool)
	retry := filesystem.DefaultRetryConfig()

	var visit func(root, dir string) bool
	visit = func(root, dir string) bool {
		if stop() || ctx.Err() != nil {
			return false
		}

		entries, err := filesystem.ReadDirWithRetry(dir, retry)
		if err != nil {
			logging.Warn("Scan: cannot read directory %s: %v", dir, err)
			res.incomplete[root] = true
			res.errors++
			return true
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		for _, e := range entries {
			if stop() || ctx.Err() != nil {
				return false
			}
			name := e.Name()
			path := filepath.Join(dir, name)

			if e.IsDir() {
				if s.excludeDir(name) {
					logging.Debug("Scan: skipping excluded directory %s", path)
					metrics.ScannerDirectoriesExcluded.Inc()
					continue
				}
				if !visit(root, path) {
					return false
				}
				continue
			}

			if !e.Type().IsRegular() || !mediatypes.IsSupportedImage(mediatypes.Ext(name)) {
				continue
			}
			if seen[path] {
				continue
			}
			seen[path] = true

			info, err := e.Info()
			if err != nil {
				logging.Warn("Scan: cannot stat %s: %v", path, err)
				res.errors++
				continue
			}
			res.files = append(res.files, candidate{
				path:    path,
				root:    root,
				size:    info.Size(),
				modTime: info.ModTime(),
			})
		}
		return true
	}

	for _, root := range roots {
		if !visit(root, root) {
			break
		}
	}
	return res
}

func (s *Scanner) excludeDir(name string) bool {
	if s.cfg.SkipHidden && strings.HasPrefix(name, ".") {
		return true
	}
	return s.filter.Excluded(name)
}

// NormalizeRoots cleans, absolutizes and deduplicates roots, dropping any
// root nested inside another. Every root must be a readable directory.
func NormalizeRoots(roots []string) ([]string, error) {
	if len(roots) == 0 {
		return nil, errNoRoots
	}

	var clean []string
	for _, r := range roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, &RootError{Root: r, Err: err}
		}
		info, err := filesystem.StatWithRetry(abs, filesystem.DefaultRetryConfig())
		if err != nil {
			return nil, &RootError{Root: r, Err: err}
		}
		if !info.IsDir() {
			return nil, &RootError{Root: r, Err: errNotDirectory}
		}
		clean = append(clean, abs)
	}

	sort.Strings(clean)
	var out []string
	for _, r := range clean {
		if len(out) > 0 && within(out[len(out)-1], r) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// within reports whether path is root or beneath it.
func within(root, path string) bool {
	if path == root {
		return true
	}
	prefix := strings.TrimSuffix(root, string(os.PathSeparator)) + string(os.PathSeparator)
	return strings.HasPrefix(path, prefix)
}
