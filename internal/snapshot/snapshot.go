// Package snapshot records which files exist under a directory so that
// files created by a run can be told apart from pre-existing state.
package snapshot

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Warning describes a subtree that could not be read and was skipped.
type Warning struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// Snapshot is the set of normalized file paths found by Walk.
type Snapshot struct {
	Files   map[string]struct{}
	Skipped []Warning
}

// Has reports whether path (already normalized) is in the snapshot.
func (s Snapshot) Has(path string) bool {
	_, ok := s.Files[path]
	return ok
}

// WarnOutsideRoot is the Warning.Err text for links that resolve outside the
// walked directory.
const WarnOutsideRoot = "resolves outside the run directory"

// Walk collects every regular file and symlink under dir as an absolute,
// symlink-resolved path. Unreadable subtrees are skipped and reported in
// Skipped, as are links whose target lies outside dir; Walk itself never
// fails.
func Walk(dir string) Snapshot {
	s := Snapshot{Files: make(map[string]struct{})}

	root, err := filepath.Abs(dir)
	if err != nil {
		s.Skipped = append(s.Skipped, Warning{Path: dir, Err: err.Error()})
		return s
	}
	realRoot := Normalize(root)

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.Skipped = append(s.Skipped, Warning{Path: path, Err: err.Error()})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		resolved := Normalize(path)
		if !Within(realRoot, resolved) {
			s.Skipped = append(s.Skipped, Warning{Path: path, Err: WarnOutsideRoot})
			return nil
		}
		s.Files[resolved] = struct{}{}
		return nil
	})
	return s
}

// Normalize returns the absolute, symlink-resolved form of path. Dangling
// links fall back to the cleaned absolute path.
func Normalize(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return filepath.Clean(path)
}

// Within reports whether path is root or lies below it. Both must already
// be normalized.
func Within(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(root, string(filepath.Separator))+string(filepath.Separator))
}

// Diff returns the sorted paths present in after but not in before,
// leaving out any path in exclude.
func Diff(before, after Snapshot, exclude ...string) []string {
	skip := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		skip[Normalize(e)] = struct{}{}
	}

	var out []string
	for p := range after.Files {
		if before.Has(p) {
			continue
		}
		if _, ok := skip[p]; ok {
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Filter drops paths outside root and paths under root that match any
// doublestar pattern. Patterns are matched against the slash-separated path
// relative to root. Invalid patterns match nothing.
func Filter(paths []string, root string, patterns []string) []string {
	out := paths[:0:0]
	for _, p := range paths {
		if !Within(root, p) {
			continue
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			continue
		}
		if !matchAny(patterns, filepath.ToSlash(rel)) {
			out = append(out, p)
		}
	}
	return out
}

func matchAny(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, rel); err == nil && ok {
			return true
		}
	}
	return false
}
