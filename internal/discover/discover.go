// Package discover classifies paths under the package manager's
// temporary directories into build sources, and scans those directories
// for builds the filesystem watch missed.
package discover

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	lockSuffix = ".portage_lockfile"
	logName    = "build.log"
	logSubdir  = "temp"
	packageSub = "portage"

	// FetchID is the reserved source ID for the auxiliary fetch-log
	// window. It never resolves to a lock path.
	FetchID = "_fetch"
)

// Source identifies one build by its directory tuple.
type Source struct {
	Root     string // "<tempdir>/portage"
	Category string
	Package  string // "name-version"
}

// ID is the canonical window key: root/category/package.
func (s Source) ID() string {
	return s.Root + "/" + s.Category + "/" + s.Package
}

// LogPath returns the build log location for this source.
func (s Source) LogPath() string {
	return filepath.Join(s.Root, s.Category, s.Package, logSubdir, logName)
}

// LockPath returns the advisory lockfile guarding this source.
func (s Source) LockPath() string {
	return filepath.Join(s.Root, s.Category, "."+s.Package+lockSuffix)
}

// Roots holds the configured temp directories and their derived
// package-build roots, longest first so nested roots match correctly.
type Roots struct {
	tempdirs []string
	pdirs    []string
	first    string
}

// New derives the build roots from the configured temp directories. The
// first configured directory is the primary one; windows under any other
// root are labeled with it in their title bars.
func New(tempdirs []string) *Roots {
	r := &Roots{tempdirs: tempdirs}
	for _, d := range tempdirs {
		r.pdirs = append(r.pdirs, filepath.Join(d, packageSub))
	}
	if len(r.pdirs) > 0 {
		r.first = r.pdirs[0]
	}
	sort.Slice(r.pdirs, func(i, j int) bool { return len(r.pdirs[i]) > len(r.pdirs[j]) })
	return r
}

// First returns the primary build root.
func (r *Roots) First() string { return r.first }

// Tempdirs returns the configured temp directories.
func (r *Roots) Tempdirs() []string { return r.tempdirs }

// split resolves path against the build roots and returns the matching
// root plus the relative path segments.
func (r *Roots) split(path string) (string, []string, bool) {
	for _, pd := range r.pdirs {
		rel := strings.TrimPrefix(path, pd)
		if rel == path || (rel != "" && rel[0] != '/') {
			continue
		}
		rel = strings.TrimPrefix(rel, "/")
		if rel == "" {
			return pd, nil, true
		}
		return pd, strings.Split(rel, "/"), true
	}
	return "", nil, false
}

// ClassifyLog reports whether path is a build log of interest
// (<root>/<category>/<pkg-ver>/temp/build.log) and its source.
func (r *Roots) ClassifyLog(path string) (Source, bool) {
	pd, segs, ok := r.split(path)
	if !ok || len(segs) != 4 || segs[2] != logSubdir || segs[3] != logName {
		return Source{}, false
	}
	return Source{Root: pd, Category: segs[0], Package: segs[1]}, true
}

// ClassifyLock reports whether path is a build lockfile
// (<root>/<category>/.<pkg-ver>.portage_lockfile) and its source.
func (r *Roots) ClassifyLock(path string) (Source, bool) {
	pd, segs, ok := r.split(path)
	if !ok || len(segs) != 2 {
		return Source{}, false
	}
	name := segs[1]
	if !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, lockSuffix) {
		return Source{}, false
	}
	pkg := strings.TrimSuffix(strings.TrimPrefix(name, "."), lockSuffix)
	if pkg == "" {
		return Source{}, false
	}
	return Source{Root: pd, Category: segs[0], Package: pkg}, true
}

// WatchDir decides whether a directory should carry a filesystem watch.
// Only the handful of levels that can produce a build log are watched:
// the temp directory itself, the build root, category and package
// directories, and the package's temp/ subdirectory.
func (r *Roots) WatchDir(path string) bool {
	for _, d := range r.tempdirs {
		if path == d {
			return true
		}
	}
	_, segs, ok := r.split(path)
	if !ok {
		return false
	}
	switch {
	case len(segs) <= 2:
		return true
	case len(segs) == 3 && segs[2] == logSubdir:
		return true
	}
	return false
}

// ScanLocks lists every lockfile under the build roots, newest first
// within each root so likely-active builds are picked up before stale
// ones. Roots are visited in configuration order.
func (r *Roots) ScanLocks() []Source {
	var out []Source
	for _, d := range r.tempdirs {
		pd := filepath.Join(d, packageSub)
		matches, err := filepath.Glob(filepath.Join(pd, "*", ".*"+lockSuffix))
		if err != nil {
			continue
		}
		type entry struct {
			mtime int64
			path  string
		}
		entries := make([]entry, 0, len(matches))
		for _, m := range matches {
			var mtime int64
			if info, err := os.Stat(m); err == nil {
				mtime = info.ModTime().UnixNano()
			}
			entries = append(entries, entry{mtime, m})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].mtime > entries[j].mtime })
		for _, e := range entries {
			if src, ok := r.ClassifyLock(e.path); ok {
				out = append(out, src)
			}
		}
	}
	return out
}
