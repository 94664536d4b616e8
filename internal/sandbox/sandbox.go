// Package sandbox confines all user-supplied path access to the download
// root. Every browse or file-serving request resolves through here.
package sandbox

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrPathEscapesRoot signals that a user-supplied path resolves outside
// the download root, including via symlinks.
var ErrPathEscapesRoot = errors.New("path escapes download root")

// Sandbox resolves user paths against a canonicalized root.
type Sandbox struct {
	root string
}

// Entry describes one item in a directory listing.
type Entry struct {
	Name         string `json:"name"`
	RelativePath string `json:"relative_path"`
	IsDir        bool   `json:"is_dir"`
	Size         int64  `json:"size"`
}

// New canonicalizes root (which must exist) and returns a sandbox over it.
func New(root string) (*Sandbox, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("download root is required")
	}
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("resolving download root: %w", err)
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return nil, fmt.Errorf("resolving download root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat download root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("download root is not a directory")
	}
	return &Sandbox{root: abs}, nil
}

// Root returns the canonicalized root.
func (s *Sandbox) Root() string {
	return s.root
}

// Resolve maps a user-supplied root-relative path to an absolute path
// inside the root. Traversal components are a violation, never silently
// clamped back inside. Symlinks along the deepest existing ancestor are
// resolved before the containment check, so a link pointing outside the
// root is rejected even when the final component does not exist yet.
func (s *Sandbox) Resolve(userPath string) (string, error) {
	cleaned := filepath.Clean(strings.TrimLeft(strings.TrimSpace(userPath), "/"))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", ErrPathEscapesRoot
	}
	joined := filepath.Join(s.root, cleaned)

	resolved, err := resolveExisting(joined)
	if err != nil {
		return "", err
	}
	if !s.contains(resolved) {
		return "", ErrPathEscapesRoot
	}
	return joined, nil
}

// resolveExisting resolves symlinks for the deepest existing ancestor of
// path and re-appends the missing suffix.
func resolveExisting(path string) (string, error) {
	remainder := ""
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, remainder), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolving path: %w", err)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("resolving path: no existing ancestor")
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}

func (s *Sandbox) contains(abs string) bool {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..")
}

// Stat resolves userPath and stats it. Missing paths surface as
// os.ErrNotExist, violations as ErrPathEscapesRoot.
func (s *Sandbox) Stat(userPath string) (string, os.FileInfo, error) {
	abs, err := s.Resolve(userPath)
	if err != nil {
		return "", nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", nil, err
	}
	return abs, info, nil
}

// ListDir returns the entries of a directory under the root, directories
// first, each group sorted by name.
func (s *Sandbox) ListDir(userPath string) ([]Entry, error) {
	abs, info, err := s.Stat(userPath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", userPath)
	}
	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		fi, err := de.Info()
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(s.root, filepath.Join(abs, de.Name()))
		if err != nil {
			continue
		}
		e := Entry{
			Name:         de.Name(),
			RelativePath: filepath.ToSlash(rel),
			IsDir:        de.IsDir(),
		}
		if !de.IsDir() {
			e.Size = fi.Size()
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// ServeFile writes the file at userPath to w. Violations get 403, missing
// or non-regular paths get 404.
func (s *Sandbox) ServeFile(w http.ResponseWriter, r *http.Request, userPath string) {
	abs, info, err := s.Stat(userPath)
	if errors.Is(err, ErrPathEscapesRoot) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if err != nil || !info.Mode().IsRegular() {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, abs)
}
