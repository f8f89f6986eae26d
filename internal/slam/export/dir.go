// Package export writes the products of a mapping session: the map as ASC,
// PCD and per-tile files, the trajectory and keyframe constraints as CSV and
// GeoJSON, the session summary, and PNG/HTML diagnostics.
package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/lidarmap/internal/monitoring"
)

// ErrUnsafePath is returned when an output name would resolve outside the
// export directory.
var ErrUnsafePath = errors.New("unsafe export path")

// Dir is an output directory. Every file it creates is confined to it.
type Dir struct {
	root string
}

// NewDir creates root if needed and returns a Dir anchored at its canonical
// absolute path.
func NewDir(root string) (*Dir, error) {
	if root == "" {
		return nil, fmt.Errorf("empty export directory")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export dir: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve export dir: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve export dir symlinks: %w", err)
	}
	return &Dir{root: canonical}, nil
}

// Root returns the canonical directory path.
func (d *Dir) Root() string { return d.root }

// Path returns the absolute path for name, which may contain forward-slash
// separated subdirectories. Each element is sanitised and the result must
// stay inside the directory after symlink resolution.
func (d *Dir) Path(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrUnsafePath)
	}
	parts := strings.Split(filepath.ToSlash(name), "/")
	clean := make([]string, 0, len(parts)+1)
	clean = append(clean, d.root)
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
		}
		clean = append(clean, SanitizeFilename(p))
	}
	path := filepath.Join(clean...)
	if err := withinDir(path, d.root); err != nil {
		monitoring.Logf("export: rejected path %s: %v", name, err)
		return "", err
	}
	return path, nil
}

// Create opens name for writing, creating parent directories.
func (d *Dir) Create(name string) (*os.File, error) {
	path, err := d.Path(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create dir for %s: %w", name, err)
	}
	return os.Create(path)
}

// save creates name and hands it to write, closing it afterwards.
func (d *Dir) save(name string, write func(f *os.File) error) (string, error) {
	f, err := d.Create(name)
	if err != nil {
		return "", err
	}
	if err := write(f); err != nil {
		f.Close()
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", name, err)
	}
	return f.Name(), nil
}

// withinDir reports ErrUnsafePath if path, after resolving symlinks on its
// longest existing prefix, is not inside dir.
func withinDir(path, dir string) error {
	canonical := path
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		canonical = resolved
	} else {
		check := path
		for {
			parent := filepath.Dir(check)
			if parent == check {
				break
			}
			if resolved, err := filepath.EvalSymlinks(parent); err == nil {
				rel, _ := filepath.Rel(parent, path)
				canonical = filepath.Join(resolved, rel)
				break
			}
			check = parent
		}
	}
	rel, err := filepath.Rel(dir, canonical)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafePath, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s escapes %s", ErrUnsafePath, path, dir)
	}
	return nil
}

// SanitizeFilename makes a safe filename from an arbitrary string. Anything
// other than ASCII letters, digits, dot, underscore or dash becomes an
// underscore; runs of underscores collapse and the result is capped at 128
// bytes.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
