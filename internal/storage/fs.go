package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/relister/internal/apperr"
)

// FS is a Provider over a local directory. Files are created 0600 since the
// session artifact carries live marketplace cookies.
type FS struct {
	root string
}

var _ Provider = (*FS)(nil)

// NewFS opens dir as a storage root, creating it when missing.
func NewFS(dir string) (*FS, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	if info, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", root)
	}
	return &FS{root: root}, nil
}

func (f *FS) Root() string { return f.root }

// resolve maps a root-relative name to an absolute path inside the root.
func (f *FS) resolve(name string) (string, error) {
	if name == "" || filepath.IsAbs(name) {
		return "", fmt.Errorf("storage: invalid path %q", name)
	}
	abs := filepath.Join(f.root, filepath.Clean(name))
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage: path escapes root: %s", name)
	}
	return abs, nil
}

// Read wraps apperr.ErrNotFound when the file is absent.
func (f *FS) Read(name string) ([]byte, error) {
	abs, err := f.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("storage: read %s: %w", name, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", name, err)
	}
	return data, nil
}

// Write stages content in a sibling temp file and renames it over name, so
// readers see either the old or the new content.
func (f *FS) Write(name string, content []byte) error {
	abs, err := f.resolve(name)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".relister-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	if err := commit(tmp, content, abs); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("storage: write %s: %w", name, err)
	}
	return nil
}

func commit(tmp *os.File, content []byte, dst string) error {
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func (f *FS) Delete(name string) error {
	abs, err := f.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: delete %s: %w", name, err)
	}
	return nil
}

// Exists reports whether name is a regular file.
func (f *FS) Exists(name string) bool {
	abs, err := f.resolve(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && info.Mode().IsRegular()
}
