package storage

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"
)

// FS keeps files under one directory. Every access is made through an
// os.Root opened on that directory, so no name, symlinks included, can
// resolve outside it.
type FS struct {
	dir string
}

// NewFS returns an FS over dir, creating the directory when missing.
func NewFS(dir string) (*FS, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", abs, err)
	}
	f := &FS{dir: abs}
	r, err := f.open()
	if err != nil {
		return nil, err
	}
	_ = r.Close()
	return f, nil
}

// Dir returns the absolute directory the FS is rooted at.
func (f *FS) Dir() string { return f.dir }

func (f *FS) open() (*os.Root, error) {
	r, err := os.OpenRoot(f.dir)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", f.dir, err)
	}
	return r, nil
}

// checkName accepts slash-separated relative names only.
func checkName(name string) error {
	if !filepath.IsLocal(filepath.FromSlash(name)) {
		return fmt.Errorf("storage: name %q is not local to the payload directory", name)
	}
	return nil
}

// Store replaces the file at name with data, creating parent directories.
// Readers see either the old or the new content, never a partial write.
func (f *FS) Store(name string, data []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	r, err := f.open()
	if err != nil {
		return err
	}
	defer r.Close()

	parent := path.Dir(name)
	if parent != "." {
		if err := r.MkdirAll(parent, 0o755); err != nil {
			return fmt.Errorf("storage: store %s: %w", name, err)
		}
	}
	tmp := path.Join(parent, ".clipshelf-"+uuid.NewString())
	if err := writeSynced(r, tmp, data); err != nil {
		_ = r.Remove(tmp)
		return fmt.Errorf("storage: store %s: %w", name, err)
	}
	if err := r.Rename(tmp, name); err != nil {
		_ = r.Remove(tmp)
		return fmt.Errorf("storage: store %s: %w", name, err)
	}
	return nil
}

func writeSynced(r *os.Root, name string, data []byte) error {
	fh, err := r.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := fh.Write(data); err != nil {
		fh.Close()
		return err
	}
	if err := fh.Sync(); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}

// Load returns the content of the file at name.
func (f *FS) Load(name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	r, err := f.open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := r.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("storage: load %s: %w", name, err)
	}
	return data, nil
}

// Put stores the payload of clip id.
func (f *FS) Put(id int64, data []byte) error { return f.Store(ClipPath(id), data) }

// Get returns the payload of clip id.
func (f *FS) Get(id int64) ([]byte, error) { return f.Load(ClipPath(id)) }

// Remove deletes the payload of clip id.
func (f *FS) Remove(id int64) error {
	r, err := f.open()
	if err != nil {
		return err
	}
	defer r.Close()
	if err := r.Remove(ClipPath(id)); err != nil {
		return fmt.Errorf("storage: remove clip %d: %w", id, err)
	}
	return nil
}

// Purge deletes every clip payload, including temp files of writes in flight.
// Files stored outside ClipsDir are kept.
func (f *FS) Purge() error {
	r, err := f.open()
	if err != nil {
		return err
	}
	defer r.Close()
	if err := r.RemoveAll(ClipsDir); err != nil {
		return fmt.Errorf("storage: purge: %w", err)
	}
	return nil
}
