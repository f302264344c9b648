package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/starford/perthro/internal/apperr"
)

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to the output directory
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Create makes root (and parents) and returns a provider for it. Failures
// are environment faults and wrap apperr.ErrIO.
func Create(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir %s: %w: %w", root, apperr.ErrIO, err)
	}
	return NewFS(root)
}

// Root returns the absolute root directory.
func (f *FS) Root() string { return f.root }

// safePath resolves a relative path against the root and rejects
// any result that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	joined := filepath.Join(f.root, cleaned)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: path escapes output root: %s", rel)
	}
	return abs, nil
}

// Path returns the absolute location of a relative path.
func (f *FS) Path(rel string) (string, error) {
	return f.safePath(rel)
}

// List returns the regular files directly under dir, sorted by name.
// Temporary files left by in-flight writes are skipped.
func (f *FS) List(dir string) ([]Entry, error) {
	base, err := f.safePath(dir)
	if err != nil {
		return nil, err
	}
	des, err := os.ReadDir(base)
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	out := make([]Entry, 0, len(des))
	for _, d := range des {
		if d.IsDir() || strings.HasPrefix(d.Name(), tmpPrefix) {
			continue
		}
		info, err := d.Info()
		if err != nil {
			// Entry vanished or is unreadable; it is simply not present.
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		out = append(out, Entry{Name: d.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Read returns the raw bytes of a file.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// Exists reports whether a regular file exists at path.
func (f *FS) Exists(path string) bool {
	abs, err := f.safePath(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && info.Mode().IsRegular()
}

// Write atomically writes content: tmp file → fsync → rename.
func (f *FS) Write(path string, content []byte) error {
	_, err := f.WriteFrom(path, bytes.NewReader(content))
	return err
}

const tmpPrefix = ".perthro-tmp-"

// WriteFrom atomically streams r into path: tmp file → fsync → rename.
// A failure reading r is returned as *SourceError; any failure on the
// destination side wraps apperr.ErrIO.
func (f *FS) WriteFrom(path string, r io.Reader) (int64, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return 0, err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, ioErr("mkdir", err)
	}

	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return 0, ioErr("create temp", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	src := &trackingReader{r: r}
	n, err := io.Copy(tmp, src)
	if err != nil {
		if src.err != nil {
			return n, &SourceError{Err: src.err}
		}
		return n, ioErr("write temp", err)
	}
	if err := tmp.Sync(); err != nil {
		return n, ioErr("fsync", err)
	}
	if err := tmp.Close(); err != nil {
		return n, ioErr("close temp", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return n, ioErr("rename", err)
	}
	success = true
	return n, nil
}

// Delete removes a file.
func (f *FS) Delete(path string) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: delete %s: %w", path, err)
	}
	return nil
}

// SourceError reports that the data being written could not be read.
// It is a per-item fault, not an environment fault.
type SourceError struct {
	Err error
}

func (e *SourceError) Error() string { return "storage: read source: " + e.Err.Error() }

func (e *SourceError) Unwrap() error { return e.Err }

// IsSourceError reports whether err came from the source side of a write.
func IsSourceError(err error) bool {
	var se *SourceError
	return errors.As(err, &se)
}

func ioErr(op string, err error) error {
	return fmt.Errorf("storage: %s: %w: %w", op, apperr.ErrIO, err)
}

type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}
