package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/perthro/internal/apperr"
)

// ErrMissingEntry is returned by a Reader when the container holds no
// file under the requested storage ID.
var ErrMissingEntry = errors.New("backup: missing entry")

// Reader opens stored files by their storage ID. Implementations that
// decrypt encrypted containers plug in here; they must return
// ErrMissingEntry (possibly wrapped) for absent files so callers can tell
// "not in this backup" from any other failure.
type Reader interface {
	Open(ctx context.Context, storageID string) (io.ReadCloser, error)
}

// FSReader reads an unencrypted container straight from disk.
type FSReader struct {
	root      string
	encrypted bool
}

// NewFSReader returns a reader for the container at root.
func NewFSReader(root string, encrypted bool) *FSReader {
	return &FSReader{root: root, encrypted: encrypted}
}

// Open returns the stored file, looking in the flat layout first and then
// in the two-character fan-out directory.
func (r *FSReader) Open(ctx context.Context, storageID string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.encrypted {
		return nil, fmt.Errorf("backup: open %s: %w", storageID, apperr.ErrEncrypted)
	}
	p := storagePath(r.root, storageID)
	if p == "" {
		return nil, fmt.Errorf("backup: open %s: %w", storageID, ErrMissingEntry)
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("backup: open %s: %w", storageID, ErrMissingEntry)
		}
		return nil, fmt.Errorf("backup: open %s: %w", storageID, err)
	}
	return f, nil
}

// storagePath returns the on-disk location of storageID, or "" when no
// regular file exists under either layout.
func storagePath(root, storageID string) string {
	if !validStorageID(storageID) {
		return ""
	}
	candidates := []string{filepath.Join(root, storageID)}
	if len(storageID) > 2 {
		candidates = append(candidates, filepath.Join(root, storageID[:2], storageID))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.Mode().IsRegular() {
			return c
		}
	}
	return ""
}

// defaultStoragePath is where a modern container keeps storageID.
func defaultStoragePath(root, storageID string) string {
	if len(storageID) > 2 {
		return filepath.Join(root, storageID[:2], storageID)
	}
	return filepath.Join(root, storageID)
}

func validStorageID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}
