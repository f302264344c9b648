// Package archive packs a run's output directory into a single evidence
// archive and digests it.
package archive

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/starford/perthro/internal/apperr"
	"github.com/starford/perthro/internal/checksum"
)

// Create writes a deflate zip of every regular file under dir to dest and
// returns the digests of the archive. dest may live inside dir; it is
// never added to itself. The archive is written to a temporary file and
// renamed into place.
func Create(dir, dest string) (checksum.Digests, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return checksum.Digests{}, fmt.Errorf("archive: resolve dir: %w", err)
	}
	absDest, err := filepath.Abs(dest)
	if err != nil {
		return checksum.Digests{}, fmt.Errorf("archive: resolve dest: %w", err)
	}
	if info, err := os.Stat(absDir); err != nil || !info.IsDir() {
		return checksum.Digests{}, fmt.Errorf("archive: %s: %w", dir, apperr.ErrNotFound)
	}

	tmp, err := os.CreateTemp(filepath.Dir(absDest), ".perthro-tmp-*.zip")
	if err != nil {
		return checksum.Digests{}, fmt.Errorf("archive: create temp: %w: %w", apperr.ErrIO, err)
	}
	tmpName := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	zw := zip.NewWriter(tmp)
	err = filepath.WalkDir(absDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || p == absDest || p == tmpName || strings.HasPrefix(d.Name(), ".perthro-tmp-") {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(absDir, p)
		if err != nil {
			return err
		}
		return addFile(zw, p, filepath.ToSlash(rel))
	})
	if err != nil {
		return checksum.Digests{}, fmt.Errorf("archive: walk: %w", err)
	}
	if err := zw.Close(); err != nil {
		return checksum.Digests{}, fmt.Errorf("archive: finish zip: %w: %w", apperr.ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		return checksum.Digests{}, fmt.Errorf("archive: fsync: %w: %w", apperr.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return checksum.Digests{}, fmt.Errorf("archive: close: %w: %w", apperr.ErrIO, err)
	}
	if err := os.Rename(tmpName, absDest); err != nil {
		return checksum.Digests{}, fmt.Errorf("archive: rename: %w: %w", apperr.ErrIO, err)
	}
	success = true

	return checksum.File(absDest)
}

func addFile(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// List returns the names of the files stored in the archive at path.
func List(path string) ([]string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	defer zr.Close()

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names, nil
}
