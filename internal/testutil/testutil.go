// Package testutil provides shared test helpers that build synthetic
// backup containers and photo catalogs.
package testutil

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"howett.net/plist"

	"github.com/starford/perthro/internal/address"
	"github.com/starford/perthro/internal/storage"
)

// File is one file placed into a synthetic backup.
type File struct {
	Domain       string
	RelativePath string
	// StorageID overrides the name the file is stored under. Defaults to
	// the content address of Domain + RelativePath.
	StorageID string
	Content   []byte
	// Flat stores the file at the container root instead of the fan-out dir.
	Flat bool
	// NoManifestRow keeps the file out of Manifest.db.
	NoManifestRow bool
	// NoData registers the file in Manifest.db without writing its bytes.
	NoData bool
}

// ID returns the storage ID the file is written under.
func (f File) ID(t *testing.T) string {
	t.Helper()
	if f.StorageID != "" {
		return f.StorageID
	}
	a, err := address.Address(f.Domain, f.RelativePath)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

// Backup describes a synthetic container.
type Backup struct {
	// Manifest selects the manifest-based layout (Manifest.db present).
	Manifest  bool
	Encrypted bool
	// NoDescriptor omits Manifest.plist.
	NoDescriptor bool
	Device       map[string]string
	Files        []File
}

// NewBackup writes b into a temporary directory and returns its path.
func NewBackup(t *testing.T, b Backup) string {
	t.Helper()
	root := t.TempDir()

	if !b.NoDescriptor {
		desc := map[string]any{
			"Version": "10.0",
			"Date":    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
			"Lockdown": map[string]any{
				"DeviceName":     "Test iPhone",
				"ProductVersion": "17.4",
			},
		}
		if b.Encrypted {
			desc["IsEncrypted"] = true
		}
		WritePlist(t, filepath.Join(root, "Manifest.plist"), desc)
	}
	if b.Device != nil {
		info := make(map[string]any, len(b.Device))
		for k, v := range b.Device {
			info[k] = v
		}
		WritePlist(t, filepath.Join(root, "Info.plist"), info)
	}

	var db *sql.DB
	if b.Manifest {
		var err error
		db, err = sql.Open("sqlite3", filepath.Join(root, "Manifest.db"))
		if err != nil {
			t.Fatal(err)
		}
		defer db.Close()
		if _, err := db.Exec(`CREATE TABLE Files (
			fileID TEXT PRIMARY KEY,
			domain TEXT,
			relativePath TEXT,
			flags INTEGER,
			file BLOB
		)`); err != nil {
			t.Fatal(err)
		}
	}

	for _, f := range b.Files {
		id := f.ID(t)
		if db != nil && !f.NoManifestRow {
			if _, err := db.Exec(`INSERT INTO Files (fileID, domain, relativePath, flags) VALUES (?, ?, ?, 1)`,
				id, f.Domain, f.RelativePath); err != nil {
				t.Fatal(err)
			}
		}
		if f.NoData {
			continue
		}
		dir := root
		if b.Manifest && !f.Flat && len(id) > 2 {
			dir = filepath.Join(root, id[:2])
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, id), f.Content, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

// AddDirectoryRow inserts a directory row (flags = 2) into Manifest.db.
func AddDirectoryRow(t *testing.T, root, fileID, domain, relativePath string) {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(root, "Manifest.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec(`INSERT INTO Files (fileID, domain, relativePath, flags) VALUES (?, ?, ?, 2)`,
		fileID, domain, relativePath); err != nil {
		t.Fatal(err)
	}
}

// WritePlist encodes v as an XML property list at path.
func WritePlist(t *testing.T, path string, v any) {
	t.Helper()
	data, err := plist.Marshal(v, plist.XMLFormat)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

// TestOutput creates a temporary output directory with a storage provider.
func TestOutput(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	out, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, out
}
