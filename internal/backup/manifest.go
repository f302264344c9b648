package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/perthro/internal/address"
	"github.com/starford/perthro/internal/apperr"
	"github.com/starford/perthro/internal/models"
	"github.com/starford/perthro/internal/sqlitero"
)

// Manifest.db file flags.
const (
	FlagFile      = 1
	FlagDirectory = 2
	FlagSymlink   = 4
)

// ManifestEntry is one file row of the manifest database.
type ManifestEntry struct {
	StorageID    string `json:"storage_id"`
	Domain       string `json:"domain"`
	RelativePath string `json:"relative_path"`
	Flags        int    `json:"flags"`
}

// manifestIndex maps content addresses to manifest entries. Exact fileID
// matches take precedence over addresses computed from domain + path.
type manifestIndex struct {
	byFileID  map[string]ManifestEntry
	byAddress map[string]ManifestEntry
}

func (idx *manifestIndex) lookup(addr string) (ManifestEntry, bool) {
	if e, ok := idx.byFileID[addr]; ok {
		return e, true
	}
	e, ok := idx.byAddress[addr]
	return e, ok
}

func (idx *manifestIndex) len() int { return len(idx.byFileID) }

const filesQuery = `SELECT fileID, domain, relativePath, flags FROM Files`

// loadManifestIndex scans the Files table once.
func loadManifestIndex(ctx context.Context, path string) (*manifestIndex, error) {
	db, err := sqlitero.Open(path)
	if err != nil {
		return nil, fmt.Errorf("backup: open manifest: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, filesQuery)
	if err != nil {
		return nil, fmt.Errorf("backup: scan manifest: %w", err)
	}
	defer rows.Close()

	idx := &manifestIndex{
		byFileID:  make(map[string]ManifestEntry),
		byAddress: make(map[string]ManifestEntry),
	}
	for rows.Next() {
		var (
			e      ManifestEntry
			domain sql.NullString
			rel    sql.NullString
			flags  sql.NullInt64
		)
		if err := rows.Scan(&e.StorageID, &domain, &rel, &flags); err != nil {
			return nil, fmt.Errorf("backup: scan manifest row: %w", err)
		}
		e.Domain, e.RelativePath, e.Flags = domain.String, rel.String, int(flags.Int64)
		if e.Flags == FlagDirectory {
			continue
		}
		idx.byFileID[e.StorageID] = e
		if e.Domain == "" {
			continue
		}
		if a, err := address.Address(e.Domain, e.RelativePath); err == nil && a != e.StorageID {
			idx.byAddress[a] = e
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("backup: scan manifest: %w", err)
	}
	return idx, nil
}

const queryByIdentity = `
SELECT fileID FROM Files
WHERE (fileID = ? OR (domain = ? AND relativePath = ?))
  AND (flags IS NULL OR flags != 2)
ORDER BY CASE WHEN fileID = ? THEN 0 ELSE 1 END
LIMIT 1`

// queryManifest looks id up directly in the manifest database.
func queryManifest(ctx context.Context, path string, id models.Identity) (string, error) {
	addr, err := id.Address()
	if err != nil {
		return "", fmt.Errorf("backup: query manifest: %w", err)
	}
	db, err := sqlitero.Open(path)
	if err != nil {
		return "", fmt.Errorf("backup: open manifest: %w", err)
	}
	defer db.Close()

	var storageID string
	err = db.QueryRowContext(ctx, queryByIdentity, addr, id.Domain, id.RelativePath, addr).Scan(&storageID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("backup: query manifest %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("backup: query manifest: %w", err)
	}
	return storageID, nil
}
