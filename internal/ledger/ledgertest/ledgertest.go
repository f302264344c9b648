// Package ledgertest provides a throwaway ledger for tests.
package ledgertest

import (
	"os"
	"testing"

	"github.com/starford/perthro/internal/ledger"
)

// New creates a temporary ledger database that is automatically cleaned up.
func New(t *testing.T) *ledger.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "perthro-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := ledger.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
