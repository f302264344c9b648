package ledger

import (
	"github.com/starford/perthro/internal/artifacts"
	"github.com/starford/perthro/internal/models"
)

// Ledger defines the run bookkeeping operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type Ledger interface {
	CreateRun(r RunRow) (RunRow, error)
	SetOutput(id, outputDir, layout string, device models.DeviceInfo) error
	FinishRun(id, status, detail string) error
	GetRun(id string) (*RunRow, error)
	ListRuns(limit, offset int) ([]RunRow, int, error)
	RecordResults(runID string, stage Stage, results []models.Result) error
	Results(runID string, stage Stage) ([]models.Result, error)
	RecordRequested(runID string, records []models.CatalogRecord) error
	Requested(runID string) ([]models.CatalogRecord, error)
	RecordRecovery(runID string, statuses []models.RecoveryStatus) error
	Recovery(runID string) ([]models.RecoveryStatus, error)
	SaveTable(runID string, t *artifacts.Table) error
	Tables(runID string) ([]artifacts.Table, error)
	Ping() error
	Close() error
}

// Verify *DB satisfies Ledger at compile time.
var _ Ledger = (*DB)(nil)
