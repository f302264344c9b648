// Package reconcile compares requested catalog records against the files
// actually present in an output directory.
package reconcile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/starford/perthro/internal/models"
	"github.com/starford/perthro/internal/storage"
)

// DisplayLimit is how many missing filenames DisplayMissing shows.
const DisplayLimit = 10

// Report is the outcome of one reconciliation pass.
type Report struct {
	Statuses         []models.RecoveryStatus `json:"statuses"`
	RecoveredCount   int                     `json:"recovered_count"`
	TotalRequested   int                     `json:"total_requested"`
	MissingCount     int                     `json:"missing_count"`
	MissingFilenames []string                `json:"missing_filenames"`
}

// DisplayMissing returns the missing filenames for display, truncated
// after DisplayLimit entries. MissingFilenames always holds the full list.
func (r *Report) DisplayMissing() string {
	if len(r.MissingFilenames) <= DisplayLimit {
		return strings.Join(r.MissingFilenames, ", ")
	}
	shown := strings.Join(r.MissingFilenames[:DisplayLimit], ", ")
	return fmt.Sprintf("%s ... (and %d more)", shown, len(r.MissingFilenames)-DisplayLimit)
}

// Reconcile lists dir once and reports, for every record in order, whether
// a file with its filename is present. A directory that does not exist
// yields an all-missing report.
func Reconcile(dir string, records []models.CatalogRecord) (*Report, error) {
	present, err := snapshot(dir)
	if err != nil {
		return nil, err
	}
	return build(present, records), nil
}

func snapshot(dir string) (map[string]bool, error) {
	present := make(map[string]bool)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return present, nil
	}
	store, err := storage.NewFS(dir)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	entries, err := store.List("")
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	for _, e := range entries {
		present[e.Name] = true
	}
	return present, nil
}

func build(present map[string]bool, records []models.CatalogRecord) *Report {
	r := &Report{
		Statuses:         make([]models.RecoveryStatus, len(records)),
		TotalRequested:   len(records),
		MissingFilenames: []string{},
	}
	for i, rec := range records {
		ok := rec.Filename != "" && present[rec.Filename]
		r.Statuses[i] = models.RecoveryStatus{Record: rec, Recovered: ok}
		if ok {
			r.RecoveredCount++
			continue
		}
		r.MissingFilenames = append(r.MissingFilenames, rec.Filename)
	}
	r.MissingCount = r.TotalRequested - r.RecoveredCount
	return r
}
