package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/starford/perthro/internal/artifacts"
	"github.com/starford/perthro/internal/models"
)

// Stage names the batch a result belongs to.
type Stage string

// Stages of a run.
const (
	StageArtifacts Stage = "artifacts"
	StagePhotos    Stage = "photos"
)

// RecordResults replaces the results of one stage of a run.
func (db *DB) RecordResults(runID string, stage Stage, results []models.Result) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`DELETE FROM results WHERE run_id = ? AND stage = ?`, runID, string(stage)); err != nil {
		return fmt.Errorf("ledger: clear results: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO results (run_id, stage, position, file_id, domain, relative_path, display_name,
			outcome, strategy, reason, output_path, checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("ledger: prepare result insert: %w", err)
	}
	defer stmt.Close()
	for i, r := range results {
		id := r.Identity
		if _, err := stmt.Exec(runID, string(stage), i, id.FileID, id.Domain, id.RelativePath, id.DisplayName,
			string(r.Outcome), r.Strategy, r.Reason, r.OutputPath, r.Checksum); err != nil {
			return fmt.Errorf("ledger: insert result: %w", err)
		}
	}
	return tx.Commit()
}

// Results returns the results of one stage in batch order.
func (db *DB) Results(runID string, stage Stage) ([]models.Result, error) {
	rows, err := db.conn.Query(`
		SELECT file_id, domain, relative_path, display_name, outcome, strategy, reason, output_path, checksum
		FROM results WHERE run_id = ? AND stage = ? ORDER BY position`, runID, string(stage))
	if err != nil {
		return nil, fmt.Errorf("ledger: results: %w", err)
	}
	defer rows.Close()

	out := []models.Result{}
	for rows.Next() {
		var (
			r       models.Result
			outcome string
		)
		if err := rows.Scan(&r.Identity.FileID, &r.Identity.Domain, &r.Identity.RelativePath, &r.Identity.DisplayName,
			&outcome, &r.Strategy, &r.Reason, &r.OutputPath, &r.Checksum); err != nil {
			return nil, fmt.Errorf("ledger: scan result: %w", err)
		}
		r.Outcome = models.Outcome(outcome)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: results: %w", err)
	}
	return out, nil
}

// RecordRequested replaces the photo records requested by a run.
func (db *DB) RecordRequested(runID string, records []models.CatalogRecord) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM records WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("ledger: clear records: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO records (run_id, position, path, filename, scene, confidence, date_created, date_added)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("ledger: prepare record insert: %w", err)
	}
	defer stmt.Close()
	for i, r := range records {
		if _, err := stmt.Exec(runID, i, r.Path, r.Filename, r.SceneClassification, r.Confidence,
			nullTime(r.DateCreated), nullTime(r.DateAdded)); err != nil {
			return fmt.Errorf("ledger: insert record: %w", err)
		}
	}
	return tx.Commit()
}

// Requested returns the requested records of a run in order.
func (db *DB) Requested(runID string) ([]models.CatalogRecord, error) {
	statuses, err := db.Recovery(runID)
	if err != nil {
		return nil, err
	}
	out := make([]models.CatalogRecord, len(statuses))
	for i, s := range statuses {
		out[i] = s.Record
	}
	return out, nil
}

// RecordRecovery stores the recovery status of each requested record.
// statuses must be positionally aligned with the requested records.
func (db *DB) RecordRecovery(runID string, statuses []models.RecoveryStatus) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`UPDATE records SET recovered = ? WHERE run_id = ? AND position = ? AND filename = ?`)
	if err != nil {
		return fmt.Errorf("ledger: prepare recovery update: %w", err)
	}
	defer stmt.Close()
	for i, s := range statuses {
		if _, err := stmt.Exec(s.Recovered, runID, i, s.Record.Filename); err != nil {
			return fmt.Errorf("ledger: update recovery: %w", err)
		}
	}
	return tx.Commit()
}

// Recovery returns the requested records of a run with their last known
// recovery status. Records never reconciled count as missing.
func (db *DB) Recovery(runID string) ([]models.RecoveryStatus, error) {
	rows, err := db.conn.Query(`
		SELECT path, filename, scene, confidence, date_created, date_added, recovered
		FROM records WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("ledger: records: %w", err)
	}
	defer rows.Close()

	out := []models.RecoveryStatus{}
	for rows.Next() {
		var (
			s              models.RecoveryStatus
			created, added sql.NullTime
			recovered      sql.NullBool
		)
		if err := rows.Scan(&s.Record.Path, &s.Record.Filename, &s.Record.SceneClassification,
			&s.Record.Confidence, &created, &added, &recovered); err != nil {
			return nil, fmt.Errorf("ledger: scan record: %w", err)
		}
		if created.Valid {
			s.Record.DateCreated = created.Time.UTC()
		}
		if added.Valid {
			s.Record.DateAdded = added.Time.UTC()
		}
		s.Recovered = recovered.Bool
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: records: %w", err)
	}
	return out, nil
}

// SaveTable stores a parsed artifact table for a run.
func (db *DB) SaveTable(runID string, t *artifacts.Table) error {
	cols, _ := json.Marshal(t.Columns)
	rows, _ := json.Marshal(t.Rows)
	_, err := db.conn.Exec(`
		INSERT INTO artifact_tables (run_id, kind, title, columns, rows)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, kind, title) DO UPDATE SET
			columns = excluded.columns,
			rows    = excluded.rows
	`, runID, string(t.Kind), t.Title, string(cols), string(rows))
	if err != nil {
		return fmt.Errorf("ledger: save table: %w", err)
	}
	return nil
}

// Tables returns the parsed artifact tables of a run.
func (db *DB) Tables(runID string) ([]artifacts.Table, error) {
	rows, err := db.conn.Query(`SELECT kind, title, columns, rows FROM artifact_tables WHERE run_id = ? ORDER BY kind, title`, runID)
	if err != nil {
		return nil, fmt.Errorf("ledger: tables: %w", err)
	}
	defer rows.Close()

	out := []artifacts.Table{}
	for rows.Next() {
		var (
			t          artifacts.Table
			kind       string
			cols, data string
		)
		if err := rows.Scan(&kind, &t.Title, &cols, &data); err != nil {
			return nil, fmt.Errorf("ledger: scan table: %w", err)
		}
		t.Kind = models.ArtifactKind(kind)
		_ = json.Unmarshal([]byte(cols), &t.Columns)
		_ = json.Unmarshal([]byte(data), &t.Rows)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: tables: %w", err)
	}
	return out, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
