package ledger

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/starford/perthro/internal/apperr"
	"github.com/starford/perthro/internal/models"
)

// Run statuses.
const (
	StatusRunning          = "running"
	StatusCompleted        = "completed"
	StatusExtractionFailed = "extraction_failed"
	StatusFailed           = "failed"
)

// RunRow represents a row in the runs table.
type RunRow struct {
	ID         string            `json:"id"`
	Container  string            `json:"container"`
	Layout     string            `json:"layout"`
	Label      string            `json:"label,omitempty"`
	OutputDir  string            `json:"output_dir"`
	Device     models.DeviceInfo `json:"device"`
	Status     string            `json:"status"`
	Detail     string            `json:"detail,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// CreateRun inserts r with status running. An empty ID is replaced by a
// fresh UUID.
func (db *DB) CreateRun(r RunRow) (RunRow, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Status = StatusRunning
	r.CreatedAt = time.Now().UTC()
	r.FinishedAt = nil

	device, _ := json.Marshal(r.Device)
	_, err := db.conn.Exec(`
		INSERT INTO runs (id, container, layout, label, output_dir, device, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Container, r.Layout, r.Label, r.OutputDir, string(device), r.Status, r.CreatedAt)
	if err != nil {
		return RunRow{}, fmt.Errorf("ledger: create run: %w", err)
	}
	return r, nil
}

// SetOutput updates the output directory and device description of a run.
func (db *DB) SetOutput(id, outputDir, layout string, device models.DeviceInfo) error {
	data, _ := json.Marshal(device)
	res, err := db.conn.Exec(`UPDATE runs SET output_dir = ?, layout = ?, device = ? WHERE id = ?`,
		outputDir, layout, string(data), id)
	if err != nil {
		return fmt.Errorf("ledger: set output: %w", err)
	}
	return mustAffect(res, id)
}

// FinishRun stores the final status of a run.
func (db *DB) FinishRun(id, status, detail string) error {
	res, err := db.conn.Exec(`UPDATE runs SET status = ?, detail = ?, finished_at = ? WHERE id = ?`,
		status, detail, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("ledger: finish run: %w", err)
	}
	return mustAffect(res, id)
}

const runColumns = `id, container, layout, label, output_dir, device, status, detail, created_at, finished_at`

// GetRun returns a run by ID.
func (db *DB) GetRun(id string) (*RunRow, error) {
	row := db.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger: run %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get run: %w", err)
	}
	return r, nil
}

// ListRuns returns runs newest first, and the total count.
func (db *DB) ListRuns(limit, offset int) ([]RunRow, int, error) {
	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ledger: count runs: %w", err)
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.Query(`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ledger: list runs: %w", err)
	}
	defer rows.Close()

	out := []RunRow{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ledger: scan run: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ledger: list runs: %w", err)
	}
	return out, total, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*RunRow, error) {
	var (
		r        RunRow
		device   string
		finished sql.NullTime
	)
	if err := s.Scan(&r.ID, &r.Container, &r.Layout, &r.Label, &r.OutputDir, &device,
		&r.Status, &r.Detail, &r.CreatedAt, &finished); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(device), &r.Device)
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}

func mustAffect(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("ledger: run %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}
