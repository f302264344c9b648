package api

import (
	"github.com/starford/perthro/internal/artifacts"
	"github.com/starford/perthro/internal/checksum"
	"github.com/starford/perthro/internal/extract"
	"github.com/starford/perthro/internal/ledger"
	"github.com/starford/perthro/internal/models"
	"github.com/starford/perthro/internal/pipeline"
)

// CreateRunRequest is the request body for starting a run.
type CreateRunRequest = pipeline.Request

// RunListResponse wraps paginated run listings.
type RunListResponse struct {
	Runs  []ledger.RunRow `json:"runs" validate:"required"`
	Total int             `json:"total" example:"42" validate:"required"`
}

// RunDetail is everything the ledger holds about one run.
type RunDetail struct {
	Run       ledger.RunRow             `json:"run"`
	Artifacts []models.Result           `json:"artifacts"`
	Photos    []models.Result           `json:"photos"`
	Totals    map[string]extract.Totals `json:"totals"`
	Recovery  []models.RecoveryStatus   `json:"recovery"`
	Tables    []artifacts.Table         `json:"tables"`
}

// AddressResponse is the content address of a logical path.
type AddressResponse struct {
	Domain       string `json:"domain" example:"CameraRollDomain" validate:"required"`
	RelativePath string `json:"relative_path" example:"Media/DCIM/100APPLE/IMG_0001.JPG" validate:"required"`
	FileID       string `json:"file_id" example:"b1f8..." validate:"required"`
}

// ReconcileResponse reports a reconciliation pass.
type ReconcileResponse struct {
	RecoveredCount   int      `json:"recovered_count"`
	TotalRequested   int      `json:"total_requested"`
	MissingCount     int      `json:"missing_count"`
	MissingFilenames []string `json:"missing_filenames"`
	Detail           string   `json:"detail"`
}

// ArchiveResponse describes a packed run.
type ArchiveResponse struct {
	Path     string           `json:"path"`
	Checksum checksum.Digests `json:"checksum"`
	URL      string           `json:"url"`
}

// UploadResponse is returned after a recovered photo is uploaded.
type UploadResponse struct {
	Filename string `json:"filename" example:"IMG_0001.JPG" validate:"required"`
	Size     int64  `json:"size" example:"12345" validate:"required"`
}
