package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/starford/perthro/internal/address"
	"github.com/starford/perthro/internal/apperr"
	"github.com/starford/perthro/internal/extract"
	"github.com/starford/perthro/internal/ledger"
	"github.com/starford/perthro/internal/pipeline"
)

// Service coordinates the ledger and the pipeline for the API layer.
// Runs started through it execute in the background until Close.
type Service struct {
	ledger   ledger.Ledger
	pipeline *pipeline.Service
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a new API service.
func NewService(l ledger.Ledger, p *pipeline.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{ledger: l, pipeline: p, logger: logger, ctx: ctx, cancel: cancel}
}

// Close cancels running pipelines and waits for them to record their outcome.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until every background run has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// StartRun records a run and executes it in the background.
func (s *Service) StartRun(req pipeline.Request) (ledger.RunRow, error) {
	run, err := s.pipeline.Start(req)
	if err != nil {
		return ledger.RunRow{}, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.pipeline.Execute(s.ctx, run, req); err != nil {
			s.logger.Warn("background run ended with error",
				slog.String("run", run.ID), slog.String("error", err.Error()))
		}
	}()
	return run, nil
}

// ListRuns returns runs newest first.
func (s *Service) ListRuns(limit, offset int) ([]ledger.RunRow, int, error) {
	runs, total, err := s.ledger.ListRuns(limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if runs == nil {
		runs = []ledger.RunRow{}
	}
	return runs, total, nil
}

// GetRun returns one run.
func (s *Service) GetRun(id string) (*ledger.RunRow, error) {
	return s.ledger.GetRun(id)
}

// RunDetail collects everything recorded for a run.
func (s *Service) RunDetail(id string) (*RunDetail, error) {
	run, err := s.ledger.GetRun(id)
	if err != nil {
		return nil, err
	}
	d := &RunDetail{Run: *run, Totals: map[string]extract.Totals{}}
	if d.Artifacts, err = s.ledger.Results(id, ledger.StageArtifacts); err != nil {
		return nil, err
	}
	if d.Photos, err = s.ledger.Results(id, ledger.StagePhotos); err != nil {
		return nil, err
	}
	if d.Recovery, err = s.ledger.Recovery(id); err != nil {
		return nil, err
	}
	if d.Tables, err = s.ledger.Tables(id); err != nil {
		return nil, err
	}
	d.Totals[string(ledger.StageArtifacts)] = extract.Summary(d.Artifacts)
	if len(d.Photos) > 0 {
		d.Totals[string(ledger.StagePhotos)] = extract.Summary(d.Photos)
	}
	return d, nil
}

// Reconcile re-checks the photo directory of a run.
func (s *Service) Reconcile(ctx context.Context, id string) (*ReconcileResponse, error) {
	r, err := s.pipeline.Reconcile(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ReconcileResponse{
		RecoveredCount:   r.RecoveredCount,
		TotalRequested:   r.TotalRequested,
		MissingCount:     r.MissingCount,
		MissingFilenames: r.MissingFilenames,
		Detail:           pipeline.Describe(r),
	}, nil
}

// Archive packs the output of a run.
func (s *Service) Archive(ctx context.Context, id string) (*ArchiveResponse, error) {
	path, d, err := s.pipeline.Archive(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ArchiveResponse{Path: path, Checksum: d, URL: "/api/runs/" + id + "/archive"}, nil
}

// ArchivePath returns the archive of a run if it was created.
func (s *Service) ArchivePath(id string) (string, error) {
	run, err := s.ledger.GetRun(id)
	if err != nil {
		return "", err
	}
	if run.OutputDir == "" {
		return "", fmt.Errorf("api: run %s has no output: %w", id, apperr.ErrNotFound)
	}
	return run.OutputDir + ".zip", nil
}

// AddRecoveredPhoto stores a photo recovered by other means in the photo
// directory of a run.
func (s *Service) AddRecoveredPhoto(id, filename string, r io.Reader) (int64, error) {
	return s.pipeline.AddRecoveredPhoto(id, filename, r)
}

// Address computes the content address of a logical path.
func (s *Service) Address(domain, relativePath string) (*AddressResponse, error) {
	if domain == "" || relativePath == "" {
		return nil, fmt.Errorf("%w: domain and path are required", pipeline.ErrInvalidRequest)
	}
	id, err := address.Address(domain, relativePath)
	if err != nil {
		return nil, err
	}
	return &AddressResponse{Domain: domain, RelativePath: relativePath, FileID: id}, nil
}
