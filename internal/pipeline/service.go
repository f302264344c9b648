// Package pipeline runs a complete case: extract the artifact catalog from
// a backup, parse what was found, then extract and reconcile the photos
// matching a scene label. Every step is recorded in the ledger.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/starford/perthro/internal/apperr"
	"github.com/starford/perthro/internal/archive"
	"github.com/starford/perthro/internal/artifacts"
	"github.com/starford/perthro/internal/backup"
	"github.com/starford/perthro/internal/catalog"
	"github.com/starford/perthro/internal/checksum"
	"github.com/starford/perthro/internal/extract"
	"github.com/starford/perthro/internal/filter"
	"github.com/starford/perthro/internal/ledger"
	"github.com/starford/perthro/internal/models"
	"github.com/starford/perthro/internal/photos"
	"github.com/starford/perthro/internal/reconcile"
	"github.com/starford/perthro/internal/sse"
	"github.com/starford/perthro/internal/storage"
)

// Output layout below <output root>/<run ID>.
const (
	ArtifactsDir = "Artifacts"
	PhotosPrefix = "Photos_"
)

var labelRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ErrInvalidRequest reports a malformed run request.
var ErrInvalidRequest = errors.New("pipeline: invalid request")

// Request describes one run.
type Request struct {
	Container string `json:"container"`
	// Label selects the photos to extract. Empty skips the photo stage.
	Label string `json:"label,omitempty"`
	// MinConfidence overrides the service default when non-nil.
	MinConfidence *int `json:"min_confidence,omitempty"`
}

// Validate checks the request.
func (r Request) Validate() error {
	if r.Container == "" {
		return fmt.Errorf("%w: container is required", ErrInvalidRequest)
	}
	if r.Label != "" && !labelRe.MatchString(r.Label) {
		return fmt.Errorf("%w: label %q", ErrInvalidRequest, r.Label)
	}
	if r.MinConfidence != nil && (*r.MinConfidence < 0 || *r.MinConfidence > 100) {
		return fmt.Errorf("%w: min_confidence must be within 0..100", ErrInvalidRequest)
	}
	return nil
}

// Publisher receives run notifications. *sse.Broker implements it.
type Publisher interface {
	PublishRun(kind, runID string, data any)
	PublishProgress(p sse.Progress)
}

// Summary is what a finished run produced.
type Summary struct {
	Run       ledger.RunRow     `json:"run"`
	Artifacts extract.Totals    `json:"artifacts"`
	Tables    int               `json:"tables"`
	Requested int               `json:"requested"`
	Photos    *extract.Totals   `json:"photos,omitempty"`
	Recovery  *reconcile.Report `json:"recovery,omitempty"`
}

// Service runs cases against one ledger and output root.
type Service struct {
	ledger        ledger.Ledger
	outputRoot    string
	workers       int
	strategies    []extract.Strategy
	minConfidence int
	logger        *slog.Logger
	publisher     Publisher
}

// Option configures a Service.
type Option func(*Service)

// WithWorkers sets the extraction worker count.
func WithWorkers(n int) Option { return func(s *Service) { s.workers = n } }

// WithStrategies sets the extraction fallback chain.
func WithStrategies(st []extract.Strategy) Option {
	return func(s *Service) { s.strategies = st }
}

// WithMinConfidence sets the default photo confidence threshold.
func WithMinConfidence(c int) Option { return func(s *Service) { s.minConfidence = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithPublisher sets the receiver of progress notifications.
func WithPublisher(p Publisher) Option { return func(s *Service) { s.publisher = p } }

// NewService creates a new pipeline service.
func NewService(l ledger.Ledger, outputRoot string, opts ...Option) *Service {
	s := &Service{
		ledger:        l,
		outputRoot:    outputRoot,
		workers:       1,
		strategies:    extract.DefaultStrategies,
		minConfidence: filter.DefaultMinConfidence,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run starts and executes a run synchronously.
func (s *Service) Run(ctx context.Context, req Request) (*Summary, error) {
	run, err := s.Start(req)
	if err != nil {
		return nil, err
	}
	return s.Execute(ctx, run, req)
}

// Start validates req and records a new run without doing any work.
func (s *Service) Start(req Request) (ledger.RunRow, error) {
	if err := req.Validate(); err != nil {
		return ledger.RunRow{}, err
	}
	run, err := s.ledger.CreateRun(ledger.RunRow{Container: req.Container, Label: req.Label})
	if err != nil {
		return ledger.RunRow{}, err
	}
	s.publishRun("run.started", run.ID, run)
	return run, nil
}

// Execute performs a run created by Start. The run is always finished in
// the ledger, whatever the outcome.
func (s *Service) Execute(ctx context.Context, run ledger.RunRow, req Request) (*Summary, error) {
	log := s.logger.With(slog.String("run", run.ID))
	sum := &Summary{Run: run}

	status, detail, err := s.execute(ctx, log, sum, req)
	if err != nil {
		log.Error("pipeline: run failed", slog.String("error", err.Error()))
	}
	if ferr := s.ledger.FinishRun(run.ID, status, detail); ferr != nil {
		log.Error("pipeline: finish run", slog.String("error", ferr.Error()))
	}
	if r, gerr := s.ledger.GetRun(run.ID); gerr == nil {
		sum.Run = *r
	}
	s.publishRun("run.finished", sum.Run.ID, sum.Run)
	log.Info("pipeline: run finished", slog.String("status", status), slog.String("detail", detail))
	return sum, err
}

func (s *Service) execute(ctx context.Context, log *slog.Logger, sum *Summary, req Request) (string, string, error) {
	runID := sum.Run.ID

	c, err := backup.Open(req.Container, backup.WithLogger(log))
	if err != nil {
		return ledger.StatusFailed, "not a backup container", err
	}
	device, err := c.DeviceInfo()
	if err != nil {
		log.Warn("pipeline: device info unavailable", slog.String("error", err.Error()))
	}

	runDir := filepath.Join(s.outputRoot, runID)
	if err := s.ledger.SetOutput(runID, runDir, c.Layout().String(), device); err != nil {
		return ledger.StatusFailed, "ledger unavailable", err
	}
	out, err := storage.Create(filepath.Join(runDir, ArtifactsDir))
	if err != nil {
		return ledger.StatusFailed, "output directory unavailable", err
	}

	// Artifacts.
	results, err := s.engine(c, out, runID, string(ledger.StageArtifacts), log).Run(ctx, catalog.Identities())
	if rerr := s.ledger.RecordResults(runID, ledger.StageArtifacts, results); rerr != nil {
		log.Error("pipeline: record artifact results", slog.String("error", rerr.Error()))
	}
	sum.Artifacts = extract.Summary(results)
	switch {
	case errors.Is(err, apperr.ErrBatchUnreadable):
		return ledger.StatusExtractionFailed, "extraction failed: no artifact could be extracted", err
	case err != nil:
		return ledger.StatusFailed, "artifact extraction aborted", err
	}

	sum.Tables = s.parseArtifacts(ctx, log, runID, out, results)

	if req.Label == "" {
		return ledger.StatusCompleted, fmt.Sprintf("%d of %d artifacts extracted", sum.Artifacts.Extracted, sum.Artifacts.Total), nil
	}
	return s.photoStage(ctx, log, sum, c, req, results, runDir)
}

// parseArtifacts parses every extracted artifact that has a parser, saves
// the tables in the ledger and writes them next to the artifacts as CSV.
func (s *Service) parseArtifacts(ctx context.Context, log *slog.Logger, runID string, out *storage.FS, results []models.Result) int {
	n := 0
	for _, r := range results {
		if !r.OK() {
			continue
		}
		spec, ok := catalog.ByFileID(r.Identity.FileID)
		if !ok {
			continue
		}
		if _, ok := artifacts.Lookup(spec.Kind); !ok {
			continue
		}
		t, err := artifacts.Parse(ctx, spec.Kind, r.OutputPath)
		if err != nil {
			log.Warn("pipeline: parse failed", slog.String("artifact", spec.Filename), slog.String("error", err.Error()))
			continue
		}
		t.Title = spec.Label
		if err := s.ledger.SaveTable(runID, t); err != nil {
			log.Warn("pipeline: save table", slog.String("artifact", spec.Filename), slog.String("error", err.Error()))
			continue
		}
		var buf bytes.Buffer
		if err := t.WriteCSV(&buf); err == nil {
			if err := out.Write(spec.Filename+".csv", buf.Bytes()); err != nil {
				log.Warn("pipeline: write csv", slog.String("artifact", spec.Filename), slog.String("error", err.Error()))
			}
		}
		n++
	}
	return n
}

func (s *Service) photoStage(ctx context.Context, log *slog.Logger, sum *Summary, c *backup.Container, req Request, artifactResults []models.Result, runDir string) (string, string, error) {
	runID := sum.Run.ID
	library := ""
	for _, r := range artifactResults {
		if spec, ok := catalog.ByFileID(r.Identity.FileID); ok && spec.Kind == models.KindPhotos && r.OK() {
			library = r.OutputPath
		}
	}
	if library == "" {
		return ledger.StatusCompleted, "photo library not present in backup", nil
	}

	records, err := photos.Query(ctx, library)
	if err != nil {
		return ledger.StatusFailed, "photo library unreadable", err
	}
	minConf := s.minConfidence
	if req.MinConfidence != nil {
		minConf = *req.MinConfidence
	}
	wanted := filter.Filter(records, req.Label, minConf)
	sum.Requested = len(wanted)
	if err := s.ledger.RecordRequested(runID, wanted); err != nil {
		return ledger.StatusFailed, "ledger unavailable", err
	}
	if len(wanted) == 0 {
		return ledger.StatusCompleted, fmt.Sprintf("no photos classified as %s above %d%%", req.Label, minConf), nil
	}

	photoDir := filepath.Join(runDir, PhotosPrefix+req.Label)
	out, err := storage.Create(photoDir)
	if err != nil {
		return ledger.StatusFailed, "output directory unavailable", err
	}
	results, err := s.engine(c, out, runID, string(ledger.StagePhotos), log).Run(ctx, filter.Identities(wanted))
	if rerr := s.ledger.RecordResults(runID, ledger.StagePhotos, results); rerr != nil {
		log.Error("pipeline: record photo results", slog.String("error", rerr.Error()))
	}
	totals := extract.Summary(results)
	sum.Photos = &totals
	if err != nil && !errors.Is(err, apperr.ErrBatchUnreadable) {
		return ledger.StatusFailed, "photo extraction aborted", err
	}
	unreadable := err

	report, err := s.reconcile(runID, photoDir, wanted)
	if err != nil {
		return ledger.StatusFailed, "reconciliation failed", err
	}
	sum.Recovery = report
	if unreadable != nil {
		return ledger.StatusExtractionFailed, fmt.Sprintf("extraction failed: none of %d photos could be extracted", len(wanted)), unreadable
	}
	return ledger.StatusCompleted, Describe(report), nil
}

// Reconcile re-checks the photo directory of a finished run and stores the
// new recovery statuses.
func (s *Service) Reconcile(_ context.Context, runID string) (*reconcile.Report, error) {
	run, err := s.ledger.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if run.Label == "" {
		return nil, fmt.Errorf("%w: run %s has no photo stage", ErrInvalidRequest, runID)
	}
	records, err := s.ledger.Requested(runID)
	if err != nil {
		return nil, err
	}
	return s.reconcile(runID, s.PhotoDir(*run), records)
}

func (s *Service) reconcile(runID, dir string, records []models.CatalogRecord) (*reconcile.Report, error) {
	report, err := reconcile.Reconcile(dir, records)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.RecordRecovery(runID, report.Statuses); err != nil {
		return nil, err
	}
	s.publishRun("run.reconciled", runID, map[string]any{
		"id":              runID,
		"recovered_count": report.RecoveredCount,
		"missing_count":   report.MissingCount,
	})
	return report, nil
}

// AddRecoveredPhoto stores a photo recovered by other means in the photo
// directory of a run so the next reconciliation counts it. Only filenames
// the run requested are accepted.
func (s *Service) AddRecoveredPhoto(runID, filename string, r io.Reader) (int64, error) {
	if filename == "" || filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		return 0, fmt.Errorf("%w: invalid filename %q", ErrInvalidRequest, filename)
	}
	run, err := s.ledger.GetRun(runID)
	if err != nil {
		return 0, err
	}
	if run.Label == "" {
		return 0, fmt.Errorf("%w: run %s has no photo stage", ErrInvalidRequest, runID)
	}
	records, err := s.ledger.Requested(runID)
	if err != nil {
		return 0, err
	}
	if !slices.ContainsFunc(records, func(rec models.CatalogRecord) bool { return rec.Filename == filename }) {
		return 0, fmt.Errorf("pipeline: %s was not requested by run %s: %w", filename, runID, apperr.ErrNotFound)
	}
	out, err := storage.Create(s.PhotoDir(*run))
	if err != nil {
		return 0, err
	}
	n, err := out.WriteFrom(filename, r)
	if err != nil {
		return 0, err
	}
	s.logger.Info("pipeline: recovered photo added", slog.String("run", runID), slog.String("filename", filename))
	return n, nil
}

// PhotoDir returns where the photos of run are extracted.
func (s *Service) PhotoDir(run ledger.RunRow) string {
	return filepath.Join(run.OutputDir, PhotosPrefix+run.Label)
}

// Archive packs the output directory of a run into <output>/<run ID>.zip.
func (s *Service) Archive(_ context.Context, runID string) (string, checksum.Digests, error) {
	run, err := s.ledger.GetRun(runID)
	if err != nil {
		return "", checksum.Digests{}, err
	}
	if run.OutputDir == "" {
		return "", checksum.Digests{}, fmt.Errorf("pipeline: run %s has no output: %w", runID, apperr.ErrNotFound)
	}
	dest := run.OutputDir + ".zip"
	d, err := archive.Create(run.OutputDir, dest)
	if err != nil {
		return "", checksum.Digests{}, err
	}
	s.logger.Info("pipeline: archived",
		slog.String("run", runID),
		slog.String("archive", dest),
		slog.String("md5", d.MD5),
		slog.String("sha256", d.SHA256))
	return dest, d, nil
}

// Describe renders the outcome of a reconciliation for the run status.
func Describe(r *reconcile.Report) string {
	if r.MissingCount == 0 {
		return fmt.Sprintf("recovered %d of %d photos", r.RecoveredCount, r.TotalRequested)
	}
	return fmt.Sprintf("recovered %d of %d photos; %d missing: %s",
		r.RecoveredCount, r.TotalRequested, r.MissingCount, r.DisplayMissing())
}

func (s *Service) engine(c *backup.Container, out *storage.FS, runID, stage string, log *slog.Logger) *extract.Engine {
	done := 0 // progress callbacks are serialized by the engine
	return extract.New(c, out,
		extract.WithWorkers(s.workers),
		extract.WithStrategies(s.strategies...),
		extract.WithLogger(log),
		extract.WithProgress(func(ev extract.Event) {
			if s.publisher == nil {
				return
			}
			done++
			s.publisher.PublishProgress(sse.Progress{
				RunID:    runID,
				Stage:    stage,
				Done:     done,
				Total:    ev.Total,
				Filename: ev.Result.Identity.Filename(),
				Outcome:  string(ev.Result.Outcome),
			})
		}),
	)
}

func (s *Service) publishRun(kind, runID string, v any) {
	if s.publisher != nil {
		s.publisher.PublishRun(kind, runID, v)
	}
}
