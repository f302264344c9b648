// Package extract copies identities out of a backup container, trying an
// ordered chain of lookup strategies for each one.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/starford/perthro/internal/apperr"
	"github.com/starford/perthro/internal/backup"
	"github.com/starford/perthro/internal/checksum"
	"github.com/starford/perthro/internal/models"
	"github.com/starford/perthro/internal/storage"
)

// Failure reasons set by the engine itself.
const (
	// ReasonDuplicate marks an identity whose output filename was already
	// written by an earlier identity of the batch.
	ReasonDuplicate = "duplicate output filename"
	// ReasonInvalidName marks an identity whose output filename is not a
	// plain file name.
	ReasonInvalidName = "invalid output filename"
)

// Container is the part of backup.Container the engine uses.
type Container interface {
	Layout() backup.Layout
	BuildIndex(ctx context.Context) error
	Resolve(ctx context.Context, id models.Identity) (backup.Location, error)
	QueryManifest(ctx context.Context, id models.Identity) (string, error)
	ExtractTo(ctx context.Context, storageID string, out storage.Provider, name string) (int64, error)
}

// Event reports the outcome of one identity.
type Event struct {
	Index  int           `json:"index"`
	Total  int           `json:"total"`
	Result models.Result `json:"result"`
}

// Engine extracts batches of identities into one output directory.
type Engine struct {
	container  Container
	out        *storage.FS
	workers    int
	strategies []Strategy
	logger     *slog.Logger
	progress   func(Event)
	progressMu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets the number of identities extracted concurrently.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithStrategies restricts the fallback chain. Order is always canonical.
func WithStrategies(s ...Strategy) Option {
	return func(e *Engine) {
		var out []Strategy
		for _, d := range DefaultStrategies {
			if slices.Contains(s, d) {
				out = append(out, d)
			}
		}
		e.strategies = out
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithProgress registers a callback invoked after every identity.
// Calls are serialized.
func WithProgress(fn func(Event)) Option {
	return func(e *Engine) { e.progress = fn }
}

// New returns an engine that extracts from c into out.
func New(c Container, out *storage.FS, opts ...Option) *Engine {
	e := &Engine{
		container:  c,
		out:        out,
		workers:    1,
		strategies: slices.Clone(DefaultStrategies),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run extracts ids and returns one result per identity, in input order.
//
// An output failure (apperr.ErrIO) or cancellation stops the batch: the
// results completed so far are returned with the error. When a whole
// batch completes without a single extraction the full result list is
// returned together with apperr.ErrBatchUnreadable.
func (e *Engine) Run(ctx context.Context, ids []models.Identity) ([]models.Result, error) {
	if len(ids) == 0 {
		return []models.Result{}, nil
	}
	names := newClaims(ids)

	var (
		results []models.Result
		err     error
	)
	if e.workers <= 1 {
		results, err = e.runSerial(ctx, ids, names)
	} else {
		results, err = e.runPool(ctx, ids, names)
	}
	if err != nil {
		return results, err
	}

	s := Summary(results)
	e.logger.Info("extract: batch complete",
		slog.Int("requested", s.Total),
		slog.Int("extracted", s.Extracted),
		slog.Int("not_found", s.NotFound),
		slog.Int("failed", s.Failed))
	if s.Extracted == 0 {
		return results, fmt.Errorf("extract: none of %d identities extracted: %w", len(ids), apperr.ErrBatchUnreadable)
	}
	return results, nil
}

func (e *Engine) runSerial(ctx context.Context, ids []models.Identity, names *claims) ([]models.Result, error) {
	results := make([]models.Result, 0, len(ids))
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := e.one(ctx, id, names)
		names.finish(i)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		e.report(i, len(ids), res)
	}
	return results, nil
}

func (e *Engine) runPool(ctx context.Context, ids []models.Identity, names *claims) ([]models.Result, error) {
	// Workers must never race the lazy index build.
	if err := e.container.BuildIndex(ctx); err != nil {
		e.logger.Warn("extract: manifest index unavailable", slog.String("error", err.Error()))
	}

	results := make([]models.Result, len(ids))
	done := make([]bool, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			defer names.finish(i)
			if err := names.wait(gctx, i); err != nil {
				return err
			}
			res, err := e.one(gctx, ids[i], names)
			if err != nil {
				return err
			}
			results[i] = res
			done[i] = true
			e.report(i, len(ids), res)
			return nil
		})
	}
	err := g.Wait()

	n := 0
	for n < len(done) && done[n] {
		n++
	}
	if n < len(ids) {
		if err == nil {
			err = ctx.Err()
		}
		if err == nil {
			err = context.Canceled
		}
		return results[:n], err
	}
	return results, nil
}

// one runs the strategy chain for a single identity. Only faults that must
// stop the batch are returned as errors.
func (e *Engine) one(ctx context.Context, id models.Identity, names *claims) (models.Result, error) {
	res := models.Result{Identity: id, Outcome: models.NotFound}
	name := id.Filename()
	if !validName(name) {
		res.Outcome = models.Failed
		res.Reason = ReasonInvalidName
		e.logger.Warn("extract: invalid output filename", slog.String("identity", id.String()), slog.String("filename", name))
		return res, nil
	}
	if names.taken(name) {
		res.Outcome = models.Failed
		res.Reason = ReasonDuplicate
		e.logger.Warn("extract: duplicate output filename", slog.String("filename", name))
		return res, nil
	}
	if _, err := id.Address(); err != nil {
		res.Reason = err.Error()
		e.logger.Info("extract: unaddressable identity", slog.String("identity", id.String()), slog.String("error", err.Error()))
		return res, nil
	}

	var failure error
	for _, s := range e.strategies {
		storageID, err := e.locate(ctx, s, id)
		if err != nil {
			if errors.Is(err, errNotApplicable) || errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrEncoding) {
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			failure = err
			e.logger.Warn("extract: lookup failed",
				slog.String("strategy", string(s)),
				slog.String("identity", id.String()),
				slog.String("error", err.Error()))
			continue
		}

		_, err = e.container.ExtractTo(ctx, storageID, e.out, name)
		switch {
		case err == nil:
			names.claim(name)
			return e.extracted(res, s, name)
		case errors.Is(err, apperr.ErrIO):
			return res, fmt.Errorf("extract: %s: %w", id, err)
		case ctx.Err() != nil:
			return res, ctx.Err()
		case errors.Is(err, apperr.ErrNotFound):
			continue
		default:
			failure = err
			e.logger.Warn("extract: read failed",
				slog.String("strategy", string(s)),
				slog.String("identity", id.String()),
				slog.String("error", err.Error()))
		}
	}

	if failure != nil {
		res.Outcome = models.Failed
		res.Reason = failure.Error()
		return res, nil
	}
	e.logger.Info("extract: item not found", slog.String("identity", id.String()))
	return res, nil
}

func (e *Engine) extracted(res models.Result, s Strategy, name string) (models.Result, error) {
	p, err := e.out.Path(name)
	if err != nil {
		return res, fmt.Errorf("extract: %s: %w: %w", name, apperr.ErrIO, err)
	}
	d, err := checksum.File(p)
	if err != nil {
		return res, fmt.Errorf("extract: %s: %w: %w", name, apperr.ErrIO, err)
	}
	res.Outcome = models.Extracted
	res.Strategy = string(s)
	res.OutputPath = p
	res.Checksum = d.SHA256
	e.logger.Debug("extract: item extracted",
		slog.String("filename", name),
		slog.String("strategy", string(s)),
		slog.Int64("size", d.Size))
	return res, nil
}

func (e *Engine) report(i, total int, res models.Result) {
	if e.progress == nil {
		return
	}
	e.progressMu.Lock()
	defer e.progressMu.Unlock()
	e.progress(Event{Index: i, Total: total, Result: res})
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

// claims hands each output filename to the first identity, in batch order,
// that actually extracts into it. Identities sharing a filename are run one
// after another so the winner does not depend on worker scheduling.
type claims struct {
	mu      sync.Mutex
	claimed map[string]bool
	prev    []int
	done    []chan struct{}
}

func newClaims(ids []models.Identity) *claims {
	c := &claims{
		claimed: make(map[string]bool),
		prev:    make([]int, len(ids)),
		done:    make([]chan struct{}, len(ids)),
	}
	last := make(map[string]int, len(ids))
	for i, id := range ids {
		c.done[i] = make(chan struct{})
		name := id.Filename()
		c.prev[i] = -1
		if j, ok := last[name]; ok {
			c.prev[i] = j
		}
		last[name] = i
	}
	return c
}

// wait blocks until the previous identity with the same filename is done.
func (c *claims) wait(ctx context.Context, i int) error {
	p := c.prev[i]
	if p < 0 {
		return ctx.Err()
	}
	select {
	case <-c.done[p]:
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *claims) finish(i int) { close(c.done[i]) }

func (c *claims) taken(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claimed[name]
}

func (c *claims) claim(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claimed[name] = true
}
