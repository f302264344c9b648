package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/perthro/internal/models"
)

// debounce is how long the directory must stay quiet before a new pass.
const debounce = 200 * time.Millisecond

// Callback receives every report produced by Watch.
type Callback func(*Report)

// Watch reconciles records against dir once, then again after each burst
// of file system changes in dir, until ctx is cancelled.
func Watch(ctx context.Context, dir string, records []models.CatalogRecord, logger *slog.Logger, cb Callback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}
	logger.Info("reconcile: watching", slog.String("dir", dir))

	pass := func() {
		report, err := Reconcile(dir, records)
		if err != nil {
			logger.Warn("reconcile: pass failed", slog.String("error", err.Error()))
			return
		}
		logger.Debug("reconcile: pass",
			slog.Int("recovered", report.RecoveredCount),
			slog.Int("missing", report.MissingCount))
		if cb != nil {
			cb(report)
		}
	}
	pass()

	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("reconcile: watch stopped")
			return nil

		case <-timerCh:
			pass()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("reconcile: watch error", slog.String("error", watchErr.Error()))
		}
	}
}
