// Package importer runs CSV bulk imports: it streams an uploaded file, validates each row, upserts
// valid rows and keeps the task's status record current until it reaches a terminal state.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/clock/system"
	"github.com/JakeFAU/catalog-ingest/internal/metrics"
	"github.com/JakeFAU/catalog-ingest/internal/product"
)

const (
	defaultProgressEvery = 100
	defaultMaxErrors     = 100
)

// Config controls import bookkeeping.
type Config struct {
	// ProgressEvery is the number of rows between status writes.
	ProgressEvery int
	// MaxErrors caps the stored error list; the rest are summarized in one overflow entry.
	MaxErrors int
	// RowEvents publishes product.created/product.updated for every imported row.
	RowEvents bool
}

// Upserter is the product engine surface the importer needs.
type Upserter interface {
	Upsert(ctx context.Context, in product.UpsertInput, policy product.PublishPolicy) (catalog.Product, bool, error)
}

// Importer processes one ImportJob at a time. It is safe to share between workers because all
// per-import state lives on the stack of Import.
type Importer struct {
	status  catalog.StatusStore
	uploads catalog.UploadStore
	engine  Upserter
	events  catalog.EventPublisher
	cfg     Config
	clock   catalog.Clock
	logger  *zap.Logger
}

// New constructs an Importer. events may be nil.
func New(
	status catalog.StatusStore,
	uploads catalog.UploadStore,
	engine Upserter,
	events catalog.EventPublisher,
	cfg Config,
	logger *zap.Logger,
) *Importer {
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = defaultProgressEvery
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = defaultMaxErrors
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{
		status:  status,
		uploads: uploads,
		engine:  engine,
		events:  events,
		cfg:     cfg,
		clock:   system.New(),
		logger:  logger.Named("importer"),
	}
}

// Import claims the task, processes the upload and writes the terminal status. The upload is
// removed on every path once this importer owns the task. ErrAlreadyClaimed means another
// worker owns it and nothing was done.
func (im *Importer) Import(ctx context.Context, job catalog.ImportJob) error {
	logger := im.logger.With(zap.String("task_id", job.TaskID))
	if _, err := Claim(ctx, im.status, job.TaskID); err != nil {
		if errors.Is(err, catalog.ErrAlreadyClaimed) {
			logger.Warn("task already claimed, skipping")
			return err
		}
		im.removeUpload(ctx, job, logger)
		return fmt.Errorf("claim task %s: %w", job.TaskID, err)
	}
	defer im.removeUpload(ctx, job, logger)

	started := im.clock.Now()
	logger.Info("import started", zap.String("filename", job.Filename))

	r := &run{
		im:     im,
		job:    job,
		logger: logger,
		tally:  tally{maxErrors: im.cfg.MaxErrors},
	}
	fatal := r.execute(ctx)
	final, err := im.finish(ctx, job.TaskID, &r.tally, fatal)
	metrics.ObserveImport(string(final), im.clock.Now().Sub(started))
	if err != nil {
		logger.Error("final status update failed", zap.Error(err))
		return fmt.Errorf("finish task %s: %w", job.TaskID, err)
	}
	logger.Info("import finished",
		zap.String("status", string(final)),
		zap.Int("processed", r.tally.processed),
		zap.Int("created", r.tally.created),
		zap.Int("updated", r.tally.updated),
		zap.Int("errors", r.tally.errorCount()),
	)
	return nil
}

// Abandon fails a job that will never be processed and removes its upload. Tasks a worker
// already claimed are left to that worker.
func (im *Importer) Abandon(ctx context.Context, job catalog.ImportJob, reason string) error {
	logger := im.logger.With(zap.String("task_id", job.TaskID))
	_, err := im.status.Update(ctx, job.TaskID, func(task *catalog.Task) error {
		if task.Status != catalog.TaskStatusPending {
			return catalog.ErrAlreadyClaimed
		}
		task.Status = catalog.TaskStatusFailed
		task.Message = reason
		task.Errors = append(task.Errors, reason)
		return nil
	})
	switch {
	case errors.Is(err, catalog.ErrAlreadyClaimed), errors.Is(err, catalog.ErrTaskTerminal):
		return nil
	case errors.Is(err, catalog.ErrNotFound):
		im.removeUpload(ctx, job, logger)
		return nil
	case err != nil:
		im.removeUpload(ctx, job, logger)
		return fmt.Errorf("abandon task %s: %w", job.TaskID, err)
	}
	im.removeUpload(ctx, job, logger)
	metrics.ObserveImport(string(catalog.TaskStatusFailed), 0)
	logger.Warn("import abandoned", zap.String("reason", reason))
	return nil
}

// run holds the state of one import.
type run struct {
	im     *Importer
	job    catalog.ImportJob
	logger *zap.Logger
	tally  tally
	rowNum int
}

// execute streams the file and returns a non-empty reason when the import must fail as a whole.
func (r *run) execute(ctx context.Context) string {
	total, err := r.count(ctx)
	var hdrErr *headerError
	if errors.Is(err, errEmptyFile) || errors.As(err, &hdrErr) {
		return err.Error()
	}
	if err != nil {
		return fmt.Sprintf("failed to read file: %v", err)
	}
	r.tally.total = total
	r.writeProgress(ctx, "Import started")

	f, err := r.im.uploads.Open(ctx, r.job.Upload)
	if err != nil {
		return fmt.Sprintf("failed to read file: %v", err)
	}
	defer func() { _ = f.Close() }()

	cr := newReader(f)
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyFile.Error()
		}
		return fmt.Sprintf("failed to read file: %v", err)
	}
	cols, err := parseHeader(header)
	if err != nil {
		return err.Error()
	}

	policy := product.SuppressEvents
	if r.im.cfg.RowEvents {
		policy = product.PublishEvents
	}
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return ""
		}
		var parseErr *csv.ParseError
		if err != nil && !errors.As(err, &parseErr) {
			return fmt.Sprintf("failed to read file: %v", err)
		}
		r.rowNum++
		if err != nil {
			r.rowError(fmt.Sprintf("malformed CSV: %v", parseErr.Err))
		} else if reason := r.row(ctx, cols, record, policy); reason != "" {
			return reason
		}
		r.tally.processed++
		if r.tally.processed%r.im.cfg.ProgressEvery == 0 {
			r.writeProgress(ctx, "")
		}
	}
}

// row imports one record and returns a non-empty reason only for unrecoverable storage failures.
func (r *run) row(ctx context.Context, cols columns, record []string, policy product.PublishPolicy) string {
	in, err := cols.parseRecord(record)
	if err != nil {
		r.rowError(err.Error())
		return ""
	}
	_, created, err := r.im.engine.Upsert(ctx, in, policy)
	switch {
	case catalog.IsUnrecoverable(err):
		r.tally.processed++
		r.rowError(err.Error())
		return fmt.Sprintf("Import aborted at row %d: %v", r.rowNum, err)
	case err != nil:
		r.rowError(err.Error())
	case created:
		r.tally.created++
		metrics.ObserveImportRow("created")
	default:
		r.tally.updated++
		metrics.ObserveImportRow("updated")
	}
	return ""
}

func (r *run) rowError(reason string) {
	r.tally.addError(fmt.Sprintf("row %d: %s", r.rowNum, reason))
	metrics.ObserveImportRow("error")
}

func (r *run) count(ctx context.Context) (int, error) {
	f, err := r.im.uploads.Open(ctx, r.job.Upload)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	return countRows(f)
}

// writeProgress records counters and a non-terminal progress value. Failures are logged and do
// not stop the import.
func (r *run) writeProgress(ctx context.Context, message string) {
	t := &r.tally
	if t.processed > t.total {
		t.total = t.processed
	}
	if message == "" {
		message = fmt.Sprintf("Processed %d of %d rows", t.processed, t.total)
	}
	errs := t.errorList()
	pct := t.progress()
	_, err := r.im.status.Update(ctx, r.job.TaskID, func(task *catalog.Task) error {
		task.TotalCount = t.total
		task.ProcessedCount = t.processed
		task.Progress = max(task.Progress, pct)
		task.Message = message
		task.Errors = errs
		return nil
	})
	if err != nil {
		r.logger.Warn("progress update failed", zap.Error(err))
	}
}

// finish writes the terminal record and publishes bulk_import.completed.
func (im *Importer) finish(ctx context.Context, taskID string, t *tally, fatal string) (catalog.TaskStatus, error) {
	if t.processed > t.total {
		t.total = t.processed
	}
	status := catalog.TaskStatusCompleted
	message := fmt.Sprintf("Imported %d of %d rows (%d created, %d updated, %d errors)",
		t.succeeded(), t.total, t.created, t.updated, t.errorCount())
	switch {
	case fatal != "":
		status = catalog.TaskStatusFailed
		message = fatal
	case t.succeeded() == 0:
		status = catalog.TaskStatusFailed
		message = fmt.Sprintf("Import failed: no rows were imported (%d errors)", t.errorCount())
	}
	errs := t.errorList()
	if fatal != "" {
		errs = append(errs, fatal)
	}

	task, err := im.status.Update(ctx, taskID, func(task *catalog.Task) error {
		task.Status = status
		task.TotalCount = t.total
		task.ProcessedCount = t.processed
		task.Message = message
		task.Errors = errs
		if status == catalog.TaskStatusCompleted {
			task.Progress = 100
		} else {
			task.Progress = max(task.Progress, t.progress())
		}
		return nil
	})
	if err != nil {
		return status, err
	}

	if im.events != nil {
		im.events.Publish(ctx, catalog.Event{
			Type:      catalog.EventBulkImportCompleted,
			Timestamp: im.clock.Now(),
			Data: map[string]any{
				"task_id":         taskID,
				"status":          string(task.Status),
				"message":         task.Message,
				"total_count":     task.TotalCount,
				"processed_count": task.ProcessedCount,
				"created_count":   t.created,
				"updated_count":   t.updated,
				"error_count":     t.errorCount(),
				"has_errors":      t.errorCount() > 0,
			},
		})
	}
	return status, nil
}

func (im *Importer) removeUpload(ctx context.Context, job catalog.ImportJob, logger *zap.Logger) {
	if job.Upload == "" {
		return
	}
	rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := im.uploads.Remove(rmCtx, job.Upload); err != nil {
		logger.Warn("failed to remove upload", zap.String("upload", job.Upload), zap.Error(err))
	}
}

// tally counts rows and collects capped row errors.
type tally struct {
	total     int
	processed int
	created   int
	updated   int
	errs      []string
	overflow  int
	maxErrors int
}

func (t *tally) addError(msg string) {
	if len(t.errs) < t.maxErrors {
		t.errs = append(t.errs, msg)
		return
	}
	t.overflow++
}

func (t *tally) errorCount() int {
	return len(t.errs) + t.overflow
}

func (t *tally) succeeded() int {
	return t.created + t.updated
}

func (t *tally) errorList() []string {
	out := make([]string, 0, len(t.errs)+1)
	out = append(out, t.errs...)
	if t.overflow > 0 {
		out = append(out, fmt.Sprintf("... and %d more errors", t.overflow))
	}
	return out
}

// progress is floor(processed/total*100), held below 100 until the terminal write.
func (t *tally) progress() int {
	if t.total <= 0 {
		return 0
	}
	return min(t.processed*100/t.total, 99)
}
