package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/clock/system"
)

const defaultEnqueueTimeout = 5 * time.Second

// Submission errors returned to the HTTP layer.
var (
	ErrNotCSV           = fmt.Errorf("%w: file must be a CSV", catalog.ErrInvalidInput)
	ErrQueueUnavailable = errors.New("import queue unavailable")
)

// Submitter accepts uploads, creates their pending task and queues the import.
type Submitter struct {
	status         catalog.StatusStore
	uploads        catalog.UploadStore
	queue          catalog.ImportQueue
	ids            catalog.IDGenerator
	clock          catalog.Clock
	enqueueTimeout time.Duration
	logger         *zap.Logger
}

// NewSubmitter wires a Submitter.
func NewSubmitter(
	status catalog.StatusStore,
	uploads catalog.UploadStore,
	queue catalog.ImportQueue,
	ids catalog.IDGenerator,
	logger *zap.Logger,
) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{
		status:         status,
		uploads:        uploads,
		queue:          queue,
		ids:            ids,
		clock:          system.New(),
		enqueueTimeout: defaultEnqueueTimeout,
		logger:         logger.Named("submitter"),
	}
}

// IsCSV reports whether the filename carries a .csv extension.
func IsCSV(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".csv")
}

// Submit stores the upload and returns the pending task. The import runs asynchronously.
func (s *Submitter) Submit(ctx context.Context, filename string, r io.Reader) (catalog.Task, error) {
	task, job, err := s.Stage(ctx, filename, r)
	if err != nil {
		return catalog.Task{}, err
	}
	enqueueCtx, cancel := context.WithTimeout(ctx, s.enqueueTimeout)
	defer cancel()
	if err := s.queue.Enqueue(enqueueCtx, job); err != nil {
		s.logger.Error("enqueue import failed", zap.String("task_id", job.TaskID), zap.Error(err))
		_, uerr := s.status.Update(context.WithoutCancel(ctx), job.TaskID, func(task *catalog.Task) error {
			task.Status = catalog.TaskStatusFailed
			task.Message = ErrQueueUnavailable.Error()
			return nil
		})
		if uerr != nil {
			s.logger.Warn("mark task failed", zap.String("task_id", job.TaskID), zap.Error(uerr))
		}
		s.discard(ctx, job.Upload)
		return catalog.Task{}, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	s.logger.Info("import queued", zap.String("task_id", job.TaskID), zap.String("filename", job.Filename))
	return task, nil
}

// Stage stores the upload and creates its pending task without queueing it, for callers that
// run the import themselves.
func (s *Submitter) Stage(ctx context.Context, filename string, r io.Reader) (catalog.Task, catalog.ImportJob, error) {
	if !IsCSV(filename) {
		return catalog.Task{}, catalog.ImportJob{}, ErrNotCSV
	}
	taskID, err := s.ids.NewID()
	if err != nil {
		return catalog.Task{}, catalog.ImportJob{}, fmt.Errorf("generate task id: %w", err)
	}
	handle, err := s.uploads.Save(ctx, filename, r)
	if err != nil {
		return catalog.Task{}, catalog.ImportJob{}, fmt.Errorf("save upload: %w", err)
	}
	task, err := s.status.Create(ctx, taskID)
	if err != nil {
		s.discard(ctx, handle)
		return catalog.Task{}, catalog.ImportJob{}, fmt.Errorf("create task: %w", err)
	}
	return task, catalog.ImportJob{
		TaskID:    taskID,
		Upload:    handle,
		Filename:  filepath.Base(filename),
		Submitted: s.clock.Now(),
	}, nil
}

func (s *Submitter) discard(ctx context.Context, handle string) {
	if err := s.uploads.Remove(context.WithoutCancel(ctx), handle); err != nil {
		s.logger.Warn("failed to remove upload", zap.String("upload", handle), zap.Error(err))
	}
}
