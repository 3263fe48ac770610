// Package worker implements the import job consumption loop.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/metrics"
)

// Processor runs one import job to a terminal state.
type Processor interface {
	Import(ctx context.Context, job catalog.ImportJob) error
}

// Worker consumes queue items and hands each to the processor.
type Worker struct {
	id        int
	queue     catalog.ImportQueue
	processor Processor
	logger    *zap.Logger
}

// New constructs a Worker.
func New(id int, queue catalog.ImportQueue, processor Processor, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:        id,
		queue:     queue,
		processor: processor,
		logger:    logger.Named("worker").With(zap.Int("worker_id", id)),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes. A job that
// has started is finished even if ctx is canceled meanwhile.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, catalog.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued import", zap.String("task_id", job.TaskID))
		w.process(context.WithoutCancel(ctx), job)
	}
}

func (w *Worker) process(ctx context.Context, job catalog.ImportJob) {
	if w.processor == nil {
		w.logger.Error("no processor configured", zap.String("task_id", job.TaskID))
		return
	}
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("import panicked", zap.String("task_id", job.TaskID), zap.Any("panic", r))
		}
	}()
	if err := w.processor.Import(ctx, job); err != nil && !errors.Is(err, catalog.ErrAlreadyClaimed) {
		w.logger.Error("import failed", zap.String("task_id", job.TaskID), zap.Error(err))
	}
}
