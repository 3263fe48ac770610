package importer

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/storage/memory"
)

func TestSubmitQueuesPendingTask(t *testing.T) {
	t.Parallel()

	status := memory.NewStatusStore(nil)
	uploads := newFakeUploads()
	queue := &captureQueue{}
	sub := NewSubmitter(status, uploads, queue, &sequentialIDs{}, nil)

	task, err := sub.Submit(context.Background(), "dir/products.CSV", strings.NewReader("sku,name\na,A\n"))
	require.NoError(t, err)
	require.Equal(t, "task-1", task.ID)
	require.Equal(t, catalog.TaskStatusPending, task.Status)
	require.Equal(t, "Task queued", task.Message)

	require.Len(t, queue.jobs, 1)
	require.Equal(t, "task-1", queue.jobs[0].TaskID)
	require.Equal(t, "products.CSV", queue.jobs[0].Filename)
	rc, err := uploads.Open(context.Background(), queue.jobs[0].Upload)
	require.NoError(t, err)
	_ = rc.Close()
}

func TestSubmitRejectsNonCSV(t *testing.T) {
	t.Parallel()

	uploads := newFakeUploads()
	sub := NewSubmitter(memory.NewStatusStore(nil), uploads, &captureQueue{}, &sequentialIDs{}, nil)

	_, err := sub.Submit(context.Background(), "products.xlsx", strings.NewReader("x"))
	require.ErrorIs(t, err, ErrNotCSV)
	require.ErrorIs(t, err, catalog.ErrInvalidInput)
	require.Empty(t, uploads.files)
}

func TestSubmitEnqueueFailureMarksTaskFailed(t *testing.T) {
	t.Parallel()

	status := memory.NewStatusStore(nil)
	uploads := newFakeUploads()
	sub := NewSubmitter(status, uploads, failingQueue{}, &sequentialIDs{}, nil)

	_, err := sub.Submit(context.Background(), "p.csv", strings.NewReader("sku,name\n"))
	require.ErrorIs(t, err, ErrQueueUnavailable)

	task, err := status.Get(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, catalog.TaskStatusFailed, task.Status)
	require.Equal(t, "import queue unavailable", task.Message)
	require.Len(t, uploads.removed, 1)
	require.Empty(t, uploads.files)
}

func TestStageCreatesTaskWithoutQueueing(t *testing.T) {
	t.Parallel()

	status := memory.NewStatusStore(nil)
	uploads := newFakeUploads()
	queue := &captureQueue{}
	sub := NewSubmitter(status, uploads, queue, &sequentialIDs{}, nil)

	task, job, err := sub.Stage(context.Background(), "p.csv", strings.NewReader("sku,name\n"))
	require.NoError(t, err)
	require.Equal(t, task.ID, job.TaskID)
	require.Empty(t, queue.jobs)
	require.Len(t, uploads.files, 1)

	stored, err := status.Get(context.Background(), task.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.TaskStatusPending, stored.Status)
}

func TestIsCSV(t *testing.T) {
	t.Parallel()

	require.True(t, IsCSV("a.csv"))
	require.True(t, IsCSV("A.CSV"))
	require.False(t, IsCSV("a.csv.gz"))
	require.False(t, IsCSV("csv"))
}
