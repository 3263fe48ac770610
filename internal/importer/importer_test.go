package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/product"
	"github.com/JakeFAU/catalog-ingest/internal/storage/memory"
)

type harness struct {
	status   *recordingStatus
	uploads  *fakeUploads
	products *memory.ProductStore
	events   *recordingPublisher
	engine   *product.Engine
}

func newHarness() *harness {
	h := &harness{
		status:   &recordingStatus{StatusStore: memory.NewStatusStore(nil)},
		uploads:  newFakeUploads(),
		products: memory.NewProductStore(nil),
		events:   &recordingPublisher{},
	}
	h.engine = product.NewEngine(h.products, h.events, nil)
	return h
}

func (h *harness) importer(cfg Config, engine Upserter) *Importer {
	if engine == nil {
		engine = h.engine
	}
	return New(h.status, h.uploads, engine, h.events, cfg, nil)
}

// run stores content as an upload, creates its task and imports it.
func (h *harness) run(t *testing.T, im *Importer, content string) (catalog.Task, catalog.ImportJob) {
	t.Helper()
	ctx := context.Background()
	handle := h.uploads.put(content)
	job := catalog.ImportJob{TaskID: "task-" + handle, Upload: handle}
	_, err := h.status.Create(ctx, job.TaskID)
	require.NoError(t, err)
	require.NoError(t, im.Import(ctx, job))
	task, err := h.status.Get(ctx, job.TaskID)
	require.NoError(t, err)
	return task, job
}

func (h *harness) productCount(t *testing.T) int {
	t.Helper()
	n, err := h.products.Count(context.Background())
	require.NoError(t, err)
	return n
}

func csvRows(n int) string {
	var b strings.Builder
	b.WriteString("sku,name,price,stock\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "SKU-%d,Product %d,%d.50,%d\n", i, i, i, i)
	}
	return b.String()
}

func TestImportWellFormedFile(t *testing.T) {
	t.Parallel()

	h := newHarness()
	task, job := h.run(t, h.importer(Config{ProgressEvery: 2}, nil), csvRows(5))

	require.Equal(t, catalog.TaskStatusCompleted, task.Status)
	require.Equal(t, 100, task.Progress)
	require.Equal(t, 5, task.ProcessedCount)
	require.Equal(t, 5, task.TotalCount)
	require.Empty(t, task.Errors)
	require.Equal(t, "Imported 5 of 5 rows (5 created, 0 updated, 0 errors)", task.Message)
	require.Equal(t, 5, h.productCount(t))
	require.True(t, h.uploads.wasRemoved(job.Upload))

	completed := h.events.ofType(catalog.EventBulkImportCompleted)
	require.Len(t, completed, 1)
	require.Equal(t, job.TaskID, completed[0].Data["task_id"])
	require.Equal(t, false, completed[0].Data["has_errors"])
	require.Equal(t, 5, completed[0].Data["created_count"])
	require.Empty(t, h.events.ofType(catalog.EventProductCreated), "row events are off by default")
}

func TestImportRecordsRowErrorAndContinues(t *testing.T) {
	t.Parallel()

	h := newHarness()
	content := "sku,name\nA-1,First\nA-2,Second\nA-3,\nA-4,Fourth\n"
	task, _ := h.run(t, h.importer(Config{}, nil), content)

	require.Equal(t, catalog.TaskStatusCompleted, task.Status)
	require.Equal(t, []string{"row 3: name is required"}, task.Errors)
	require.Equal(t, 4, task.ProcessedCount)
	require.Equal(t, 3, h.productCount(t))

	completed := h.events.ofType(catalog.EventBulkImportCompleted)
	require.Len(t, completed, 1)
	require.Equal(t, true, completed[0].Data["has_errors"])
	require.Equal(t, 1, completed[0].Data["error_count"])
}

func TestImportAllRowsInvalidFails(t *testing.T) {
	t.Parallel()

	h := newHarness()
	content := "sku,name,price\n,no sku,1\nB-2,,2\nB-3,bad price,abc\n"
	task, _ := h.run(t, h.importer(Config{}, nil), content)

	require.Equal(t, catalog.TaskStatusFailed, task.Status)
	require.Equal(t, 3, task.ProcessedCount)
	require.Equal(t, "Import failed: no rows were imported (3 errors)", task.Message)
	require.Len(t, task.Errors, 3)
	require.Contains(t, task.Errors[2], `row 3: price "abc" is not a number`)
	require.Zero(t, h.productCount(t))
	require.Len(t, h.events.ofType(catalog.EventBulkImportCompleted), 1)
}

func TestImportCaseInsensitiveSKUUpdates(t *testing.T) {
	t.Parallel()

	h := newHarness()
	content := "SKU,Name,Active\nSKU-1,Original,true\nsku-1,Replacement,false\n"
	task, _ := h.run(t, h.importer(Config{}, nil), content)

	require.Equal(t, catalog.TaskStatusCompleted, task.Status)
	require.Equal(t, "Imported 2 of 2 rows (1 created, 1 updated, 0 errors)", task.Message)
	require.Equal(t, 1, h.productCount(t))
	p, err := h.products.Get(context.Background(), "SKU-1")
	require.NoError(t, err)
	require.Equal(t, "Replacement", p.Name)
	require.False(t, p.Active)
}

func TestImportFatalFileConditions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		content string
		message string
	}{
		{name: "missing name column", content: "sku,title\nA,B\n", message: "missing required column(s): name"},
		{name: "missing both columns", content: "id,title\n1,B\n", message: "missing required column(s): sku, name"},
		{name: "header only with wrong columns", content: "foo,bar\n", message: "missing required column(s): sku, name"},
		{name: "header only", content: "sku,name\n", message: "CSV file is empty"},
		{name: "zero bytes", content: "", message: "CSV file is empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness()
			task, job := h.run(t, h.importer(Config{}, nil), tc.content)
			require.Equal(t, catalog.TaskStatusFailed, task.Status)
			require.Equal(t, tc.message, task.Message)
			require.Zero(t, task.ProcessedCount)
			require.True(t, h.uploads.wasRemoved(job.Upload))
			require.Len(t, h.events.ofType(catalog.EventBulkImportCompleted), 1)
		})
	}
}

func TestImportHeaderIsCaseInsensitiveWithBOM(t *testing.T) {
	t.Parallel()

	h := newHarness()
	content := "\ufeff SKU , NAME ,Extra\nx-1,Thing,ignored\n"
	task, _ := h.run(t, h.importer(Config{}, nil), content)
	require.Equal(t, catalog.TaskStatusCompleted, task.Status)
	require.Equal(t, 1, h.productCount(t))
}

func TestImportMalformedRowIsRowError(t *testing.T) {
	t.Parallel()

	h := newHarness()
	content := "sku,name\nok-1,Fine\nbad\"quote,Broken\nok-2,Fine too\n"
	task, _ := h.run(t, h.importer(Config{}, nil), content)

	require.Equal(t, catalog.TaskStatusCompleted, task.Status)
	require.Len(t, task.Errors, 1)
	require.True(t, strings.HasPrefix(task.Errors[0], "row 2: malformed CSV"), task.Errors[0])
	require.Equal(t, 3, task.ProcessedCount)
	require.Equal(t, 2, h.productCount(t))
}

func TestImportStorageErrors(t *testing.T) {
	t.Parallel()

	t.Run("recoverable is a row error", func(t *testing.T) {
		t.Parallel()

		h := newHarness()
		upserter := scriptedUpserter{next: h.engine, fails: map[string]error{
			"b": &catalog.StorageError{Op: "upsert product", Err: errors.New("value too long")},
		}}
		task, _ := h.run(t, h.importer(Config{}, upserter), "sku,name\na,A\nb,B\nc,C\n")
		require.Equal(t, catalog.TaskStatusCompleted, task.Status)
		require.Equal(t, []string{"row 2: upsert product: value too long"}, task.Errors)
		require.Equal(t, 2, h.productCount(t))
	})

	t.Run("unrecoverable aborts the task", func(t *testing.T) {
		t.Parallel()

		h := newHarness()
		upserter := scriptedUpserter{next: h.engine, fails: map[string]error{
			"b": &catalog.StorageError{Op: "upsert product", Err: errors.New("conn closed"), Unrecoverable: true},
		}}
		task, job := h.run(t, h.importer(Config{}, upserter), "sku,name\na,A\nb,B\nc,C\n")
		require.Equal(t, catalog.TaskStatusFailed, task.Status)
		require.Contains(t, task.Message, "Import aborted at row 2")
		require.Contains(t, task.Message, "storage unavailable")
		require.Equal(t, 2, task.ProcessedCount)
		require.Equal(t, 1, h.productCount(t))
		require.True(t, h.uploads.wasRemoved(job.Upload))
		completed := h.events.ofType(catalog.EventBulkImportCompleted)
		require.Len(t, completed, 1)
		require.Equal(t, "failed", completed[0].Data["status"])
	})
}

func TestImportCapsErrorList(t *testing.T) {
	t.Parallel()

	h := newHarness()
	content := "sku,name\n,x\n,x\n,x\n,x\n,x\ngood,Good\n"
	task, _ := h.run(t, h.importer(Config{MaxErrors: 2}, nil), content)

	require.Equal(t, catalog.TaskStatusCompleted, task.Status)
	require.Equal(t, []string{
		"row 1: sku is required",
		"row 2: sku is required",
		"... and 3 more errors",
	}, task.Errors)
	require.Equal(t, "Imported 1 of 6 rows (1 created, 0 updated, 5 errors)", task.Message)
}

func TestImportProgressIsMonotonicAndHundredOnlyWhenTerminal(t *testing.T) {
	t.Parallel()

	h := newHarness()
	_, _ = h.run(t, h.importer(Config{ProgressEvery: 1}, nil), csvRows(7))

	h.status.mu.Lock()
	defer h.status.mu.Unlock()
	require.Greater(t, len(h.status.snapshots), 7)
	last := -1
	for i, snap := range h.status.snapshots {
		require.GreaterOrEqual(t, snap.Progress, last, "snapshot %d", i)
		if snap.Progress == 100 {
			require.True(t, snap.IsTerminal(), "snapshot %d reached 100 before terminal", i)
		}
		require.LessOrEqual(t, snap.ProcessedCount, snap.TotalCount)
		last = snap.Progress
	}
	final := h.status.snapshots[len(h.status.snapshots)-1]
	require.Equal(t, catalog.TaskStatusCompleted, final.Status)
	require.Equal(t, 100, final.Progress)
}

func TestImportRowEventsPolicy(t *testing.T) {
	t.Parallel()

	h := newHarness()
	_, _ = h.run(t, h.importer(Config{RowEvents: true}, nil), "sku,name\na,A\nA,A2\n")

	require.Len(t, h.events.ofType(catalog.EventProductCreated), 1)
	require.Len(t, h.events.ofType(catalog.EventProductUpdated), 1)
	require.Len(t, h.events.ofType(catalog.EventBulkImportCompleted), 1)
}

func TestImportSkipsClaimedTask(t *testing.T) {
	t.Parallel()

	h := newHarness()
	im := h.importer(Config{}, nil)
	ctx := context.Background()

	job := catalog.ImportJob{TaskID: "owned", Upload: h.uploads.put(csvRows(1))}
	_, err := h.status.Create(ctx, job.TaskID)
	require.NoError(t, err)
	_, err = Claim(ctx, h.status, job.TaskID)
	require.NoError(t, err)

	err = im.Import(ctx, job)
	require.ErrorIs(t, err, catalog.ErrAlreadyClaimed)
	require.False(t, h.uploads.wasRemoved(job.Upload))
	require.Zero(t, h.productCount(t))
}

func TestClaimRejectsTerminalTask(t *testing.T) {
	t.Parallel()

	store := memory.NewStatusStore(nil)
	ctx := context.Background()
	_, err := store.Create(ctx, "done")
	require.NoError(t, err)
	_, err = store.Update(ctx, "done", func(task *catalog.Task) error {
		task.Status = catalog.TaskStatusFailed
		return nil
	})
	require.NoError(t, err)

	_, err = Claim(ctx, store, "done")
	require.ErrorIs(t, err, catalog.ErrAlreadyClaimed)

	_, err = Claim(ctx, store, "missing")
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestAbandonFailsPendingTaskOnly(t *testing.T) {
	t.Parallel()

	h := newHarness()
	im := h.importer(Config{}, nil)
	ctx := context.Background()

	pending := catalog.ImportJob{TaskID: "pending", Upload: h.uploads.put(csvRows(1))}
	_, err := h.status.Create(ctx, pending.TaskID)
	require.NoError(t, err)
	require.NoError(t, im.Abandon(ctx, pending, "server shutting down"))

	task, err := h.status.Get(ctx, pending.TaskID)
	require.NoError(t, err)
	require.Equal(t, catalog.TaskStatusFailed, task.Status)
	require.Equal(t, "server shutting down", task.Message)
	require.True(t, h.uploads.wasRemoved(pending.Upload))

	owned := catalog.ImportJob{TaskID: "owned", Upload: h.uploads.put(csvRows(1))}
	_, err = h.status.Create(ctx, owned.TaskID)
	require.NoError(t, err)
	_, err = Claim(ctx, h.status, owned.TaskID)
	require.NoError(t, err)
	require.NoError(t, im.Abandon(ctx, owned, "server shutting down"))

	task, err = h.status.Get(ctx, owned.TaskID)
	require.NoError(t, err)
	require.Equal(t, catalog.TaskStatusProcessing, task.Status)
	require.False(t, h.uploads.wasRemoved(owned.Upload), "the claiming worker owns the upload")
}
