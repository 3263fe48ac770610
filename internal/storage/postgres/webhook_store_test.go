package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

var webhookCols = []string{"id", "url", "is_active", "created_at", "event_types"}

func TestWebhookStoreCreateCommits(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewWebhookStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	url := "https://example.com/hook"

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO webhooks").
		WithArgs(url).
		WillReturnRows(mock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), now))
	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs(int64(1), url, "product.created").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs(int64(1), url, "bulk_import.completed").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	wh, err := store.Create(context.Background(), url, []catalog.EventType{
		catalog.EventProductCreated,
		catalog.EventBulkImportCompleted,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), wh.ID)
	require.True(t, wh.Active)
	require.Len(t, wh.EventTypes, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookStoreCreateDuplicateRollsBack(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewWebhookStore(mock)
	require.NoError(t, err)

	url := "https://example.com/hook"
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO webhooks").
		WithArgs(url).
		WillReturnRows(mock.NewRows([]string{"id", "created_at"}).AddRow(int64(2), time.Now().UTC()))
	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs(int64(2), url, "product.updated").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	_, err = store.Create(context.Background(), url, []catalog.EventType{catalog.EventProductUpdated})
	require.ErrorIs(t, err, catalog.ErrDuplicateSubscription)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookStoreListActive(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewWebhookStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("WHERE w.is_active").
		WithArgs("bulk_import.completed").
		WillReturnRows(mock.NewRows(webhookCols).
			AddRow(int64(3), "https://a.example.com", true, now, []string{"bulk_import.completed"}))

	hooks, err := store.ListActive(context.Background(), catalog.EventBulkImportCompleted)
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	require.Equal(t, []catalog.EventType{catalog.EventBulkImportCompleted}, hooks[0].EventTypes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookStoreSetActiveAndDeleteNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewWebhookStore(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE webhooks").
		WithArgs(int64(9), false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("DELETE FROM webhooks").
		WithArgs(int64(9)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	_, err = store.SetActive(context.Background(), 9, false)
	require.ErrorIs(t, err, catalog.ErrNotFound)
	require.ErrorIs(t, store.Delete(context.Background(), 9), catalog.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
