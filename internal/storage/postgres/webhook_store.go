package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

const webhookSelect = `
SELECT w.id, w.url, w.is_active, w.created_at,
	COALESCE(array_agg(e.event_type ORDER BY e.event_type) FILTER (WHERE e.event_type IS NOT NULL), '{}')
FROM webhooks w
LEFT JOIN webhook_events e ON e.webhook_id = w.id`

// WebhookStore persists webhook subscriptions. Each (url, event type) pair is a row in
// webhook_events so the database enforces uniqueness.
type WebhookStore struct {
	pool Pool
}

// NewWebhookStore constructs a store from an existing pool.
func NewWebhookStore(pool Pool) (*WebhookStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &WebhookStore{pool: pool}, nil
}

// Create inserts the webhook and its event subscriptions in one transaction.
func (s *WebhookStore) Create(
	ctx context.Context,
	url string,
	eventTypes []catalog.EventType,
) (_ catalog.Webhook, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return catalog.Webhook{}, storageError("begin webhook create", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	wh := catalog.Webhook{URL: url, Active: true}
	err = tx.QueryRow(ctx,
		`INSERT INTO webhooks (url, is_active, created_at) VALUES ($1, TRUE, NOW()) RETURNING id, created_at`,
		url,
	).Scan(&wh.ID, &wh.CreatedAt)
	if err != nil {
		return catalog.Webhook{}, storageError("insert webhook", err)
	}
	for _, et := range eventTypes {
		_, err = tx.Exec(ctx,
			`INSERT INTO webhook_events (webhook_id, url, event_type) VALUES ($1, $2, $3)`,
			wh.ID, url, string(et),
		)
		if isUniqueViolation(err) {
			return catalog.Webhook{}, catalog.ErrDuplicateSubscription
		}
		if err != nil {
			return catalog.Webhook{}, storageError("insert webhook event", err)
		}
		wh.EventTypes = append(wh.EventTypes, et)
	}
	if err := tx.Commit(ctx); err != nil {
		return catalog.Webhook{}, storageError("commit webhook create", err)
	}
	return wh, nil
}

// List returns every webhook ordered by id.
func (s *WebhookStore) List(ctx context.Context) ([]catalog.Webhook, error) {
	return s.query(ctx, "list webhooks", webhookSelect+` GROUP BY w.id ORDER BY w.id`)
}

// ListActive returns active webhooks subscribed to eventType.
func (s *WebhookStore) ListActive(ctx context.Context, eventType catalog.EventType) ([]catalog.Webhook, error) {
	return s.query(ctx, "list active webhooks", webhookSelect+`
WHERE w.is_active AND EXISTS (
	SELECT 1 FROM webhook_events f WHERE f.webhook_id = w.id AND f.event_type = $1
)
GROUP BY w.id ORDER BY w.id`, string(eventType))
}

// Get loads one webhook.
func (s *WebhookStore) Get(ctx context.Context, id int64) (catalog.Webhook, error) {
	row := s.pool.QueryRow(ctx, webhookSelect+` WHERE w.id = $1 GROUP BY w.id`, id)
	wh, err := scanWebhook(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Webhook{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Webhook{}, storageError("get webhook", err)
	}
	return wh, nil
}

// SetActive flips the active flag and returns the updated webhook.
func (s *WebhookStore) SetActive(ctx context.Context, id int64, active bool) (catalog.Webhook, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE webhooks SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return catalog.Webhook{}, storageError("toggle webhook", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.Webhook{}, catalog.ErrNotFound
	}
	return s.Get(ctx, id)
}

// Delete removes a webhook and its subscriptions.
func (s *WebhookStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return storageError("delete webhook", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (s *WebhookStore) query(ctx context.Context, op, sql string, args ...any) ([]catalog.Webhook, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, storageError(op, err)
	}
	defer rows.Close()

	out := []catalog.Webhook{}
	for rows.Next() {
		wh, err := scanWebhook(rows)
		if err != nil {
			return nil, storageError(op, err)
		}
		out = append(out, wh)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(op, err)
	}
	return out, nil
}

func scanWebhook(row pgx.Row) (catalog.Webhook, error) {
	var (
		wh     catalog.Webhook
		events []string
	)
	if err := row.Scan(&wh.ID, &wh.URL, &wh.Active, &wh.CreatedAt, &events); err != nil {
		return catalog.Webhook{}, err
	}
	wh.EventTypes = make([]catalog.EventType, 0, len(events))
	for _, et := range events {
		wh.EventTypes = append(wh.EventTypes, catalog.EventType(et))
	}
	return wh, nil
}
