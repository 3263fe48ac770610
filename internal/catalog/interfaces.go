package catalog

import (
	"context"
	"io"
	"time"
)

// StatusStore tracks import task progress. Update applies the mutator atomically per task id.
type StatusStore interface {
	Create(ctx context.Context, taskID string) (Task, error)
	Get(ctx context.Context, taskID string) (Task, error)
	Update(ctx context.Context, taskID string, mutate func(*Task) error) (Task, error)
}

// ProductStore persists products. Upsert is atomic per normalized SKU and reports whether the
// row was created. Failures are returned as *StorageError.
type ProductStore interface {
	Upsert(ctx context.Context, write ProductWrite) (Product, bool, error)
	Get(ctx context.Context, sku string) (Product, error)
	Delete(ctx context.Context, sku string) (Product, error)
	Count(ctx context.Context) (int, error)
}

// WebhookRegistry stores subscriber endpoints.
type WebhookRegistry interface {
	Create(ctx context.Context, url string, eventTypes []EventType) (Webhook, error)
	List(ctx context.Context) ([]Webhook, error)
	Get(ctx context.Context, id int64) (Webhook, error)
	ListActive(ctx context.Context, eventType EventType) ([]Webhook, error)
	SetActive(ctx context.Context, id int64, active bool) (Webhook, error)
	Delete(ctx context.Context, id int64) error
}

// UploadStore holds uploaded files until an import worker has read them.
type UploadStore interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
	Open(ctx context.Context, handle string) (io.ReadCloser, error)
	Remove(ctx context.Context, handle string) error
}

// EventPublisher raises domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// ImportQueue hands import jobs from the submitter to the worker pool.
type ImportQueue interface {
	Enqueue(ctx context.Context, job ImportJob) error
	Dequeue(ctx context.Context) (ImportJob, error)
}
