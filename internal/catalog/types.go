// Package catalog defines the core types shared across the import pipeline and webhook subsystems.
package catalog

import (
	"strings"
	"time"
)

// TaskStatus represents the lifecycle state of an import task.
type TaskStatus string

// Task status values persisted in the status store.
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task is the progress record for one asynchronous import.
type Task struct {
	ID             string     `json:"task_id"`
	Status         TaskStatus `json:"status"`
	Progress       int        `json:"progress"`
	Message        string     `json:"message"`
	ProcessedCount int        `json:"processed_count"`
	TotalCount     int        `json:"total_count"`
	Errors         []string   `json:"errors"`
	Created        time.Time  `json:"created_at"`
	Updated        time.Time  `json:"updated_at"`
}

// NewTask returns a pending task with zero progress.
func NewTask(id string, now time.Time) Task {
	return Task{
		ID:      id,
		Status:  TaskStatusPending,
		Message: "Task queued",
		Errors:  []string{},
		Created: now,
		Updated: now,
	}
}

// IsTerminal reports whether the task has reached completed or failed.
func (t Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// IsTerminal reports whether the status is completed or failed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Clone returns a deep copy so readers never share the errors slice with writers.
func (t Task) Clone() Task {
	cp := t
	cp.Errors = append([]string(nil), t.Errors...)
	if cp.Errors == nil {
		cp.Errors = []string{}
	}
	return cp
}

// Product is a catalog entry keyed by its normalized SKU.
type Product struct {
	ID          int64     `json:"id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	Price       *float64  `json:"price,omitempty"`
	Stock       *int      `json:"stock,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProductWrite carries the fields of one create-or-update. Nil optional fields are left unchanged
// on update and take their defaults on create.
type ProductWrite struct {
	SKU         string
	Name        string
	Description *string
	Price       *float64
	Stock       *int
	Active      *bool
}

// ChangedFields lists the product fields this write sets.
func (w ProductWrite) ChangedFields() []string {
	fields := []string{"name"}
	if w.Description != nil {
		fields = append(fields, "description")
	}
	if w.Price != nil {
		fields = append(fields, "price")
	}
	if w.Stock != nil {
		fields = append(fields, "stock")
	}
	if w.Active != nil {
		fields = append(fields, "active")
	}
	return fields
}

// NormalizeSKU reduces a SKU to its canonical lowercase form.
func NormalizeSKU(sku string) string {
	return strings.ToLower(strings.TrimSpace(sku))
}

// Webhook is a registered subscriber endpoint.
type Webhook struct {
	ID         int64       `json:"id"`
	URL        string      `json:"url"`
	EventTypes []EventType `json:"event_types"`
	Active     bool        `json:"is_active"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Subscribes reports whether the webhook wants events of the given type.
func (w Webhook) Subscribes(eventType EventType) bool {
	for _, et := range w.EventTypes {
		if et == eventType {
			return true
		}
	}
	return false
}

// EventType tags a domain event.
type EventType string

// Domain events raised by the catalog.
const (
	EventProductCreated      EventType = "product.created"
	EventProductUpdated      EventType = "product.updated"
	EventProductDeleted      EventType = "product.deleted"
	EventBulkImportCompleted EventType = "bulk_import.completed"
)

// EventTypes lists every event type a webhook may subscribe to.
var EventTypes = []EventType{
	EventProductCreated,
	EventProductUpdated,
	EventProductDeleted,
	EventBulkImportCompleted,
}

// Valid reports whether the event type is known.
func (e EventType) Valid() bool {
	for _, et := range EventTypes {
		if et == e {
			return true
		}
	}
	return false
}

// Event is one domain event occurrence.
type Event struct {
	Type      EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// DeliveryAttempt records the outcome of one outbound webhook call. It is never persisted.
type DeliveryAttempt struct {
	EventType  EventType
	WebhookID  int64
	URL        string
	Attempt    int
	StatusCode int
	Err        error
	Duration   time.Duration
}

// Succeeded reports whether the attempt got a 2xx response.
func (a DeliveryAttempt) Succeeded() bool {
	return a.Err == nil && a.StatusCode >= 200 && a.StatusCode < 300
}

// ImportJob is the unit of work handed to an import worker.
type ImportJob struct {
	TaskID    string
	Upload    string
	Filename  string
	Submitted time.Time
}
