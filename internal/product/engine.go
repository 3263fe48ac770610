// Package product implements the create-or-update engine shared by the importer and the API.
package product

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/clock/system"
)

// Field limits enforced before any write.
const (
	MaxSKULength         = 100
	MaxNameLength        = 255
	MaxDescriptionLength = 5000
)

// PublishPolicy controls whether an upsert raises product.created / product.updated.
type PublishPolicy int

const (
	// PublishEvents raises a domain event after the write commits.
	PublishEvents PublishPolicy = iota
	// SuppressEvents skips per-row events, used by bulk imports.
	SuppressEvents
)

// UpsertInput is one create-or-update request. Nil optional fields mean "not supplied".
type UpsertInput struct {
	SKU         string
	Name        string
	Description *string
	Price       *float64
	Stock       *int
	Active      *bool
}

// ValidationError describes one invalid field. It matches catalog.ErrInvalidInput.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Reason
}

// Unwrap lets errors.Is(err, catalog.ErrInvalidInput) succeed.
func (e *ValidationError) Unwrap() error {
	return catalog.ErrInvalidInput
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks required fields and limits after trimming.
func (in UpsertInput) Validate() error {
	sku := strings.TrimSpace(in.SKU)
	name := strings.TrimSpace(in.Name)
	switch {
	case sku == "":
		return invalid("sku", "is required")
	case name == "":
		return invalid("name", "is required")
	case utf8.RuneCountInString(sku) > MaxSKULength:
		return invalid("sku", "exceeds %d characters", MaxSKULength)
	case utf8.RuneCountInString(name) > MaxNameLength:
		return invalid("name", "exceeds %d characters", MaxNameLength)
	}
	if in.Description != nil && utf8.RuneCountInString(*in.Description) > MaxDescriptionLength {
		return invalid("description", "exceeds %d characters", MaxDescriptionLength)
	}
	if in.Price != nil && (*in.Price < 0 || math.IsNaN(*in.Price) || math.IsInf(*in.Price, 0)) {
		return invalid("price", "must be a non-negative number")
	}
	if in.Stock != nil && *in.Stock < 0 {
		return invalid("stock", "must be a non-negative integer")
	}
	return nil
}

// Engine performs idempotent product writes keyed by normalized SKU.
type Engine struct {
	store  catalog.ProductStore
	events catalog.EventPublisher
	clock  catalog.Clock
	logger *zap.Logger
}

// NewEngine wires an Engine. events may be nil when nothing listens.
func NewEngine(store catalog.ProductStore, events catalog.EventPublisher, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:  store,
		events: events,
		clock:  system.New(),
		logger: logger.Named("product"),
	}
}

// Upsert validates the input, writes it and, unless suppressed, publishes the matching event.
// Storage failures come back as *catalog.StorageError.
func (e *Engine) Upsert(ctx context.Context, in UpsertInput, policy PublishPolicy) (catalog.Product, bool, error) {
	if err := in.Validate(); err != nil {
		return catalog.Product{}, false, err
	}
	write := catalog.ProductWrite{
		SKU:         catalog.NormalizeSKU(in.SKU),
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Price:       in.Price,
		Stock:       in.Stock,
		Active:      in.Active,
	}
	p, created, err := e.store.Upsert(ctx, write)
	if err != nil {
		return catalog.Product{}, false, err
	}
	if policy == PublishEvents {
		eventType := catalog.EventProductUpdated
		if created {
			eventType = catalog.EventProductCreated
		}
		data := Payload(p)
		data["changed_fields"] = write.ChangedFields()
		e.publish(ctx, eventType, data)
	}
	return p, created, nil
}

// Get loads a product by SKU.
func (e *Engine) Get(ctx context.Context, sku string) (catalog.Product, error) {
	return e.store.Get(ctx, sku)
}

// Delete removes a product and publishes product.deleted.
func (e *Engine) Delete(ctx context.Context, sku string) (catalog.Product, error) {
	p, err := e.store.Delete(ctx, sku)
	if err != nil {
		return catalog.Product{}, err
	}
	e.publish(ctx, catalog.EventProductDeleted, map[string]any{"id": p.ID, "sku": p.SKU})
	return p, nil
}

func (e *Engine) publish(ctx context.Context, eventType catalog.EventType, data map[string]any) {
	if e.events == nil {
		return
	}
	e.events.Publish(ctx, catalog.Event{Type: eventType, Timestamp: e.clock.Now(), Data: data})
	e.logger.Debug("product event published", zap.String("event_type", string(eventType)))
}

// Payload renders a product as webhook event data.
func Payload(p catalog.Product) map[string]any {
	return map[string]any{
		"id":          p.ID,
		"sku":         p.SKU,
		"name":        p.Name,
		"description": p.Description,
		"price":       p.Price,
		"stock":       p.Stock,
		"active":      p.Active,
		"created_at":  p.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":  p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
