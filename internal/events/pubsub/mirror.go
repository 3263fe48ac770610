// Package pubsub mirrors domain events onto a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/events"
)

// Mirror is an events.Handler that republishes every event on a topic. Publish results are
// awaited off the caller's goroutine.
type Mirror struct {
	topic  *pubsub.Topic
	logger *zap.Logger

	// propagator overrides the global otel propagator when set.
	propagator propagation.TextMapPropagator
}

// New creates a Mirror for the provided topic.
func New(topic *pubsub.Topic, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{topic: topic, logger: logger.Named("pubsub_mirror")}
}

// Handle encodes the event and publishes it with an event_type attribute plus the trace context
// carried by ctx.
func (m *Mirror) Handle(ctx context.Context, event catalog.Event) error {
	if m.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := events.Encode(event)
	if err != nil {
		return err
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"event_type": string(event.Type)},
	}
	m.textMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	result := m.topic.Publish(ctx, msg)
	go func() {
		id, err := result.Get(context.WithoutCancel(ctx))
		if err != nil {
			m.logger.Warn("pubsub publish failed", zap.String("event_type", string(event.Type)), zap.Error(err))
			return
		}
		m.logger.Debug("event mirrored", zap.String("event_type", string(event.Type)), zap.String("message_id", id))
	}()
	return nil
}

// Close flushes pending messages.
func (m *Mirror) Close() {
	if m.topic != nil {
		m.topic.Stop()
	}
}

func (m *Mirror) textMapPropagator() propagation.TextMapPropagator {
	if m.propagator != nil {
		return m.propagator
	}
	return otel.GetTextMapPropagator()
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
