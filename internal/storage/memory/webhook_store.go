package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/clock/system"
)

// WebhookStore is an in-memory webhook registry enforcing (url, event type) uniqueness.
type WebhookStore struct {
	mu       sync.RWMutex
	webhooks map[int64]catalog.Webhook
	nextID   int64
	clock    catalog.Clock
}

// NewWebhookStore constructs a WebhookStore. A nil clock uses wall time.
func NewWebhookStore(clock catalog.Clock) *WebhookStore {
	if clock == nil {
		clock = system.New()
	}
	return &WebhookStore{
		webhooks: make(map[int64]catalog.Webhook),
		clock:    clock,
	}
}

// Create registers a webhook subscribed to the given event types.
func (s *WebhookStore) Create(_ context.Context, url string, eventTypes []catalog.EventType) (catalog.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.webhooks {
		if existing.URL != url {
			continue
		}
		for _, et := range eventTypes {
			if existing.Subscribes(et) {
				return catalog.Webhook{}, catalog.ErrDuplicateSubscription
			}
		}
	}
	s.nextID++
	wh := catalog.Webhook{
		ID:         s.nextID,
		URL:        url,
		EventTypes: append([]catalog.EventType(nil), eventTypes...),
		Active:     true,
		CreatedAt:  s.clock.Now(),
	}
	s.webhooks[wh.ID] = wh
	return cloneWebhook(wh), nil
}

// List returns all webhooks ordered by id.
func (s *WebhookStore) List(context.Context) ([]catalog.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.Webhook, 0, len(s.webhooks))
	for _, wh := range s.webhooks {
		out = append(out, cloneWebhook(wh))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns one webhook or catalog.ErrNotFound.
func (s *WebhookStore) Get(_ context.Context, id int64) (catalog.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wh, ok := s.webhooks[id]
	if !ok {
		return catalog.Webhook{}, catalog.ErrNotFound
	}
	return cloneWebhook(wh), nil
}

// ListActive returns active webhooks subscribed to eventType.
func (s *WebhookStore) ListActive(ctx context.Context, eventType catalog.EventType) ([]catalog.Webhook, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, wh := range all {
		if wh.Active && wh.Subscribes(eventType) {
			out = append(out, wh)
		}
	}
	return out, nil
}

// SetActive toggles the webhook's active flag.
func (s *WebhookStore) SetActive(_ context.Context, id int64, active bool) (catalog.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wh, ok := s.webhooks[id]
	if !ok {
		return catalog.Webhook{}, catalog.ErrNotFound
	}
	wh.Active = active
	s.webhooks[id] = wh
	return cloneWebhook(wh), nil
}

// Delete removes a webhook.
func (s *WebhookStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.webhooks[id]; !ok {
		return catalog.ErrNotFound
	}
	delete(s.webhooks, id)
	return nil
}

func cloneWebhook(wh catalog.Webhook) catalog.Webhook {
	wh.EventTypes = append([]catalog.EventType(nil), wh.EventTypes...)
	return wh
}
