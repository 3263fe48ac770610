package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

// Envelope is the wire form of an event sent to webhooks and mirrors.
type Envelope struct {
	EventType catalog.EventType `json:"event_type"`
	Timestamp string            `json:"timestamp"`
	Data      map[string]any    `json:"data"`
}

// Encode renders the event as a JSON envelope with an RFC 3339 UTC timestamp.
func Encode(event catalog.Event) ([]byte, error) {
	data := event.Data
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(Envelope{
		EventType: event.Type,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	return raw, nil
}
