package webhook

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

// MaxURLLength bounds a registered endpoint URL.
const MaxURLLength = 500

// ValidateSubscription checks a registration request and returns the de-duplicated event types
// in request order. Errors wrap catalog.ErrInvalidInput.
func ValidateSubscription(rawURL string, eventTypes []catalog.EventType) ([]catalog.EventType, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("%w: url is required", catalog.ErrInvalidInput)
	}
	if len(rawURL) > MaxURLLength {
		return nil, fmt.Errorf("%w: url exceeds %d characters", catalog.ErrInvalidInput, MaxURLLength)
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: url must be an absolute http or https url", catalog.ErrInvalidInput)
	}
	if len(eventTypes) == 0 {
		return nil, fmt.Errorf("%w: at least one event type is required", catalog.ErrInvalidInput)
	}
	seen := make(map[catalog.EventType]struct{}, len(eventTypes))
	out := make([]catalog.EventType, 0, len(eventTypes))
	for _, et := range eventTypes {
		if !et.Valid() {
			return nil, fmt.Errorf("%w: unknown event type %q", catalog.ErrInvalidInput, et)
		}
		if _, dup := seen[et]; dup {
			continue
		}
		seen[et] = struct{}{}
		out = append(out, et)
	}
	return out, nil
}
