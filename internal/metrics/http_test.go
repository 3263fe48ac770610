package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveHTTPRequest(t *testing.T) {
	Init()

	okBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))
	missBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404"))

	ObserveHTTPRequest(http.MethodGet, "/products/{sku}/", http.StatusOK, 5*time.Millisecond)
	ObserveHTTPRequest(http.MethodGet, "unknown", http.StatusNotFound, time.Millisecond)

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")); val != okBefore+1 {
		t.Errorf("Expected httpRequestsTotal for GET 200 to be %f, got %f", okBefore+1, val)
	}
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")); val != missBefore+1 {
		t.Errorf("Expected httpRequestsTotal for GET 404 to be %f, got %f", missBefore+1, val)
	}
	if val := testutil.CollectAndCount(httpRequestDurationSeconds); val <= 0 {
		t.Errorf("Expected httpRequestDurationSeconds to be observed, got %d", val)
	}
}

func TestObserveRateLimitDelay(t *testing.T) {
	ObserveRateLimitDelay("throttled.example.com", 20*time.Millisecond)
	if val := testutil.CollectAndCount(webhookRateLimitSeconds); val <= 0 {
		t.Errorf("Expected webhookRateLimitSeconds to be observed, got %d", val)
	}
}
