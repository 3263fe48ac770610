package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/config"
	"github.com/JakeFAU/catalog-ingest/internal/importer"
	"github.com/JakeFAU/catalog-ingest/internal/metrics"
	"github.com/JakeFAU/catalog-ingest/internal/product"
	"github.com/JakeFAU/catalog-ingest/internal/webhook"
)

const (
	defaultMaxUploadBytes = 100 << 20
	readinessTimeout      = 2 * time.Second
)

// Submitter accepts upload streams and returns the pending task.
type Submitter interface {
	Submit(ctx context.Context, filename string, r io.Reader) (catalog.Task, error)
}

// ProductService is the subset of the upsert engine used by the product routes.
type ProductService interface {
	Upsert(ctx context.Context, in product.UpsertInput, policy product.PublishPolicy) (catalog.Product, bool, error)
	Get(ctx context.Context, sku string) (catalog.Product, error)
	Delete(ctx context.Context, sku string) (catalog.Product, error)
}

// WebhookTester performs synchronous test deliveries.
type WebhookTester interface {
	TestDeliver(ctx context.Context, id int64) (webhook.DeliveryResult, error)
}

// ReadinessCheck is one downstream probed by /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Dependencies groups the collaborators the handlers call.
type Dependencies struct {
	Submitter Submitter
	Status    catalog.StatusStore
	Products  ProductService
	Webhooks  catalog.WebhookRegistry
	Tester    WebhookTester
	Ready     []ReadinessCheck
}

// Server wires HTTP handlers to the import pipeline and registries.
type Server struct {
	router         chi.Router
	deps           Dependencies
	maxUploadBytes int64
	logger         *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Dependencies, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:           deps,
		maxUploadBytes: cfg.Upload.MaxBytes,
		logger:         logger.Named("api"),
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = defaultMaxUploadBytes
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(traceMiddleware(otel.GetTextMapPropagator()))
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/products", func(r chi.Router) {
			// Uploads stream up to upload.max_bytes and get their own budget.
			r.With(timeoutMiddleware(cfg.UploadTimeout())).Post("/upload/", s.uploadCSV)

			r.Group(func(r chi.Router) {
				r.Use(timeoutMiddleware(cfg.RequestTimeout()))
				r.Post("/", s.upsertProduct)
				r.Get("/upload/status/{task_id}/", s.uploadStatus)

				r.Route("/webhooks", func(r chi.Router) {
					r.Get("/", s.listWebhooks)
					r.Post("/", s.createWebhook)
					r.Get("/{id}/", s.getWebhook)
					r.Delete("/{id}/", s.deleteWebhook)
					r.Post("/{id}/toggle/", s.toggleWebhook)
					r.Post("/{id}/test/", s.testWebhook)
				})

				r.Get("/{sku}/", s.getProduct)
				r.Delete("/{sku}/", s.deleteProduct)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()
	failures := map[string]string{}
	for _, check := range s.deps.Ready {
		if err := check.Check(ctx); err != nil {
			failures[check.Name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, catalog.ErrDuplicateSubscription):
		return http.StatusConflict
	case errors.Is(err, importer.ErrQueueUnavailable), catalog.IsUnrecoverable(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = "internal server error"
	}
	writeError(w, status, msg)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
