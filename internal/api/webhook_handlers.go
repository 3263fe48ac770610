package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/webhook"
)

type webhookRequest struct {
	URL        string              `json:"url"`
	EventTypes []catalog.EventType `json:"event_types"`
}

type toggleRequest struct {
	Active *bool `json:"active"`
}

type testDeliveryResponse struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code"`
	Error      string `json:"error"`
	DurationMS int64  `json:"duration_ms"`
}

func (s *Server) listWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := s.deps.Webhooks.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if hooks == nil {
		hooks = []catalog.Webhook{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": hooks})
}

func (s *Server) createWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	eventTypes, err := webhook.ValidateSubscription(req.URL, req.EventTypes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	wh, err := s.deps.Webhooks.Create(r.Context(), req.URL, eventTypes)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wh)
}

func (s *Server) getWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := webhookID(w, r)
	if !ok {
		return
	}
	wh, err := s.deps.Webhooks.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wh)
}

func (s *Server) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := webhookID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Webhooks.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// toggleWebhook sets the active flag from {"active": bool}, or flips it when the body is empty.
func (s *Server) toggleWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := webhookID(w, r)
	if !ok {
		return
	}
	var req toggleRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Active == nil {
		current, err := s.deps.Webhooks.Get(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		flipped := !current.Active
		req.Active = &flipped
	}
	wh, err := s.deps.Webhooks.SetActive(r.Context(), id, *req.Active)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wh)
}

func (s *Server) testWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := webhookID(w, r)
	if !ok {
		return
	}
	result, err := s.deps.Tester.TestDeliver(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, testDeliveryResponse{
		Success:    result.Success,
		StatusCode: result.StatusCode,
		Error:      result.Error,
		DurationMS: result.Duration.Milliseconds(),
	})
}

func webhookID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid webhook id")
		return 0, false
	}
	return id, true
}
