// Package api exposes the dispatch operations over HTTP: submit,
// webhook management, event triggering, cancellation, history and
// preference reads and writes.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/notifyd/notifyd/internal/dispatch"
	"github.com/notifyd/notifyd/internal/domain/delivery"
	"github.com/notifyd/notifyd/internal/domain/preferences"
	"github.com/notifyd/notifyd/internal/repository/postgres"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type Server struct {
	svc *dispatch.Service
	log *zap.Logger
}

func NewServer(svc *dispatch.Service, log *zap.Logger) *Server {
	if log == nil {
		log = zap.L()
	}
	return &Server{svc: svc, log: log.With(zap.String("component", "api.server"))}
}

// Router builds the HTTP surface. Every handler is traced.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/v1/notifications", s.submitNotification).Methods(http.MethodPost)
	r.HandleFunc("/v1/notifications/{id:[0-9]+}", s.getNotification).Methods(http.MethodGet)
	r.HandleFunc("/v1/users/{userId:[0-9]+}/notifications", s.listNotifications).Methods(http.MethodGet)

	r.HandleFunc("/v1/webhooks", s.registerWebhook).Methods(http.MethodPost)
	r.HandleFunc("/v1/webhooks", s.listWebhooks).Methods(http.MethodGet)
	r.HandleFunc("/v1/webhooks/test", s.testWebhook).Methods(http.MethodPost)

	r.HandleFunc("/v1/events", s.triggerEvent).Methods(http.MethodPost)
	r.HandleFunc("/v1/jobs/{id}", s.cancelJob).Methods(http.MethodDelete)

	r.HandleFunc("/v1/history", s.queryHistory).Methods(http.MethodGet)

	r.HandleFunc("/v1/users/{userId:[0-9]+}/preferences", s.getPreferences).Methods(http.MethodGet)
	r.HandleFunc("/v1/users/{userId:[0-9]+}/preferences", s.updatePreferences).Methods(http.MethodPut)

	return otelhttp.NewHandler(r, "api")
}

type submitRequest struct {
	UserID    int64  `json:"user_id"`
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Content   string `json:"content"`
	Priority  string `json:"priority"`
	Category  string `json:"category"`
}

func (s *Server) submitNotification(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	n, err := s.svc.SubmitNotification(r.Context(), dispatch.SubmitRequest{
		UserID:    req.UserID,
		Channel:   req.Channel,
		Recipient: req.Recipient,
		Subject:   req.Subject,
		Content:   req.Content,
		Priority:  req.Priority,
		Category:  req.Category,
	})
	if err != nil {
		s.respondFromError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, n)
}

func (s *Server) getNotification(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	n, err := s.svc.GetNotification(r.Context(), id)
	if err != nil {
		s.respondFromError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, n)
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	userID, _ := strconv.ParseInt(mux.Vars(r)["userId"], 10, 64)
	limit := queryInt(r, "limit", 50)
	ns, err := s.svc.ListNotifications(r.Context(), userID, limit)
	if err != nil {
		s.respondFromError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, ns)
}

type registerWebhookRequest struct {
	Name        string   `json:"name"`
	URL         string   `json:"url"`
	EventTypes  []string `json:"event_types"`
	Secret      string   `json:"secret"`
	Active      *bool    `json:"active"`
	MaxAttempts int      `json:"max_attempts"`
	TimeoutSec  int      `json:"timeout_seconds"`
}

func (s *Server) registerWebhook(w http.ResponseWriter, r *http.Request) {
	var req registerWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	cfg, err := s.svc.RegisterWebhook(r.Context(), dispatch.RegisterWebhookRequest{
		Name:        req.Name,
		URL:         req.URL,
		EventTypes:  req.EventTypes,
		Secret:      req.Secret,
		Active:      active,
		MaxAttempts: req.MaxAttempts,
		Timeout:     time.Duration(req.TimeoutSec) * time.Second,
	})
	if err != nil {
		s.respondFromError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, cfg)
}

func (s *Server) listWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := s.svc.ListWebhooks(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		s.respondFromError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, hooks)
}

type testWebhookRequest struct {
	URL     string          `json:"url"`
	Secret  string          `json:"secret"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) testWebhook(w http.ResponseWriter, r *http.Request) {
	var req testWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	code, err := s.svc.TestWebhook(r.Context(), req.URL, req.Secret, req.Payload)
	if err != nil {
		s.respondJSON(w, http.StatusOK, map[string]any{
			"delivered":     false,
			"response_code": code,
			"error":         err.Error(),
		})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"delivered":     true,
		"response_code": code,
	})
}

type triggerEventRequest struct {
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
}

func (s *Server) triggerEvent(w http.ResponseWriter, r *http.Request) {
	var req triggerEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	n, err := s.svc.TriggerEvent(r.Context(), req.EventType, req.Payload)
	if err != nil {
		s.respondFromError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]int{"enqueued": n})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	err := s.svc.CancelJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondFromError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) queryHistory(w http.ResponseWriter, r *http.Request) {
	f := delivery.Filter{
		NotificationID: queryInt64(r, "notification_id"),
		WebhookID:      queryInt64(r, "webhook_id"),
		UserID:         queryInt64(r, "user_id"),
		Limit:          queryInt(r, "limit", 100),
	}
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "since: not RFC3339")
			return
		}
		f.Since = t
	}
	if v := r.URL.Query().Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "until: not RFC3339")
			return
		}
		f.Until = t
	}
	rows, err := s.svc.QueryHistory(r.Context(), f)
	if err != nil {
		s.respondFromError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rows)
}

func (s *Server) getPreferences(w http.ResponseWriter, r *http.Request) {
	userID, _ := strconv.ParseInt(mux.Vars(r)["userId"], 10, 64)
	p, err := s.svc.GetPreferences(r.Context(), userID)
	if err != nil {
		s.respondFromError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, p)
}

func (s *Server) updatePreferences(w http.ResponseWriter, r *http.Request) {
	userID, _ := strconv.ParseInt(mux.Vars(r)["userId"], 10, 64)
	var p preferences.Preferences
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p.UserID = userID
	if err := s.svc.UpdatePreferences(r.Context(), &p); err != nil {
		s.respondFromError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, &p)
}

func (s *Server) respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("encode response failed", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, code int, msg string) {
	s.respondJSON(w, code, map[string]string{"error": msg})
}

// respondFromError maps the error taxonomy onto HTTP statuses without
// leaking internals in 5xx bodies.
func (s *Server) respondFromError(w http.ResponseWriter, err error) {
	switch {
	case delivery.IsValidation(err):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, postgres.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, postgres.ErrConflict):
		s.respondError(w, http.StatusConflict, "conflict")
	default:
		s.log.Error("request failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func queryInt64(r *http.Request, name string) int64 {
	n, _ := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return n
}
