// Package handler exposes the engine's message API over HTTP. All
// operations go through a single endpoint taking a typed message envelope,
// mirroring the message-passing surface the engine is driven by.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tagmesh/tagmesh/internal/common"
	"github.com/tagmesh/tagmesh/internal/coordinator"
	"github.com/tagmesh/tagmesh/internal/logging"
	"github.com/tagmesh/tagmesh/internal/metrics"
	"github.com/tagmesh/tagmesh/internal/service"
)

type Handler struct {
	logger       logging.Logger
	coord        *coordinator.Coordinator
	users        service.UserService
	tags         service.TagService
	subs         service.SubscriptionService
	queue        service.SyncService
	keystorePath string
}

type Deps struct {
	Logger        logging.Logger
	Coordinator   *coordinator.Coordinator
	Users         service.UserService
	Tags          service.TagService
	Subscriptions service.SubscriptionService
	Queue         service.SyncService
	KeystorePath  string
}

func New(d Deps) *Handler {
	return &Handler{
		logger:       d.Logger,
		coord:        d.Coordinator,
		users:        d.Users,
		tags:         d.Tags,
		subs:         d.Subscriptions,
		queue:        d.Queue,
		keystorePath: d.KeystorePath,
	}
}

// Router builds the HTTP surface: the message endpoint, health and
// Prometheus scrape routes.
func (h *Handler) Router(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Post("/v1/message", h.HandleMessage)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))
	}
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

// statusFor maps sentinel errors onto HTTP status codes. Anything
// unrecognized is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrValidation),
		errors.Is(err, common.ErrInvalidHandle),
		errors.Is(err, common.ErrInvalidPassphrase):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrNoIdentity):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrDuplicateSubscription),
		errors.Is(err, common.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, common.ErrSignatureInvalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, common.ErrTransientIO):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
