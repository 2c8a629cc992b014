package http

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store   Pinger
	version string
	log     *logrus.Logger
}

// NewHealthHandler takes the store to ping for readiness; nil means the
// process has no external store and is always ready.
func NewHealthHandler(store Pinger, version string, log *logrus.Logger) *HealthHandler {
	return &HealthHandler{
		store:   store,
		version: version,
		log:     log,
	}
}

type BannerResponse struct {
	Message   string    `json:"message"`
	Version   string    `json:"version"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Method Get /
func (h *HealthHandler) Banner(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BannerResponse{
		Message:   "Task portal messaging API",
		Version:   h.version,
		Status:    "running",
		Timestamp: time.Now().UTC(),
	})
}

// Method Get /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			h.log.WithError(err).Warn("Store ping failed")
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: "store unreachable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}
