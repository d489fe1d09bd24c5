package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-review/pkg/config"
	"github.com/ekaya-inc/ekaya-review/pkg/logging"
)

// Pinger is a storage backend that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
	Error   string `json:"error,omitempty"`
}

// PingResponse contains service status and version information.
type PingResponse struct {
	Status        string   `json:"status"`
	Version       string   `json:"version"`
	Service       string   `json:"service"`
	GoVersion     string   `json:"go_version"`
	Hostname      string   `json:"hostname"`
	Environment   string   `json:"environment"`
	Collections   []string `json:"collections"`
	Notifications []string `json:"notifications"`
}

// HealthHandler handles health check, ping and metrics endpoints.
type HealthHandler struct {
	cfg           *config.Config
	storage       Pinger // nil for the in-memory backend
	collections   []string
	notifications []string
	logger        *zap.Logger
}

// HealthHandlerDeps contains dependencies for HealthHandler.
type HealthHandlerDeps struct {
	Config        *config.Config
	Storage       Pinger // Optional
	Collections   []string
	Notifications []string
	Logger        *zap.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(deps *HealthHandlerDeps) *HealthHandler {
	return &HealthHandler{
		cfg:           deps.Config,
		storage:       deps.Storage,
		collections:   deps.Collections,
		notifications: deps.Notifications,
		logger:        deps.Logger,
	}
}

// RegisterRoutes registers the handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// Health handles GET /health requests.
// Returns 503 when the storage backend does not answer.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Storage: h.cfg.Storage.Backend}
	status := http.StatusOK

	if h.storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.storage.Ping(ctx); err != nil {
			h.logger.Warn("Storage health check failed", zap.String("error", logging.SanitizeError(err)))
			resp.Status = "unavailable"
			resp.Error = logging.SanitizeError(err)
			status = http.StatusServiceUnavailable
		}
	}

	if err := WriteJSON(w, status, resp); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ping handles GET /ping requests.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		h.logger.Error("Failed to get hostname", zap.Error(err))
		if err := WriteError(w, err); err != nil {
			h.logger.Error("Failed to encode error response", zap.Error(err))
		}
		return
	}

	response := PingResponse{
		Status:        "ok",
		Version:       h.cfg.Version,
		Service:       "ekaya-review",
		GoVersion:     runtime.Version(),
		Hostname:      hostname,
		Environment:   h.cfg.Env,
		Collections:   h.collections,
		Notifications: h.notifications,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
