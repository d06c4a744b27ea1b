package httpx

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/coderoom/internal/apperr"
	"github.com/splax/coderoom/internal/repository"
	"github.com/splax/coderoom/internal/worker/provision"
)

const (
	healthCheckTimeout = 2 * time.Second
	authHeader         = "X-Worker-Token"
)

// Router exposes the worker's control endpoints to the API process.
type Router struct {
	mux          *http.ServeMux
	logger       *slog.Logger
	provision    *provision.Service
	authToken    string
	dockerHealth func(context.Context) error
	dbHealth     func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
}

// NewRouter creates and registers handlers.
func NewRouter(logger *slog.Logger, provisionSvc *provision.Service, authToken string, dockerHealth, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:          http.NewServeMux(),
		logger:       logger,
		provision:    provisionSvc,
		authToken:    authToken,
		dockerHealth: dockerHealth,
		dbHealth:     dbHealth,
	}
	r.initMetrics()
	r.routes()
	return r
}

// ServeHTTP satisfies http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) routes() {
	r.mux.HandleFunc("/metrics", promhttp.Handler().ServeHTTP)
	r.mux.HandleFunc("/healthz", r.instrument("/healthz", r.handleHealth))
	r.mux.HandleFunc("/terminal", r.instrument("/terminal", r.authorized(r.handleTerminal)))
	r.mux.HandleFunc("/projects", r.instrument("/projects", r.authorized(r.handleProjects)))
}

// authorized rejects requests that do not carry the shared worker token.
func (r *Router) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.authToken != "" {
			token := req.Header.Get(authHeader)
			if subtle.ConstantTimeCompare([]byte(token), []byte(r.authToken)) != 1 {
				r.writeError(w, http.StatusUnauthorized, "invalid worker token")
				return
			}
		}
		next(w, req)
	}
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()

	components := make(map[string]any)
	status := "ok"
	checks := map[string]func(context.Context) error{
		"docker":   r.dockerHealth,
		"database": r.dbHealth,
	}
	for name, check := range checks {
		if check == nil {
			continue
		}
		if err := check(ctx); err != nil {
			status = "degraded"
			components[name] = map[string]any{"status": "down", "error": err.Error()}
		} else {
			components[name] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	r.writeJSON(w, code, payload)
}

// handleTerminal opens a sandbox shell session and bridges it back to the
// control plane's terminal endpoint.
func (r *Router) handleTerminal(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	projectID, err := strconv.ParseInt(req.URL.Query().Get("project_id"), 10, 64)
	if err != nil {
		r.writeError(w, http.StatusBadRequest, "project_id query parameter required")
		return
	}
	if err := r.provision.AttachTerminal(req.Context(), projectID); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	r.writeJSON(w, http.StatusOK, map[string]any{"project_id": projectID, "status": "attached"})
}

// handleProjects tears down the sandbox for a project. A project the worker
// no longer knows answers 404; the caller treats that as already done.
func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodDelete {
		r.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	projectID, err := strconv.ParseInt(req.URL.Query().Get("id"), 10, 64)
	if err != nil {
		r.writeError(w, http.StatusBadRequest, "id query parameter required")
		return
	}
	if err := r.provision.Teardown(req.Context(), projectID); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	r.writeJSON(w, http.StatusOK, map[string]any{"id": projectID, "status": "destroyed"})
}

func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		r.writeError(w, http.StatusNotFound, "not found")
		return
	}
	status := apperr.Status(err)
	if status == http.StatusInternalServerError {
		r.logger.Error("request failed", "path", req.URL.Path, "error", err)
	}
	r.writeError(w, status, apperr.Message(err))
}

func (r *Router) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.logger.Error("failed to encode response", "error", err)
	}
}

func (r *Router) writeError(w http.ResponseWriter, status int, msg string) {
	r.writeJSON(w, status, map[string]string{"error": msg})
}
