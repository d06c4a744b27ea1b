package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/splax/coderoom/internal/apperr"
	"github.com/splax/coderoom/internal/repository"
	"github.com/splax/coderoom/internal/service/file"
	"github.com/splax/coderoom/internal/service/project"
	"github.com/splax/coderoom/internal/service/relay"
	"github.com/splax/coderoom/internal/terminal"
)

const healthCheckTimeout = 2 * time.Second

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	project  project.Service
	file     file.Service
	relay    relay.Service
	upgrader websocket.Upgrader
	dbHealth func(context.Context) error
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, projectSvc project.Service, fileSvc file.Service, relaySvc relay.Service, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		project: projectSvc,
		file:    fileSvc,
		relay:   relaySvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		dbHealth: dbHealth,
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.handleHealthz)
	r.mux.HandleFunc("/projects", r.handleProjects)
	r.mux.HandleFunc("/projects/", r.handleProjectSubroutes)
	r.mux.HandleFunc("/files", r.handleFiles)
	r.mux.HandleFunc("/files/", r.handleFileByID)
	r.mux.HandleFunc("/ws/terminal", r.handleTerminalWS)
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		var payload project.CreateInput
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		proj, err := r.project.Create(req.Context(), payload)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusAccepted, proj)
	case http.MethodGet:
		userID, err := strconv.ParseInt(req.URL.Query().Get("user_id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "user_id query parameter required")
			return
		}
		projects, err := r.project.ListByUser(req.Context(), userID)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, projects)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/projects/")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		r.notFound(w)
		return
	}
	projectID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		r.notFound(w)
		return
	}

	switch {
	case len(parts) == 1:
		r.handleProject(w, req, projectID)
	case len(parts) == 2 && parts[1] == "files":
		r.handleProjectFiles(w, req, projectID)
	case len(parts) == 3 && parts[1] == "terminal" && parts[2] == "connect":
		r.handleTerminalConnect(w, req, projectID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleProject(w http.ResponseWriter, req *http.Request, projectID int64) {
	switch req.Method {
	case http.MethodGet:
		proj, err := r.project.Get(req.Context(), projectID)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, proj)
	case http.MethodDelete:
		if err := r.project.Delete(req.Context(), projectID); err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": projectID, "status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectFiles(w http.ResponseWriter, req *http.Request, projectID int64) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	files, err := r.project.Files(req.Context(), projectID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (r *Router) handleTerminalConnect(w http.ResponseWriter, req *http.Request, projectID int64) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if err := r.relay.ConnectProject(req.Context(), projectID); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "connected"})
}

func (r *Router) handleFiles(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload file.SaveInput
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	record, err := r.file.Save(req.Context(), payload)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (r *Router) handleFileByID(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	id, err := strconv.ParseInt(strings.Trim(strings.TrimPrefix(req.URL.Path, "/files/"), "/"), 10, 64)
	if err != nil {
		r.notFound(w)
		return
	}
	record, content, err := r.file.Load(req.Context(), id)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"file": record, "content": content})
}

// handleTerminalWS upgrades a socket and waits for its register frame. Both
// browsers and workers register here; the relay pairs them up later.
func (r *Router) handleTerminalWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	wsConn := terminal.NewWSConn(conn)
	ev, err := wsConn.ReadEvent()
	if err != nil {
		_ = wsConn.Close()
		return
	}
	if ev.Event != terminal.EventRegister {
		r.logger.Warn("terminal socket sent no register frame", "event", ev.Event)
		_ = wsConn.Close()
		return
	}
	key, err := terminal.ParseKey(ev.Payload)
	if err != nil {
		r.logger.Warn("terminal registration rejected", "error", err)
		_ = wsConn.Close()
		return
	}
	registry := r.relay.Registry()
	registry.Register(key, wsConn)
	r.logger.Info("terminal socket registered", "key", key.String())
	go func() {
		<-wsConn.Done()
		registry.Remove(key, wsConn)
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{"status": "down", "error": err.Error()}
		} else {
			components["database"] = map[string]any{"status": "up"}
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
	writeJSON(w, code, payload)
}

// writeServiceError maps domain errors to HTTP statuses. Unexpected errors
// are logged in full but answered with a generic message.
func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	status := apperr.Status(err)
	if status == http.StatusInternalServerError {
		r.logger.Error("request failed", "path", req.URL.Path, "error", err)
	}
	writeError(w, status, apperr.Message(err))
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
