package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/selfbase/panel/internal/service/domains"
	"github.com/selfbase/panel/internal/service/logs"
	"github.com/selfbase/panel/internal/service/project"
	"github.com/selfbase/panel/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	projects project.Service
	domains  domains.Service
	events   logs.Service
	upgrader websocket.Upgrader
	limiter  RateLimiter
	dbHealth func(context.Context) error
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitWrite     = 60
	rateLimitRead      = 120
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, projectSvc project.Service, domainSvc domains.Service, eventSvc logs.Service, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		projects: projectSvc,
		domains:  domainSvc,
		events:   eventSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.register()
	return r
}

// ServeHTTP delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.handleHealthz)
	r.mux.HandleFunc("/projects", r.withRateLimit(rateLimitWrite, rateWindowDefault, r.handleProjects))
	r.mux.HandleFunc("/projects/", r.withRateLimit(rateLimitWrite, rateWindowDefault, r.handleProjectSubroutes))
	r.mux.HandleFunc("/settings/domain", r.withRateLimit(rateLimitWrite, rateWindowDefault, r.handlePanelDomain))
	r.mux.HandleFunc("/ws/logs", r.withRateLimit(rateLimitWebsocket, rateWindowRealtime, r.handleLogsWS))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()
	if r.dbHealth != nil {
		if err := r.dbHealth(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		projects, err := r.projects.List(req.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, projects)
	case http.MethodPost:
		var payload struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := r.projects.Create(req.Context(), project.CreateInput{
			Name:        payload.Name,
			Description: payload.Description,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/projects/")
	if trimmed == "" {
		r.notFound(w)
		return
	}
	parts := strings.Split(trimmed, "/")
	projectID := parts[0]

	if len(parts) == 1 {
		r.handleProject(w, req, projectID)
		return
	}

	switch strings.Join(parts[1:], "/") {
	case "deploy":
		r.handleDeploy(w, req, projectID)
	case "stop":
		r.handleStop(w, req, projectID)
	case "status":
		r.handleStatus(w, req, projectID)
	case "logs":
		r.handleProjectLogs(w, req, projectID)
	case "events":
		r.handleProjectEvents(w, req, projectID)
	case "studio-url":
		r.handleStudioURL(w, req, projectID)
	case "domains":
		r.handleProjectDomains(w, req, projectID)
	case "domains/verify":
		r.handleVerifyDomains(w, req, projectID)
	case "env":
		r.handleProjectEnv(w, req, projectID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleProject(w http.ResponseWriter, req *http.Request, projectID string) {
	switch req.Method {
	case http.MethodGet:
		p, err := r.projects.Get(req.Context(), projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodDelete:
		if err := r.projects.Delete(req.Context(), projectID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	result, err := r.projects.Deploy(req.Context(), projectID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	// A failed deploy is a displayable outcome, not a transport error.
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleStop(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	result, err := r.projects.Stop(req.Context(), projectID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	view, err := r.projects.Status(req.Context(), projectID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (r *Router) handleProjectLogs(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	tail, _ := strconv.Atoi(req.URL.Query().Get("tail"))
	output, err := r.projects.Logs(req.Context(), projectID, tail)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": output})
}

func (r *Router) handleProjectEvents(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	entries, err := r.events.List(req.Context(), projectID, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (r *Router) handleStudioURL(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	url, err := r.projects.StudioURL(req.Context(), projectID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"studio_url": url})
}

func (r *Router) handleProjectDomains(w http.ResponseWriter, req *http.Request, projectID string) {
	switch req.Method {
	case http.MethodPut:
		var payload struct {
			Domain       *string `json:"domain"`
			StudioDomain *string `json:"studio_domain"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		result, err := r.domains.SetProjectDomains(req.Context(), projectID, domains.SetInput{
			APIDomain:    payload.Domain,
			StudioDomain: payload.StudioDomain,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case http.MethodDelete:
		removeAPI := req.URL.Query().Get("domain") != "false"
		removeStudio := req.URL.Query().Get("studio_domain") != "false"
		result, err := r.domains.RemoveProjectDomains(req.Context(), projectID, removeAPI, removeStudio)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleVerifyDomains(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	result, err := r.domains.VerifyProjectDomains(req.Context(), projectID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleProjectEnv(w http.ResponseWriter, req *http.Request, projectID string) {
	switch req.Method {
	case http.MethodGet:
		vars, err := r.projects.ListEnvVars(req.Context(), projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, vars)
	case http.MethodPut:
		var payload struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := r.projects.UpsertEnvVar(req.Context(), projectID, payload.Key, payload.Value); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handlePanelDomain(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		name, verified, err := r.domains.PanelDomain(req.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"domain": name, "verified": verified})
	case http.MethodPut:
		var payload struct {
			Domain string `json:"domain"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		result, err := r.domains.SetPanelDomain(req.Context(), payload.Domain)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleLogsWS(w http.ResponseWriter, req *http.Request) {
	projectID := req.URL.Query().Get("project_id")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project_id query parameter required")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.events.Hub().Register(projectID, client)
	go func() {
		defer func() {
			r.events.Hub().Unregister(projectID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "resource not found")
}
