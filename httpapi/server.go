// Package httpapi maps the Service Facade (C9) onto spec.md §6.2's HTTP
// endpoint table: a thin net/http mux composing CORS, logging, and panic
// recovery middleware the way the teacher's core/tool.go's BaseTool.Start
// composes core/cors.go's CORSMiddleware and core/middleware.go's
// LoggingMiddleware — recovery is grounded on the teacher's
// core/agent.go RecoveryMiddleware, which the pruned core package no
// longer carries, so it is reproduced here in the same shape.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/avalonlabs/taskrunner/corecfg"
	"github.com/avalonlabs/taskrunner/corelog"
	"github.com/avalonlabs/taskrunner/service"
)

// Version is surfaced on GET /health. Set at build time in a full release
// pipeline; a fixed string is sufficient here since build tooling is out of
// scope per spec.md §1.
const Version = "0.1.0"

// Server wires a service.Facade to spec.md §6.2's endpoint table.
type Server struct {
	facade *service.Facade
	cfg    *corecfg.Config
	logger corelog.Logger
	mux    *http.ServeMux

	startedAt time.Time
}

// New constructs a Server. cfg is surfaced (redacted) over GET
// /api/v1/config; it is not consulted to configure the facade, which the
// caller must already have built from the same cfg per spec.md §6.3's
// "consumed, not parsed" contract.
func New(facade *service.Facade, cfg *corecfg.Config, logger corelog.Logger) *Server {
	if logger == nil {
		logger = corelog.NoOpLogger{}
	}
	s := &Server{facade: facade, cfg: cfg, logger: logger, startedAt: time.Now()}
	s.mux = http.NewServeMux()
	s.routes()
	return s
}

// Handler returns the fully composed CORS -> logging -> recovery handler
// chain, ready to pass to http.Server.Handler.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = loggingMiddleware(s.logger)(h)
	h = corsMiddleware(s.cfg.Service.CORS)(h)
	h = recoveryMiddleware(s.logger)(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/v1/status", s.handleStatus)
	s.mux.HandleFunc("/api/v1/metrics", s.handleMetrics)
	s.mux.HandleFunc("/api/v1/tools", s.handleTools)
	s.mux.HandleFunc("/api/v1/config", s.handleConfig)
	s.mux.HandleFunc("/api/v1/config/model", s.handleConfigModel)
	s.mux.HandleFunc("/api/v1/config/validate", s.handleConfigValidate)
	s.mux.HandleFunc("/api/v1/tasks", s.handleTasks)
	s.mux.HandleFunc("/api/v1/tasks/batch", s.handleTasksBatch)
	s.mux.HandleFunc("/api/v1/tasks/", s.handleTaskByID)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"version":   Version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.facade.GetStatus())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.facade.GetMetrics())
}

// handleConfig implements GET /api/v1/config, surfacing the service's
// configuration with the model API key redacted per corecfg's Redacted
// convention.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	redacted := *s.cfg
	redacted.Model = s.cfg.Model.Redacted()
	writeJSON(w, http.StatusOK, redacted)
}

// handleConfigModel implements PUT /api/v1/config/model.
func (s *Server) handleConfigModel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	var model corecfg.ModelConfig
	if err := json.NewDecoder(r.Body).Decode(&model); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return
	}
	s.cfg.Model = model
	redacted := *s.cfg
	redacted.Model = s.cfg.Model.Redacted()
	writeJSON(w, http.StatusOK, redacted)
}

// handleConfigValidate implements POST /api/v1/config/validate.
func (s *Server) handleConfigValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	var body struct {
		Config corecfg.Config `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"valid": false, "errors": []string{"malformed body: " + err.Error()}, "warnings": []string{},
		})
		return
	}
	if err := body.Config.Validate(); err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"valid": false, "errors": []string{err.Error()}, "warnings": []string{},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"valid": true, "errors": []string{}, "warnings": []string{}})
}

type toolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	status := s.facade.GetStatus()
	tools := make([]toolInfo, 0, len(status.AvailableTools))
	for _, name := range status.AvailableTools {
		tools = append(tools, toolInfo{Name: name})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": tools})
}

// taskRequest is POST /api/v1/tasks's body.
type taskRequest struct {
	TaskID   string `json:"task_id,omitempty"`
	Request  string `json:"request"`
	Priority string `json:"priority,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	var body taskRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return
	}
	tc, err := s.facade.ExecuteTask(r.Context(), toExecuteRequest(body))
	if err != nil {
		s.writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tc)
}

type batchTaskRequest struct {
	Requests        []taskRequest `json:"requests"`
	Mode            string        `json:"mode"`
	ContinueOnError bool          `json:"continue_on_error"`
}

func (s *Server) handleTasksBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	var body batchTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return
	}
	reqs := make([]service.ExecuteRequest, len(body.Requests))
	for i, tr := range body.Requests {
		reqs[i] = toExecuteRequest(tr)
	}
	mode := service.BatchParallel
	if strings.EqualFold(body.Mode, "sequential") {
		mode = service.BatchSequential
	}
	resp, err := s.facade.ExecuteBatch(r.Context(), service.BatchRequest{
		Requests: reqs, Mode: mode, ContinueOnError: body.ContinueOnError,
	})
	if err != nil {
		s.writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTaskByID implements GET/DELETE /api/v1/tasks/{id}.
func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "missing task id")
		return
	}
	switch r.Method {
	case http.MethodGet:
		tc, err := s.facade.GetTaskStatus(id)
		if err != nil {
			s.writeFacadeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tc)
	case http.MethodDelete:
		if err := s.facade.CancelTask(id); err != nil {
			s.writeFacadeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusBadRequest, "method not allowed")
	}
}

func toExecuteRequest(tr taskRequest) service.ExecuteRequest {
	req := service.ExecuteRequest{TaskID: tr.TaskID, Request: tr.Request}
	if tr.Priority != "" {
		req.Priority = priorityFromString(tr.Priority)
	}
	if strings.EqualFold(tr.Mode, "single-shot") {
		req.Mode = service.ModeSingleShot
	} else if strings.EqualFold(tr.Mode, "phased") {
		req.Mode = service.ModePhased
	}
	return req
}

func (s *Server) writeFacadeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, service.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrAlreadyTerminal):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, "task timed out")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// recoveryMiddleware recovers from panics in handlers, logging the stack
// trace and returning 500, mirroring the teacher's core/agent.go
// RecoveryMiddleware.
func recoveryMiddleware(logger corelog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("HTTP handler panic recovered", map[string]interface{}{
						"panic":  err,
						"path":   r.URL.Path,
						"method": r.Method,
						"stack":  string(debug.Stack()),
					})
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
