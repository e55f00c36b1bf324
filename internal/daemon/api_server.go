package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"listenarr/internal/api"
	"listenarr/internal/logging"
	"listenarr/internal/logs"
	"listenarr/internal/requests"
	"listenarr/internal/services"
)

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	service *api.RequestService
	logPath string

	listener net.Listener
	server   *http.Server
}

func newAPIServer(bind string, d *Daemon, service *api.RequestService,
	metricsHandler http.Handler, logger *slog.Logger) *apiServer {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:    bind,
		logger:  logger.With(logging.String(logging.FieldComponent, "api-server")),
		daemon:  d,
		service: service,
		logPath: d.cfg.LogFilePath(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/api/v1/status", srv.handleStatus)
	mux.HandleFunc("/api/v1/requests", srv.handleRequests)
	mux.HandleFunc("/api/v1/requests/", srv.handleRequestItem)
	mux.HandleFunc("/api/v1/jobs", srv.handleJobs)
	mux.HandleFunc("/api/v1/schedules", srv.handleSchedules)
	mux.HandleFunc("/api/v1/schedules/", srv.handleScheduleToggle)
	mux.HandleFunc("/api/v1/logs", srv.handleLogs)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.shutdown()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) shutdown() {
	if s == nil || s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status, err := s.daemon.Status(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *apiServer) handleRequests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		views, err := s.service.List(r.Context(), queryStatuses(r)...)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.RequestListResponse{Requests: views})
	case http.MethodPost:
		var input api.CreateRequestInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		view, err := s.service.Create(r.Context(), input)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, view)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleRequestItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/requests/")
	idStr, verb, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	switch {
	case verb == "" && r.Method == http.MethodGet:
		view, err := s.service.Describe(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, view)
	case verb == "approve" && r.Method == http.MethodPost:
		view, err := s.service.Approve(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, view)
	case verb == "deny" && r.Method == http.MethodPost:
		view, err := s.service.Deny(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, view)
	case verb == "cancel" && r.Method == http.MethodPost:
		if err := s.service.Cancel(r.Context(), id); err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	default:
		s.writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	views, err := s.service.Jobs(r.Context(), queryStatuses(r)...)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: views})
}

func (s *apiServer) handleSchedules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	views, err := s.service.Schedules(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ScheduleListResponse{Schedules: views})
}

func (s *apiServer) handleScheduleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/schedules/")
	name, verb, _ := strings.Cut(rest, "/")
	var enabled bool
	switch verb {
	case "enable":
		enabled = true
	case "disable":
		enabled = false
	default:
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err := s.service.SetScheduleEnabled(r.Context(), name, enabled); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"name": name, "enabled": enabled})
}

// handleLogs tails the daemon log file. The wait parameter is capped below
// the server write timeout so long polls always complete with a response.
func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	opts := logs.TailOptions{Offset: -1, Limit: 100}
	query := r.URL.Query()
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		opts.Offset = offset
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = limit
	}
	if raw := query.Get("wait_ms"); raw != "" {
		waitMillis, err := strconv.Atoi(raw)
		if err != nil || waitMillis < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid wait_ms")
			return
		}
		if waitMillis > 10000 {
			waitMillis = 10000
		}
		opts.Wait = time.Duration(waitMillis) * time.Millisecond
	}

	result, err := logs.Tail(r.Context(), s.logPath, opts)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func queryStatuses(r *http.Request) []string {
	var names []string
	for _, value := range r.URL.Query()["status"] {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}

// writeServiceError maps workflow errors onto HTTP status codes.
func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, requests.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, requests.ErrDuplicateActive):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, requests.ErrInvalidTransition), errors.Is(err, requests.ErrConflict):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response failed", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
