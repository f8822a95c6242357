package web

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"autoshift/internal/automation"
	"autoshift/internal/config"
	appLog "autoshift/internal/log"
	"autoshift/internal/model"
	"autoshift/internal/schedule"
)

// ShiftStore is the part of the shift store the API exposes.
type ShiftStore interface {
	ListCategories() ([]model.Category, error)
	CreateCategories(names []string) ([]string, error)
	Failures() ([]model.Failure, error)
}

// Runner starts and observes automation runs.
type Runner interface {
	Start(ctx context.Context, req automation.RunRequest) (string, error)
	Status() *automation.RunStatus
	CollectCategories(ctx context.Context) ([]string, error)
}

// Confirmations lists and answers operator questions.
type Confirmations interface {
	Pending() []automation.Request
	Answer(id string, confirmed bool) error
}

// Server provides the local HTTP API for the shift schedule and runs.
type Server struct {
	cfg     *config.Config
	store   ShiftStore
	runner  Runner
	confirm Confirmations
	router  *mux.Router
	now     func() time.Time

	// runCtx outlives individual requests; runs started over HTTP use it.
	runCtx context.Context
}

// NewServer constructs a new Server. Runs started through the API are
// cancelled when runCtx is.
func NewServer(runCtx context.Context, cfg *config.Config, store ShiftStore, runner Runner, confirm Confirmations) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		runner:  runner,
		confirm: confirm,
		router:  mux.NewRouter(),
		now:     time.Now,
		runCtx:  runCtx,
	}
	s.registerRoutes()
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// requireAuth rejects requests without the configured credentials.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	want := s.cfg.BasicAuth
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !constantTimeEqual(u, want.Username) || !constantTimeEqual(p, want.Password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="autoshift", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves on cfg.Listen until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	r := s.router
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	// Subrouters report a method mismatch as 404 unless given a handler.
	api.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)
	if auth := s.cfg.BasicAuth; auth != nil && auth.Username != "" && auth.Password != "" {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		api.Use(s.requireAuth)
	}
	api.HandleFunc("/categories", s.handleCategories).Methods(http.MethodGet)
	api.HandleFunc("/categories/sync", s.handleSyncCategories).Methods(http.MethodPost)
	api.HandleFunc("/schedule", s.handleSchedule).Methods(http.MethodGet)
	api.HandleFunc("/schedule.ics", s.handleScheduleICS).Methods(http.MethodGet)
	api.HandleFunc("/runs", s.handleStartRun).Methods(http.MethodPost)
	api.HandleFunc("/runs/current", s.handleCurrentRun).Methods(http.MethodGet)
	api.HandleFunc("/confirmations", s.handleConfirmations).Methods(http.MethodGet)
	api.HandleFunc("/confirmations/{id}", s.handleAnswer).Methods(http.MethodPost)
	api.HandleFunc("/failures", s.handleFailures).Methods(http.MethodGet)
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleCategories(w http.ResponseWriter, _ *http.Request) {
	cats, err := s.store.ListCategories()
	if err != nil {
		appLog.Error("api categories: list failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read shifts")
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

type syncResponse struct {
	Found   []string `json:"found"`
	Created []string `json:"created"`
}

// handleSyncCategories logs in through the browser and creates a category
// for every job title that does not exist yet. It blocks until the operator
// has logged in or the login wait runs out.
func (s *Server) handleSyncCategories(w http.ResponseWriter, r *http.Request) {
	names, err := s.runner.CollectCategories(r.Context())
	if err != nil {
		writeRunError(w, err)
		return
	}
	created, err := s.store.CreateCategories(names)
	if err != nil {
		appLog.Error("api sync: create categories failed", err)
		writeError(w, http.StatusInternalServerError, "failed to create categories")
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{Found: names, Created: created})
}

// scheduleResponse is the JSON response shape for /api/schedule.
type scheduleResponse struct {
	Start       string             `json:"start"`
	End         string             `json:"end"`
	Occurrences []model.Occurrence `json:"occurrences"`
}

// scheduleRange reads start/end query parameters, defaulting to
// [today, today+horizon_days].
func (s *Server) scheduleRange(r *http.Request) (string, string, error) {
	q := r.URL.Query()
	start, end := q.Get("start"), q.Get("end")
	today := s.now()
	if start == "" {
		start = today.Format(schedule.DateLayout)
	}
	if end == "" {
		end = today.AddDate(0, 0, s.cfg.Schedule.HorizonDays).Format(schedule.DateLayout)
	}
	if _, _, err := schedule.ParseRange(start, end); err != nil {
		return "", "", err
	}
	return start, end, nil
}

func (s *Server) expand(w http.ResponseWriter, r *http.Request) (string, string, []model.Occurrence, bool) {
	start, end, err := s.scheduleRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", "", nil, false
	}
	cats, err := s.store.ListCategories()
	if err != nil {
		appLog.Error("api schedule: list failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read shifts")
		return "", "", nil, false
	}
	return start, end, schedule.Expand(cats, start, end), true
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	start, end, occs, ok := s.expand(w, r)
	if !ok {
		return
	}
	appLog.Debug("api schedule request", "start", start, "end", end, "occurrences", len(occs))
	writeJSON(w, http.StatusOK, scheduleResponse{Start: start, End: end, Occurrences: occs})
}

func (s *Server) handleScheduleICS(w http.ResponseWriter, r *http.Request) {
	_, _, occs, ok := s.expand(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := schedule.WriteICS(&buf, occs, time.Local); err != nil {
		appLog.Error("api schedule: ics export failed", err)
		writeError(w, http.StatusInternalServerError, "failed to render calendar")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="shifts.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type startRunResponse struct {
	RunID string `json:"run_id"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req automation.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if _, _, err := schedule.ParseRange(req.Start, req.End); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runID, err := s.runner.Start(s.runCtx, req)
	if err != nil {
		writeRunError(w, err)
		return
	}
	appLog.Info("api: run started", "run", runID, "start", req.Start, "end", req.End)
	writeJSON(w, http.StatusAccepted, startRunResponse{RunID: runID})
}

func (s *Server) handleCurrentRun(w http.ResponseWriter, _ *http.Request) {
	status := s.runner.Status()
	if status == nil {
		writeError(w, http.StatusNotFound, "no run yet")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleConfirmations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.confirm.Pending())
}

type answerRequest struct {
	Confirmed *bool `json:"confirmed"`
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Confirmed == nil {
		writeError(w, http.StatusBadRequest, `body must be {"confirmed": true|false}`)
		return
	}
	if err := s.confirm.Answer(id, *req.Confirmed); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no pending confirmation with that id")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFailures(w http.ResponseWriter, _ *http.Request) {
	failures, err := s.store.Failures()
	if err != nil {
		appLog.Error("api failures: read failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read failure log")
		return
	}
	writeJSON(w, http.StatusOK, failures)
}

func writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, automation.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, model.ErrProvisioning):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, model.ErrElementNotFound):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		appLog.Error("api: automation failed", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
