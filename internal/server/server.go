package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/flowforge/flowforge/internal/log"
	"github.com/flowforge/flowforge/internal/model"
	"github.com/flowforge/flowforge/internal/storage"
)

// JobService is the job surface the HTTP API exposes. registry.Registry
// satisfies it.
type JobService interface {
	Submit(ctx context.Context, task string, target model.Target) (*model.Job, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context) ([]model.Job, error)
	Cancel(ctx context.Context, jobID string) error
	Confirm(jobID string) error
	Subscribe(jobID string) (<-chan model.ProgressEvent, func(), error)
}

// ServerConfig is the configuration for the HTTP API server.
type ServerConfig struct {
	Addr   string
	Jobs   JobService
	Guides storage.GuideRepository
	Logger log.Logger
}

func (c *ServerConfig) defaults() error {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.Jobs == nil {
		return fmt.Errorf("job service is required")
	}
	if c.Guides == nil {
		return fmt.Errorf("guide repository is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "server.Server"})
	return nil
}

// Server is the HTTP API: workflow submission, status, cancellation, the
// progress event stream and the manual-login confirmation endpoint.
type Server struct {
	jobs    JobService
	guides  storage.GuideRepository
	handler http.Handler
	server  *http.Server
	logger  log.Logger
}

// NewServer creates a new HTTP API server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		jobs:   cfg.Jobs,
		guides: cfg.Guides,
		logger: cfg.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/healthz", s.handleHealth)
		r.Route("/workflows", func(r chi.Router) {
			r.Post("/", s.handleSubmit)
			r.Get("/", s.handleList)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", s.handleGet)
				r.Delete("/", s.handleCancel)
				r.Get("/events", s.handleEvents)
				r.Post("/confirm-auth", s.handleConfirm)
				r.Get("/guide", s.handleGuide)
			})
		})
	})

	s.handler = r
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe blocks serving the API until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Infof("HTTP API listening on %s", s.server.Addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type submitRequest struct {
	Task       string `json:"task"`
	TargetName string `json:"target_name,omitempty"`
	TargetURL  string `json:"target_url,omitempty"`
}

type jobResponse struct {
	ID          string                   `json:"id"`
	Task        string                   `json:"task"`
	TargetName  string                   `json:"target_name,omitempty"`
	TargetURL   string                   `json:"target_url,omitempty"`
	Phase       model.JobPhase           `json:"phase"`
	Reason      model.FailureReason      `json:"reason,omitempty"`
	Degraded    bool                     `json:"degraded"`
	CreatedAt   time.Time                `json:"created_at"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
	TotalSteps  int                      `json:"total_steps,omitempty"`
	GuideRef    string                   `json:"guide_ref,omitempty"`
	Error       string                   `json:"error,omitempty"`
	Auth        *authResponse            `json:"auth,omitempty"`
	Steps       []model.ExecutionAttempt `json:"steps,omitempty"`
}

type authResponse struct {
	Success  bool             `json:"success"`
	Method   model.AuthMethod `json:"method,omitempty"`
	Manual   bool             `json:"manual"`
	Attempts int              `json:"attempts"`
}

func toJobResponse(j *model.Job) jobResponse {
	resp := jobResponse{
		ID:          j.ID,
		Task:        j.Task,
		TargetName:  j.Target.Name,
		TargetURL:   j.Target.URL,
		Phase:       j.Phase,
		Reason:      j.Reason,
		Degraded:    j.Degraded,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
		GuideRef:    j.GuideRef,
		Error:       j.Error,
		Steps:       j.Steps,
	}
	if j.Plan != nil {
		resp.TotalSteps = len(j.Plan.Steps)
	}
	if j.Auth != nil {
		resp.Auth = &authResponse{
			Success:  j.Auth.Success,
			Method:   j.Auth.Method,
			Manual:   j.Auth.ManualInterventionRequired,
			Attempts: len(j.Auth.Attempts),
		}
	}
	return resp
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	job, err := s.jobs.Submit(r.Context(), req.Task, model.Target{Name: req.TargetName, URL: req.TargetURL})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, toJobResponse(job))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.ListJobs(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	resp := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		// Listings stay light, no step history.
		jr := toJobResponse(&jobs[i])
		jr.Steps = nil
		resp = append(resp, jr)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Cancel(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Confirm(chi.URLParam(r, "jobID")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}

func (s *Server) handleGuide(w http.ResponseWriter, r *http.Request) {
	g, err := s.guides.GetGuide(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(g.Markdown))
}

// handleEvents streams the job's progress events over SSE. Late subscribers
// to a terminal job receive a single synthetic snapshot event so the stream
// is usable at any point of the job's life.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if job.Phase.Terminal() {
		writeSSE(w, snapshotEvent(job))
		flusher.Flush()
		return
	}

	events, cancel, err := s.jobs.Subscribe(jobID)
	if err != nil {
		// The job went terminal and got evicted between the lookup and the
		// subscription; fall back to the snapshot.
		writeSSE(w, snapshotEvent(job))
		flusher.Flush()
		return
	}
	defer cancel()

	// Orient the subscriber with the current state before live events.
	writeSSE(w, snapshotEvent(job))
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
			if ev.Kind == model.EventPhaseChanged && ev.Phase.Terminal() {
				return
			}
		}
	}
}

// snapshotEvent synthesizes a phase-changed event from the job's current
// state. Synthetic events carry no sequence number.
func snapshotEvent(job *model.Job) model.ProgressEvent {
	return model.ProgressEvent{
		JobID:     job.ID,
		Kind:      model.EventPhaseChanged,
		Timestamp: time.Now().UTC(),
		Phase:     job.Phase,
		Reason:    job.Reason,
		Message:   job.Error,
	}
}

func writeSSE(w http.ResponseWriter, ev model.ProgressEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrNotValid):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrBackendUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Errorf("Unhandled API error: %v", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Errorf("Could not encode response: %v", err)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debugf("%s %s %d %s", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}
