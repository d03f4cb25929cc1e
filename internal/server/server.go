// Package server exposes a scheduler and filesystem over a small REST
// surface, for driving the middleware from other processes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/3leaps/gridlink/pkg/filesystem"
	"github.com/3leaps/gridlink/pkg/fspath"
	"github.com/3leaps/gridlink/pkg/scheduler"
)

// Server routes REST calls onto one scheduler and its filesystem.
type Server struct {
	sched scheduler.Scheduler
	fs    *filesystem.FileSystem
	log   *zap.Logger
}

// New assembles a server. fs may be nil when the scheduler has none.
func New(sched scheduler.Scheduler, fs *filesystem.FileSystem, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{sched: sched, fs: fs, log: log}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/queues", s.handleQueues)
		r.Get("/jobs", s.handleListJobs)
		r.Post("/jobs", s.handleSubmitJob)
		r.Get("/jobs/{jobID}", s.handleJobStatus)
		r.Delete("/jobs/{jobID}", s.handleCancelJob)

		r.Post("/copies", s.handleStartCopy)
		r.Get("/copies/{copyID}", s.handleCopyStatus)
		r.Delete("/copies/{copyID}", s.handleCancelCopy)
	})

	return r
}

// ListenAndServe blocks serving HTTP until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("server listening", zap.String("addr", addr))

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case scheduler.IsNoSuchJob(err), scheduler.IsNoSuchQueue(err), filesystem.IsNoSuchCopy(err), filesystem.IsNoSuchPath(err):
		status = http.StatusNotFound
	case scheduler.IsInvalidDescription(err), errors.Is(err, scheduler.ErrBadParameter):
		status = http.StatusBadRequest
	case filesystem.IsPermissionDenied(err):
		status = http.StatusForbidden
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	open, err := s.sched.IsOpen(r.Context())
	if err != nil || !open {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"open": false})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"open": true})
}

func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"queues":  s.sched.QueueNames(),
		"default": s.sched.DefaultQueueName(),
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var queues []string
	if q := r.URL.Query().Get("queue"); q != "" {
		queues = []string{q}
	}

	jobs, err := s.sched.Jobs(r.Context(), queues...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"jobs": jobs})
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	description := scheduler.NewJobDescription()
	if err := json.NewDecoder(r.Body).Decode(description); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid job description: " + err.Error()})
		return
	}

	jobID, err := s.sched.SubmitBatchJob(r.Context(), description)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"job_id": jobID})
}

func jobStatusBody(status scheduler.JobStatus) map[string]interface{} {
	body := map[string]interface{}{
		"job_id":  status.JobID(),
		"name":    status.Name(),
		"state":   status.State(),
		"running": status.Running(),
		"done":    status.Done(),
	}
	if code, ok := status.ExitCode(); ok {
		body["exit_code"] = code
	}
	if status.HasError() {
		body["error"] = status.Err().Error()
	}
	return body
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.sched.JobStatus(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobStatusBody(status))
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	status, err := s.sched.CancelJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobStatusBody(status))
}

type copyRequest struct {
	Source    string `json:"source"`
	Dest      string `json:"dest"`
	Mode      string `json:"mode"`
	Recursive bool   `json:"recursive"`
}

func parseCopyMode(mode string) (filesystem.CopyMode, bool) {
	switch mode {
	case "", "CREATE":
		return filesystem.CopyCreate, true
	case "REPLACE":
		return filesystem.CopyReplace, true
	case "IGNORE":
		return filesystem.CopyIgnore, true
	default:
		return filesystem.CopyCreate, false
	}
}

func (s *Server) handleStartCopy(w http.ResponseWriter, r *http.Request) {
	if s.fs == nil {
		s.writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "no filesystem attached"})
		return
	}

	var req copyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid copy request: " + err.Error()})
		return
	}

	mode, ok := parseCopyMode(req.Mode)
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid copy mode: " + req.Mode})
		return
	}

	copyID, err := s.fs.Copy(fspath.New(req.Source), s.fs, fspath.New(req.Dest), mode, req.Recursive)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"copy_id": copyID})
}

func copyStatusBody(status filesystem.CopyStatus) map[string]interface{} {
	body := map[string]interface{}{
		"copy_id":       status.CopyID(),
		"state":         status.State(),
		"bytes_to_copy": status.BytesToCopy(),
		"bytes_copied":  status.BytesCopied(),
	}
	if status.HasError() {
		body["error"] = status.Err().Error()
	}
	return body
}

func (s *Server) handleCopyStatus(w http.ResponseWriter, r *http.Request) {
	if s.fs == nil {
		s.writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "no filesystem attached"})
		return
	}

	status, err := s.fs.GetCopyStatus(chi.URLParam(r, "copyID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, copyStatusBody(status))
}

func (s *Server) handleCancelCopy(w http.ResponseWriter, r *http.Request) {
	if s.fs == nil {
		s.writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "no filesystem attached"})
		return
	}

	status, err := s.fs.CancelCopy(chi.URLParam(r, "copyID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, copyStatusBody(status))
}
