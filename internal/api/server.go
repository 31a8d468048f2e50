package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/webaudit/internal/audit"
	"github.com/JakeFAU/webaudit/internal/metrics"
	"github.com/JakeFAU/webaudit/internal/service"
)

// Auditing is the subset of the audit service the HTTP layer needs.
type Auditing interface {
	Submit(ctx context.Context, rawURL string) (service.Submission, error)
	Job(ctx context.Context, id string) (audit.Job, error)
	Report(ctx context.Context, id string) (audit.Report, error)
}

// Config controls the HTTP surface.
type Config struct {
	// Origin prefixes Location headers, e.g. https://audit.example.com.
	Origin         string
	APIKey         string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Options carries optional collaborators.
type Options struct {
	Metrics *metrics.Metrics
	// Artifacts serves stored screenshots under /artifacts/ when set.
	Artifacts http.Handler
	// Ready reports downstream readiness for /readyz.
	Ready func(ctx context.Context) error
}

// Server wires HTTP handlers to the audit service.
type Server struct {
	router chi.Router
	svc    Auditing
	cfg    Config
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc Auditing, cfg Config, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	cfg.Origin = strings.TrimRight(cfg.Origin, "/")

	s := &Server{svc: svc, cfg: cfg, opts: opts, logger: logger}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(opts.Metrics.Middleware)
	r.Use(corsMiddleware(cfg.AllowedOrigins))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", opts.Metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/reports", func(r chi.Router) {
			r.Post("/", s.submit)
			r.Get("/job/{id}", s.jobStatus)
			r.Get("/{id}", s.report)
		})
		if opts.Artifacts != nil {
			r.Handle("/artifacts/*", http.StripPrefix("/artifacts/", opts.Artifacts))
		}
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitRequest struct {
	URL string `json:"url"`
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		s.writeError(w, http.StatusBadRequest, "url required")
		return
	}

	sub, err := s.svc.Submit(r.Context(), req.URL)
	if err != nil {
		if errors.Is(err, audit.ErrInvalidURL) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, audit.ErrBlockedHost) {
			s.writeError(w, http.StatusForbidden, err.Error())
			return
		}
		s.logger.Error("submit audit failed", zap.String("url", req.URL), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "submit failed")
		return
	}

	if sub.Cached() {
		w.Header().Set("Location", s.location("/reports/"+sub.ReportID))
		s.writeJSON(w, http.StatusSeeOther, map[string]string{"report_id": sub.ReportID})
		return
	}
	w.Header().Set("Location", s.location("/reports/job/"+sub.JobID))
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": sub.JobID})
}

func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Report(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, "report", err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.Job(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, "job", err)
		return
	}
	switch job.Status {
	case audit.JobStatusSucceeded:
		w.Header().Set("Location", s.location("/reports/"+job.ReportID))
		s.writeJSON(w, http.StatusSeeOther, map[string]string{"status": "succeeded", "report_id": job.ReportID})
	case audit.JobStatusFailed:
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "failed", "error": job.Error})
	default:
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "processing"})
	}
}

func (s *Server) storeError(w http.ResponseWriter, kind string, err error) {
	if errors.Is(err, audit.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, kind+" not found")
		return
	}
	s.logger.Error("lookup failed", zap.String("kind", kind), zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, "lookup failed")
}

func (s *Server) location(path string) string {
	return s.cfg.Origin + path
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
