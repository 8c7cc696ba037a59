// Package api serves area summarization and run history over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/apportion/internal/apportion"
	"github.com/sells-group/apportion/internal/model"
	"github.com/sells-group/apportion/internal/store"
)

// MaxBodyBytes caps a summarize request body.
const MaxBodyBytes = 32 << 20

// Server holds the handlers' dependencies.
type Server struct {
	runs    store.Store
	origins []string
	log     *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithRunStore enables the run history endpoints.
func WithRunStore(s store.Store) Option {
	return func(srv *Server) { srv.runs = s }
}

// WithAllowedOrigins sets the CORS origins (default "*").
func WithAllowedOrigins(origins ...string) Option {
	return func(srv *Server) { srv.origins = origins }
}

// New creates a Server.
func New(opts ...Option) *Server {
	s := &Server{
		origins: []string{"*"},
		log:     zap.L().With(zap.String("component", "api")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/summaries", s.summarize)
		r.Get("/runs", s.listRuns)
		r.Get("/runs/{id}", s.getRun)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SummarizeRequest is the body of POST /v1/summaries.
type SummarizeRequest struct {
	Area   model.Area    `json:"area"`
	Blocks []model.Block `json:"blocks"`
	Method string        `json:"method"`
}

// SummarizeResponse carries the summary and the area with any fields the
// method assigned.
type SummarizeResponse struct {
	Summary *model.AreaSummary `json:"summary"`
	Area    model.Area         `json:"area"`
}

func (s *Server) summarize(w http.ResponseWriter, r *http.Request) {
	var req SummarizeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Area.ID == "" {
		writeError(w, http.StatusBadRequest, "area.id is required")
		return
	}

	method, err := apportion.ParseMethod(req.Method)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	summary, err := apportion.Summarize(&req.Area, req.Blocks, method)
	if err != nil {
		s.log.Info("area rejected", zap.String("area", req.Area.ID), zap.Error(err))
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, SummarizeResponse{Summary: summary, Area: req.Area})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is not configured")
		return
	}

	q := r.URL.Query()
	filter := store.RunFilter{
		Status: model.RunStatus(q.Get("status")),
		Method: q.Get("method"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid "+name)
				return
			}
			*dst = n
		}
	}

	runs, err := s.runs.ListRuns(r.Context(), filter)
	if err != nil {
		s.log.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// RunResponse is a run with its area summaries.
type RunResponse struct {
	Run       *model.Run          `json:"run"`
	Summaries []model.AreaSummary `json:"summaries"`
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is not configured")
		return
	}

	id := chi.URLParam(r, "id")
	run, err := s.runs.GetRun(r.Context(), id)
	if eris.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.log.Error("get run failed", zap.String("run", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	summaries, err := s.runs.Summaries(r.Context(), id)
	if err != nil {
		s.log.Error("list summaries failed", zap.String("run", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list summaries")
		return
	}
	if summaries == nil {
		summaries = []model.AreaSummary{}
	}
	writeJSON(w, http.StatusOK, RunResponse{Run: run, Summaries: summaries})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
