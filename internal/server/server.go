// Package server exposes tracker state to outer tooling over HTTP.
//
// The API is read-mostly: it reports tracker snapshots discovered under the
// processed-data root, plus the single recovery verb (reset) that operators
// would otherwise run through the CLI. It never starts or advances
// pipelines; pipeline execution stays with the manager process.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mesolab/batchkeeper/pkg/discover"
	"github.com/mesolab/batchkeeper/pkg/tracker"
)

// Server serves the tracker status API.
type Server struct {
	host          string
	port          int
	processedRoot string
	lockTimeout   time.Duration
	log           *zap.Logger
	router        chi.Router
}

// New builds a Server over the given processed-data root.
func New(host string, port int, processedRoot string, lockTimeout time.Duration, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		host:          host,
		port:          port,
		processedRoot: processedRoot,
		lockTimeout:   lockTimeout,
		log:           log,
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler for mounting or testing.
func (s *Server) Handler() http.Handler { return s.router }

// Addr returns the listen address.
func (s *Server) Addr() string { return fmt.Sprintf("%s:%d", s.host, s.port) }

// ListenAndServe blocks serving the API.
func (s *Server) ListenAndServe() error {
	s.log.Info("status server listening", zap.String("addr", s.Addr()))
	return http.ListenAndServe(s.Addr(), s.router)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/v1/trackers", s.handleList)
	r.Route("/v1/sessions/{project}/{animal}/{session}/trackers/{kind}", func(r chi.Router) {
		r.Get("/", s.handleGet)
		r.Post("/reset", s.handleReset)
	})
	return r
}

// trackerView is the wire form of one tracker snapshot.
type trackerView struct {
	Path          string `json:"path,omitempty"`
	Kind          string `json:"kind"`
	Running       bool   `json:"running"`
	Complete      bool   `json:"complete"`
	Error         bool   `json:"error"`
	Manager       int    `json:"manager"`
	JobCount      int    `json:"job_count"`
	CompletedJobs int    `json:"completed_jobs"`
}

func viewOf(kind tracker.Kind, path string, st tracker.State) trackerView {
	return trackerView{
		Path:          path,
		Kind:          string(kind),
		Running:       st.Running,
		Complete:      st.Complete,
		Error:         st.Error,
		Manager:       st.Manager,
		JobCount:      st.JobCount,
		CompletedJobs: st.CompletedJobs,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	summaries, err := discover.Scan(s.processedRoot, pattern, tracker.WithLockTimeout(s.lockTimeout))
	if err != nil {
		s.respondError(w, r, http.StatusInternalServerError, err)
		return
	}
	views := make([]trackerView, 0, len(summaries))
	for _, sum := range summaries {
		views = append(views, viewOf(sum.Kind, sum.Path, sum.State))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) trackerFor(r *http.Request) (*tracker.Tracker, tracker.Kind, error) {
	kind, err := tracker.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return nil, "", err
	}
	dir := filepath.Join(s.processedRoot,
		chi.URLParam(r, "project"), chi.URLParam(r, "animal"), chi.URLParam(r, "session"),
		"processed_data")
	return tracker.ForKind(dir, kind, tracker.WithLockTimeout(s.lockTimeout)), kind, nil
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	tr, kind, err := s.trackerFor(r)
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, err)
		return
	}
	st, err := tr.Peek()
	if err != nil {
		s.respondError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(kind, "", st))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	tr, kind, err := s.trackerFor(r)
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := tr.Reset(); err != nil {
		s.respondError(w, r, http.StatusInternalServerError, err)
		return
	}
	s.log.Info("tracker reset via API",
		zap.String("kind", string(kind)),
		zap.String("path", tr.Path()))
	st, err := tr.Peek()
	if err != nil {
		s.respondError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(kind, "", st))
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, status int, err error) {
	s.log.Warn("request failed",
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err))
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
