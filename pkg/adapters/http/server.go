// Package http exposes canvases, patches and agent turns over HTTP.
//
// Agent turns stream newline-delimited JSON frames. Lock status changes
// stream as server-sent events carrying LOCK_STATUS frames.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/easel/internal/logging"
	"github.com/aretw0/easel/pkg/agent"
	"github.com/aretw0/easel/pkg/canvas"
	"github.com/aretw0/easel/pkg/lock"
	"github.com/aretw0/easel/pkg/observability"
	"github.com/aretw0/easel/pkg/patch"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 4 << 20

// Server serves the canvas API.
type Server struct {
	canvases *canvas.Service
	patches  *patch.Manager
	agent    *agent.Orchestrator
	locks    *lock.Manager

	version string
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures the Server.
type Option func(*Server)

// WithLogger configures a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics exposes metrics at /metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Server) {
		s.metrics = metrics
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = strings.TrimSpace(version)
	}
}

// NewServer creates a Server.
func NewServer(canvases *canvas.Service, patches *patch.Manager, orch *agent.Orchestrator, locks *lock.Manager, opts ...Option) *Server {
	s := &Server{
		canvases: canvases,
		patches:  patches,
		agent:    orch,
		locks:    locks,
		version:  "dev",
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.getHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	r.Get("/templates", s.listTemplates)

	r.Route("/canvas", func(r chi.Router) {
		r.Get("/", s.listCanvases)
		r.Post("/", s.createCanvas)
		r.Route("/{canvasID}", func(r chi.Router) {
			r.Get("/", s.getCanvas)
			r.Patch("/", s.bulkUpdate)
			r.Delete("/", s.deleteCanvas)

			r.Route("/agent", func(r chi.Router) {
				r.Get("/status", s.lockStatus)
				r.Get("/events", s.lockEvents)
				r.Post("/cancel", s.cancelTurn)
				r.Post("/dry-run", s.dryRun)
				r.Post("/{sessionID}", s.agentTurn)
				r.Post("/{sessionID}/program", s.submitProgram)
			})
		})
	})

	r.Route("/patches/{patchID}", func(r chi.Router) {
		r.Get("/", s.getPatch)
		r.Post("/preview", s.previewPatch)
		r.Post("/accept", s.acceptPatch)
		r.Post("/reject", s.rejectPatch)
	})

	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/history", s.sessionHistory)
		r.Get("/patches", s.sessionPatches)
	})

	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.canvases.Catalog().List())
}

// -- Canvases --

type createCanvasRequest struct {
	Name    string `json:"name"`
	OwnerID string `json:"ownerId"`
}

func (s *Server) listCanvases(w http.ResponseWriter, r *http.Request) {
	list, err := s.canvases.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) createCanvas(w http.ResponseWriter, r *http.Request) {
	var body createCanvasRequest
	if !s.decode(w, r, &body) {
		return
	}
	c, err := s.canvases.Create(r.Context(), body.Name, body.OwnerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, c)
}

func (s *Server) getCanvas(w http.ResponseWriter, r *http.Request) {
	g, err := s.canvases.Get(r.Context(), chi.URLParam(r, "canvasID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

func (s *Server) bulkUpdate(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if !s.decode(w, r, &body) {
		return
	}
	canvasID := chi.URLParam(r, "canvasID")
	res, err := s.canvases.BulkUpdate(r.Context(), canvasID, body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("Canvas updated", "canvas_id", canvasID, "summary", res.String())
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) deleteCanvas(w http.ResponseWriter, r *http.Request) {
	if err := s.canvases.Delete(r.Context(), chi.URLParam(r, "canvasID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// -- Patches --

type acceptResponse struct {
	Patch  any            `json:"patch"`
	Result *canvas.Result `json:"result"`
}

func (s *Server) getPatch(w http.ResponseWriter, r *http.Request) {
	p, err := s.patches.Get(r.Context(), chi.URLParam(r, "patchID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) previewPatch(w http.ResponseWriter, r *http.Request) {
	pv, err := s.patches.Preview(r.Context(), chi.URLParam(r, "patchID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pv)
}

func (s *Server) acceptPatch(w http.ResponseWriter, r *http.Request) {
	p, res, err := s.patches.Accept(r.Context(), chi.URLParam(r, "patchID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, acceptResponse{Patch: p, Result: res})
}

func (s *Server) rejectPatch(w http.ResponseWriter, r *http.Request) {
	p, err := s.patches.Reject(r.Context(), chi.URLParam(r, "patchID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

// -- Sessions --

func (s *Server) sessionHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := s.agent.History(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, hist)
}

func (s *Server) sessionPatches(w http.ResponseWriter, r *http.Request) {
	list, err := s.patches.ListBySession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

// -- Helpers --

// decode reads a JSON body into dst, answering 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.logger.Warn("Invalid request body", "path", r.URL.Path, "err", err)
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error(), Code: "invalid_body"})
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encode failed", "err", err)
	}
}
