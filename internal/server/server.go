// Package server exposes the valuation pipeline over HTTP: report creation,
// the advance/status poll loop, regeneration, and cancellation. Handlers are
// thin; all behavior lives in the orchestrator.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/valuation-pipeline/internal/model"
	"github.com/sells-group/valuation-pipeline/internal/pipeline"
)

// Server routes HTTP requests to the orchestrator.
type Server struct {
	orch *pipeline.Orchestrator
}

// New builds the API router.
func New(orch *pipeline.Orchestrator, allowedOrigins []string) http.Handler {
	s := &Server{orch: orch}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.health)
	r.Route("/reports", func(r chi.Router) {
		r.Post("/", s.createReport)
		r.Get("/{id}/status", s.status)
		r.Post("/{id}/advance", s.advance)
		r.Post("/{id}/regenerate", s.regenerate)
		r.Post("/{id}/cancel", s.cancel)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createReport(w http.ResponseWriter, r *http.Request) {
	var intake model.Intake
	if err := json.NewDecoder(r.Body).Decode(&intake); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	report, err := s.orch.Create(r.Context(), intake)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"report_id": report.ID,
		"status":    report.Status,
	})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	proj, err := s.orch.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

// advance makes one unit of progress. A gate-blocked finalization is a 422
// carrying the full gate diagnostics; everything else that advanced, a 200.
func (s *Server) advance(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.Advance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	if res.Status == pipeline.StatusBlocked {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// regenerate re-runs the engine, reconciliation, and gates from stored pass
// outputs. Missing outputs are a 400 (nothing to compute from); a gate block
// is a 422; success embeds the regenerated document.
func (s *Server) regenerate(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.Regenerate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	switch {
	case !res.Success && len(res.MissingPasses) > 0:
		writeJSON(w, http.StatusBadRequest, res)
	case !res.Success:
		writeJSON(w, http.StatusUnprocessableEntity, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.orch.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"report_id": id,
		"status":    string(model.ReportStatusCancelled),
	})
}

func writeOrchestratorError(w http.ResponseWriter, err error) {
	if errors.Is(err, pipeline.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	zap.L().Error("server: handler error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
