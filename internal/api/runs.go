package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/QTest-hq/qtest-engine/internal/reporting"
)

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyCheck(w http.ResponseWriter, r *http.Request) {
	failing := make(map[string]string)
	for _, c := range s.checks {
		if err := c.check.HealthCheck(); err != nil {
			failing[c.name] = err.Error()
		}
	}

	if len(failing) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not ready",
			"checks": failing,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// runListItem is the summary row returned by GET /api/v1/runs
type runListItem struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Status  reporting.Status  `json:"status"`
	Summary reporting.Summary `json:"summary"`
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs := s.runs.Runs()
	items := make([]runListItem, 0, len(runs))
	for _, run := range runs {
		items = append(items, runListItem{
			ID:      run.ID,
			Name:    run.Name,
			Status:  run.Status,
			Summary: run.Summary,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": items})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Run(chi.URLParam(r, "runID"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) getRunTests(w http.ResponseWriter, r *http.Request) {
	tests, err := s.runs.Tests(chi.URLParam(r, "runID"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tests": tests})
}

func (s *Server) getRunReport(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Run(chi.URLParam(r, "runID"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reporting.BuildExecutionReport(run))
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, reporting.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Error().Err(err).Msg("failed to read run")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
