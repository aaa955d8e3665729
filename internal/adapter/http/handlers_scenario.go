package http

import (
	"net/http"

	"github.com/Strob0t/VoiceForge/internal/domain/scenario"
)

// CreateScenario handles POST /api/v1/scenarios
// Posting an existing ID stores a new version.
func (h *Handlers) CreateScenario(w http.ResponseWriter, r *http.Request) {
	sc, ok := readJSON[scenario.Script](w, r)
	if !ok {
		return
	}
	if err := h.Scenarios.Create(r.Context(), &sc); err != nil {
		writeDomainError(w, err, "scenario not found")
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

// ImportScenario handles POST /api/v1/scenarios/import with a YAML body.
func (h *Handlers) ImportScenario(w http.ResponseWriter, r *http.Request) {
	data, ok := readBody(w, r)
	if !ok {
		return
	}
	sc, err := h.Scenarios.Import(r.Context(), data)
	if err != nil {
		writeDomainError(w, err, "scenario not found")
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

// GetScenarioVersion handles GET /api/v1/scenarios/{id}/versions/{version}
func (h *Handlers) GetScenarioVersion(w http.ResponseWriter, r *http.Request) {
	version, ok := intParam(w, r, "version")
	if !ok {
		return
	}
	sc, err := h.Scenarios.GetVersion(r.Context(), urlParam(r, "id"), version)
	if err != nil {
		writeDomainError(w, err, "scenario version not found")
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// GetStreak handles GET /api/v1/scenarios/{id}/streaks/{language}
func (h *Handlers) GetStreak(w http.ResponseWriter, r *http.Request) {
	st, err := h.Streaks.GetStreak(r.Context(), urlParam(r, "id"), urlParam(r, "language"))
	if err != nil {
		writeDomainError(w, err, "streak not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}
