package http

import (
	"net/http"

	"github.com/Strob0t/VoiceForge/internal/domain/execution"
	"github.com/Strob0t/VoiceForge/internal/service"
)

// executeRequest is the body of POST /api/v1/executions. Wait runs the
// execution inside the request instead of handing it to a worker.
type executeRequest struct {
	ScenarioID string   `json:"scenario_id"`
	Languages  []string `json:"languages,omitempty"`
	Wait       bool     `json:"wait,omitempty"`
}

// ExecuteScenario handles POST /api/v1/executions
func (h *Handlers) ExecuteScenario(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[executeRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.ScenarioID, "scenario_id") {
		return
	}

	if req.Wait || h.Dispatch == nil {
		e, err := h.Orchestrator.Execute(r.Context(), service.ExecuteRequest{
			ScenarioID: req.ScenarioID,
			Languages:  req.Languages,
		})
		if err != nil {
			writeDomainError(w, err, "scenario not found")
			return
		}
		writeJSON(w, http.StatusOK, e.Handle())
		return
	}

	handle, err := h.Dispatch.ExecuteScenario(r.Context(), req.ScenarioID, req.Languages)
	if err != nil {
		writeDomainError(w, err, "scenario not found")
		return
	}
	writeJSON(w, http.StatusAccepted, handle)
}

// GetExecution handles GET /api/v1/executions/{id}
func (h *Handlers) GetExecution(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Orchestrator.Summary(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "execution not found")
		return
	}
	if sum.Steps == nil {
		sum.Steps = []execution.StepResult{}
	}
	writeJSON(w, http.StatusOK, sum)
}

// ResumeExecution handles POST /api/v1/executions/{id}/resume
func (h *Handlers) ResumeExecution(w http.ResponseWriter, r *http.Request) {
	e, err := h.Orchestrator.Resume(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "execution not found")
		return
	}
	writeJSON(w, http.StatusOK, e.Handle())
}
