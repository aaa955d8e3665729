package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/VoiceForge/internal/service"
)

// Handlers holds the services the REST API delegates to.
type Handlers struct {
	Scenarios    *service.ScenarioService
	Orchestrator *service.OrchestratorService
	Dispatch     *service.DispatchService
	Reviews      *service.ReviewQueueService
	Streaks      *service.DefectStreakService
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Scenarios
		r.Get("/scenarios", handleList(h.Scenarios.List))
		r.Post("/scenarios", h.CreateScenario)
		r.Post("/scenarios/import", h.ImportScenario)
		r.Get("/scenarios/{id}", handleGet(h.Scenarios.Get, "scenario not found"))
		r.Get("/scenarios/{id}/versions/{version}", h.GetScenarioVersion)
		r.Get("/scenarios/{id}/defects", handleListByParam("id", h.Streaks.ListDefects, "scenario not found"))
		r.Get("/scenarios/{id}/streaks/{language}", h.GetStreak)

		// Executions
		r.Post("/executions", h.ExecuteScenario)
		r.Get("/executions", handleListByQuery("scenario_id", h.Orchestrator.List))
		r.Get("/executions/{id}", h.GetExecution)
		r.Get("/executions/{id}/validations", handleListByParam("id", h.Orchestrator.Validations, "execution not found"))
		r.Post("/executions/{id}/resume", h.ResumeExecution)

		// Review queue
		r.Get("/review/next", h.NextReviewItem)
		r.Get("/review/stats", h.ReviewStats)
		r.Post("/review/items", h.EnqueueReviewItem)
		r.Get("/review/items/{id}", handleGet(h.Reviews.Detail, "review item not found"))
		r.Post("/review/items/{id}/claim", h.ClaimReviewItem)
		r.Post("/review/items/{id}/release", h.ReleaseReviewItem)
		r.Post("/review/items/{id}/complete", h.CompleteReviewItem)

		// Defects
		r.Get("/defects", handleListByQuery("scenario_id", h.Streaks.ListDefects))
	})
}
