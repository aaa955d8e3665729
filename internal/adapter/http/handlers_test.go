package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfhttp "github.com/Strob0t/VoiceForge/internal/adapter/http"
	"github.com/Strob0t/VoiceForge/internal/adapter/memory"
	"github.com/Strob0t/VoiceForge/internal/config"
	"github.com/Strob0t/VoiceForge/internal/domain/execution"
	"github.com/Strob0t/VoiceForge/internal/domain/review"
	"github.com/Strob0t/VoiceForge/internal/domain/scenario"
	"github.com/Strob0t/VoiceForge/internal/domain/validation"
	"github.com/Strob0t/VoiceForge/internal/middleware"
	"github.com/Strob0t/VoiceForge/internal/port/judge"
	"github.com/Strob0t/VoiceForge/internal/port/speech"
	"github.com/Strob0t/VoiceForge/internal/service"
)

type stubPlatform struct{}

func (stubPlatform) Query(_ context.Context, req speech.Request) (*speech.Response, error) {
	return &speech.Response{
		Transcript:     req.Utterance,
		SpokenResponse: "It is sunny.",
		Classification: "WeatherCommand",
		Confidence:     0.93,
		State:          map[string]any{"conversation_id": "c-1"},
	}, nil
}

type stubEnsemble struct {
	decision validation.LLMDecision
}

func (s stubEnsemble) Evaluate(context.Context, judge.BehavioralRequest) (*judge.BehavioralVerdict, error) {
	return &judge.BehavioralVerdict{Decision: s.decision, Score: 0.6, Confidence: validation.ConfidenceMedium}, nil
}

func newTestRouter(t *testing.T, llm validation.LLMDecision) http.Handler {
	t.Helper()
	cfg := config.Defaults()
	cfg.Review.CalibrationRate = 0

	store := memory.NewStore()
	scenarios := service.NewScenarioService(store, memory.NewCache(), time.Minute)
	reviews := service.NewReviewQueueService(store, cfg.Review, nil)
	streaks := service.NewDefectStreakService(store, nil, nil, cfg.Defects)
	combiner := service.NewDecisionCombiner(service.RuleJudge{}, stubEnsemble{decision: llm}, time.Second)
	orch := service.NewOrchestratorService(store, scenarios, stubPlatform{}, combiner, reviews, streaks, cfg.Engine, cfg.Speech)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.TenantID)
	cfhttp.MountRoutes(r, &cfhttp.Handlers{
		Scenarios:    scenarios,
		Orchestrator: orch,
		Reviews:      reviews,
		Streaks:      streaks,
	})
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func weatherBody() map[string]any {
	return map[string]any{
		"id":               "weather",
		"name":             "weather check",
		"primary_language": "en-US",
		"steps": []map[string]any{
			{
				"utterance": "What's the weather?",
				"expected":  map[string]any{"classification": "WeatherCommand"},
			},
		},
	}
}

func TestCreateScenarioVersions(t *testing.T) {
	h := newTestRouter(t, validation.LLMPass)

	rec := do(t, h, http.MethodPost, "/api/v1/scenarios", weatherBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[scenario.Script](t, rec)
	assert.Equal(t, 1, first.Version)

	rec = do(t, h, http.MethodPost, "/api/v1/scenarios", weatherBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 2, decode[scenario.Script](t, rec).Version)

	rec = do(t, h, http.MethodGet, "/api/v1/scenarios/weather", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[scenario.Script](t, rec).Version)

	rec = do(t, h, http.MethodGet, "/api/v1/scenarios/weather/versions/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[scenario.Script](t, rec).Version)

	rec = do(t, h, http.MethodGet, "/api/v1/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]scenario.Script](t, rec), 1)
}

func TestScenarioErrors(t *testing.T) {
	h := newTestRouter(t, validation.LLMPass)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"missing scenario", http.MethodGet, "/api/v1/scenarios/nope", nil, http.StatusNotFound},
		{"bad version", http.MethodGet, "/api/v1/scenarios/weather/versions/zero", nil, http.StatusBadRequest},
		{"invalid json", http.MethodPost, "/api/v1/scenarios", "{", http.StatusBadRequest},
		{"no steps", http.MethodPost, "/api/v1/scenarios", map[string]any{"name": "empty"}, http.StatusBadRequest},
		{"invalid yaml", http.MethodPost, "/api/v1/scenarios/import", "steps: [", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestImportScenarioYAML(t *testing.T) {
	h := newTestRouter(t, validation.LLMPass)

	yml := `
id: lights
name: lights on
steps:
  - utterance: turn on the lights
    expected:
      classification: LightsCommand
`
	rec := do(t, h, http.MethodPost, "/api/v1/scenarios/import", yml)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sc := decode[scenario.Script](t, rec)
	assert.Equal(t, "lights", sc.ID)
	assert.Len(t, sc.Steps, 1)
}

func TestExecuteAndInspect(t *testing.T) {
	h := newTestRouter(t, validation.LLMPass)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/scenarios", weatherBody()).Code)

	rec := do(t, h, http.MethodPost, "/api/v1/executions", map[string]any{"scenario_id": "weather", "wait": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	handle := decode[execution.Handle](t, rec)
	assert.Equal(t, execution.StatusCompleted, handle.Status)

	rec = do(t, h, http.MethodGet, "/api/v1/executions/"+handle.ExecutionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[execution.Summary](t, rec)
	require.Len(t, sum.Steps, 1)
	assert.True(t, sum.Steps[0].Passed)

	rec = do(t, h, http.MethodGet, "/api/v1/executions/"+handle.ExecutionID+"/validations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	recs := decode[[]validation.Record](t, rec)
	require.Len(t, recs, 1)
	assert.Equal(t, validation.ReviewAutoPass, recs[0].ReviewStatus)

	rec = do(t, h, http.MethodGet, "/api/v1/executions?scenario_id=weather", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]execution.Execution](t, rec), 1)

	rec = do(t, h, http.MethodPost, "/api/v1/executions/"+handle.ExecutionID+"/resume", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestExecuteErrors(t *testing.T) {
	h := newTestRouter(t, validation.LLMPass)

	rec := do(t, h, http.MethodPost, "/api/v1/executions", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/executions", map[string]any{"scenario_id": "ghost", "wait": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/executions/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/executions/ghost/validations", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReviewWorkflow(t *testing.T) {
	h := newTestRouter(t, validation.LLMNeedsReview)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/scenarios", weatherBody()).Code)
	require.Equal(t, http.StatusOK,
		do(t, h, http.MethodPost, "/api/v1/executions", map[string]any{"scenario_id": "weather", "wait": true}).Code)

	rec := do(t, h, http.MethodGet, "/api/v1/review/next?reviewer_id=alice&language=en-GB", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	item := decode[review.QueueItem](t, rec)
	assert.Equal(t, "en-US", item.LanguageCode)
	itemPath := "/api/v1/review/items/" + item.ID

	rec = do(t, h, http.MethodGet, itemPath, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[review.Detail](t, rec)
	assert.Equal(t, validation.ReviewNeedsReview, detail.Record.ReviewStatus)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, itemPath+"/claim", map[string]any{}).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, itemPath+"/claim", map[string]any{"reviewer_id": "alice"}).Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, itemPath+"/claim", map[string]any{"reviewer_id": "bob"}).Code)

	rec = do(t, h, http.MethodPost, itemPath+"/complete", map[string]any{"reviewer_id": "bob", "verdict": "pass"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = do(t, h, http.MethodPost, itemPath+"/complete", map[string]any{"reviewer_id": "alice", "verdict": "maybe"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPost, itemPath+"/complete", map[string]any{"reviewer_id": "alice", "verdict": "fail", "notes": "wrong city"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/v1/review/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[review.Stats](t, rec)
	assert.Equal(t, review.Stats{Completed: 1}, stats)

	rec = do(t, h, http.MethodGet, "/api/v1/review/next?reviewer_id=alice", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestReviewItemNotFound(t *testing.T) {
	h := newTestRouter(t, validation.LLMPass)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/review/items/ghost", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/v1/review/items/ghost/release", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/review/next", nil).Code)

	rec := do(t, h, http.MethodPost, "/api/v1/review/items", map[string]any{"validation_record_id": "ghost", "priority": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/v1/review/items", map[string]any{"validation_record_id": "ghost"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "priority"))
}

func TestDefectsEmptyList(t *testing.T) {
	h := newTestRouter(t, validation.LLMPass)

	rec := do(t, h, http.MethodGet, "/api/v1/defects", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/v1/scenarios/weather/streaks/en-US", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestTenantHeaderValidated(t *testing.T) {
	h := newTestRouter(t, validation.LLMPass)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/scenarios", nil)
	req.Header.Set("X-Tenant-ID", "not-a-uuid")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
