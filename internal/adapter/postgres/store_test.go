package postgres_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/VoiceForge/internal/adapter/postgres"
	"github.com/Strob0t/VoiceForge/internal/domain"
	"github.com/Strob0t/VoiceForge/internal/domain/defect"
	"github.com/Strob0t/VoiceForge/internal/domain/execution"
	"github.com/Strob0t/VoiceForge/internal/domain/review"
	"github.com/Strob0t/VoiceForge/internal/domain/scenario"
	"github.com/Strob0t/VoiceForge/internal/domain/validation"
	"github.com/Strob0t/VoiceForge/internal/middleware"
	"github.com/Strob0t/VoiceForge/internal/port/database"
)

var _ database.Store = (*postgres.Store)(nil)

// setupStore creates a pgxpool connection, runs all migrations, and returns a
// ready-to-use Store plus a context scoped to a fresh tenant. The pool is
// closed via t.Cleanup.
func setupStore(t *testing.T) (*postgres.Store, context.Context) {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return postgres.NewStore(pool), middleware.WithTenantID(ctx, uuid.NewString())
}

func seedExecution(t *testing.T, ctx context.Context, store *postgres.Store) *execution.Execution {
	t.Helper()
	e := &execution.Execution{ScenarioID: "weather", ScriptVersion: 1, Status: execution.StatusInProgress}
	if err := store.CreateExecution(ctx, e); err != nil {
		t.Fatalf("create execution: %v", err)
	}
	return e
}

func seedItem(t *testing.T, ctx context.Context, store *postgres.Store, e *execution.Execution, step, priority int, lang string) *review.QueueItem {
	t.Helper()
	rec := &validation.Record{
		ExecutionID: e.ID, ScenarioID: e.ScenarioID, StepPosition: step, Language: lang, Mode: validation.ModeHybrid,
		DeterministicState: validation.JudgeOK, LLMState: validation.JudgeOK,
		FinalDecision: validation.DecisionUncertain, ReviewStatus: validation.ReviewNeedsReview,
	}
	item := &review.QueueItem{Priority: priority, LanguageCode: lang}
	if err := store.CreateValidation(ctx, rec, item); err != nil {
		t.Fatalf("create validation: %v", err)
	}
	return item
}

func TestScenarioVersions(t *testing.T) {
	store, ctx := setupStore(t)

	sc := &scenario.Script{ID: "weather-" + uuid.NewString()[:8], Name: "weather", Steps: []scenario.Step{{Position: 0, Utterance: "hi"}}}
	if err := store.CreateScenario(ctx, sc); err != nil {
		t.Fatalf("create: %v", err)
	}
	sc.Steps = append(sc.Steps, scenario.Step{Position: 1, Utterance: "bye"})
	if err := store.CreateScenario(ctx, sc); err != nil {
		t.Fatalf("create v2: %v", err)
	}
	if sc.Version != 2 {
		t.Fatalf("expected version 2, got %d", sc.Version)
	}

	latest, err := store.GetScenario(ctx, sc.ID)
	if err != nil || latest.Version != 2 || len(latest.Steps) != 2 {
		t.Fatalf("latest: %+v, %v", latest, err)
	}
	v1, err := store.GetScenarioVersion(ctx, sc.ID, 1)
	if err != nil || len(v1.Steps) != 1 {
		t.Fatalf("v1: %+v, %v", v1, err)
	}

	other := middleware.WithTenantID(context.Background(), uuid.NewString())
	if _, err := store.GetScenario(other, sc.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other tenant, got %v", err)
	}
}

func TestExecutionRoundTrip(t *testing.T) {
	store, ctx := setupStore(t)
	e := seedExecution(t, ctx, store)

	e.State.ConversationID = "c1"
	e.State.TurnCount = 2
	e.CurrentStep = 1
	now := time.Now()
	e.Finish(execution.StatusCompleted, "", now)
	if err := store.UpdateExecution(ctx, e); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := store.GetExecution(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != execution.StatusCompleted || got.State.ConversationID != "c1" || got.CompletedAt == nil {
		t.Fatalf("unexpected execution %+v", got)
	}

	if _, err := store.GetExecution(ctx, "not-a-uuid"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExecutionLease(t *testing.T) {
	store, ctx := setupStore(t)
	e := seedExecution(t, ctx, store)
	now := time.Now()

	ok, err := store.AcquireExecutionLease(ctx, e.ID, "runner-a", now, now.Add(time.Minute))
	if err != nil || !ok {
		t.Fatalf("first lease: %v, %v", ok, err)
	}

	var wg sync.WaitGroup
	wins := make(chan bool, 4)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.AcquireExecutionLease(ctx, e.ID, uuid.NewString(), now, now.Add(time.Minute))
			if err != nil {
				t.Errorf("lease: %v", err)
			}
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)
	for ok := range wins {
		if ok {
			t.Fatal("a held lease was taken")
		}
	}

	if ok, _ := store.AcquireExecutionLease(ctx, e.ID, "runner-b", now.Add(2*time.Minute), now.Add(3*time.Minute)); !ok {
		t.Fatal("expected an expired lease to be taken over")
	}
	if err := store.ReleaseExecutionLease(ctx, e.ID, "runner-b"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := store.AcquireExecutionLease(ctx, e.ID, "runner-c", now, now.Add(time.Minute)); !ok {
		t.Fatal("expected a released lease to be free")
	}
	if _, err := store.AcquireExecutionLease(ctx, uuid.NewString(), "runner-a", now, now); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOneRecordPerTurn(t *testing.T) {
	store, ctx := setupStore(t)
	e := seedExecution(t, ctx, store)

	seedItem(t, ctx, store, e, 0, 1, "en-US")
	dup := &validation.Record{
		ExecutionID: e.ID, ScenarioID: e.ScenarioID, StepPosition: 0, Language: "en-US", Mode: validation.ModeHybrid,
		DeterministicState: validation.JudgeOK, LLMState: validation.JudgeOK,
		FinalDecision: validation.DecisionPass, ReviewStatus: validation.ReviewAutoPass,
	}
	if err := store.CreateValidation(ctx, dup, &review.QueueItem{Priority: 1, LanguageCode: "en-US"}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	st, err := store.QueueStats(ctx)
	if err != nil || st.Pending != 1 {
		t.Fatalf("stats: %+v, %v", st, err)
	}

	result := func() *execution.StepResult {
		return &execution.StepResult{ExecutionID: e.ID, StepPosition: 0, Language: "en-US", Utterance: "hi"}
	}
	if err := store.CreateStepResult(ctx, result()); err != nil {
		t.Fatalf("create step result: %v", err)
	}
	if err := store.CreateStepResult(ctx, result()); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestQueueOrderingAndCAS(t *testing.T) {
	store, ctx := setupStore(t)
	e := seedExecution(t, ctx, store)

	var items []*review.QueueItem
	for step, p := range []int{5, 1, 2, 1} {
		items = append(items, seedItem(t, ctx, store, e, step, p, "en-US"))
	}

	next, err := store.NextQueueItem(ctx, "", "")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next.ID != items[1].ID {
		t.Fatalf("expected first priority-1 item, got priority %d", next.Priority)
	}

	var wg sync.WaitGroup
	wins := make(chan bool, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.ClaimQueueItem(ctx, next.ID, uuid.NewString(), time.Now())
			if err != nil {
				t.Errorf("claim: %v", err)
			}
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)
	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", won)
	}

	n, err := store.ReleaseExpiredClaims(ctx, time.Now().Add(time.Minute))
	if err != nil || n < 1 {
		t.Fatalf("release expired: %d, %v", n, err)
	}
	st, err := store.QueueStats(ctx)
	if err != nil || st.Pending != 4 {
		t.Fatalf("stats: %+v, %v", st, err)
	}
}

func TestObserveStreakFilesDefect(t *testing.T) {
	store, ctx := setupStore(t)

	obs := defect.Observation{ScenarioID: "weather", Language: "en-US", Failed: true, Threshold: 3}
	for i := range 3 {
		st, d, err := store.ObserveStreak(ctx, obs)
		if err != nil {
			t.Fatalf("observe %d: %v", i, err)
		}
		if i < 2 && (d != nil || st.Count != i+1) {
			t.Fatalf("observe %d: count %d, defect %v", i, st.Count, d)
		}
		if i == 2 && (d == nil || d.StreakLength != 3 || st.Count != 0) {
			t.Fatalf("expected defect at threshold, got %+v / %+v", st, d)
		}
	}

	defects, err := store.ListDefects(ctx, "weather")
	if err != nil || len(defects) != 1 {
		t.Fatalf("defects: %v, %v", defects, err)
	}
}
