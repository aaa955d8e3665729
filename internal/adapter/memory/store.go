// Package memory implements the database ports in process memory. It
// honours the same atomicity contracts as the Postgres adapter by holding a
// single mutex per operation, and backs tests and one-shot CLI runs.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/VoiceForge/internal/domain"
	"github.com/Strob0t/VoiceForge/internal/domain/defect"
	"github.com/Strob0t/VoiceForge/internal/domain/execution"
	"github.com/Strob0t/VoiceForge/internal/domain/review"
	"github.com/Strob0t/VoiceForge/internal/domain/scenario"
	"github.com/Strob0t/VoiceForge/internal/domain/validation"
	"github.com/Strob0t/VoiceForge/internal/middleware"
)

// Store is an in-memory database.Store.
type Store struct {
	mu sync.Mutex

	scenarios   map[string][]scenario.Script // tenant/id -> versions, oldest first
	executions  map[string]*execution.Execution
	leases      map[string]lease                  // execution id
	stepResults map[string][]execution.StepResult // execution id
	validations map[string]*validation.Record
	queue       map[string]*queueEntry
	streaks     map[string]*defect.Streak
	defects     []defect.Defect

	seq int64
	now func() time.Time

	// FailNextWrite makes the next write fail, for exercising persistence
	// error paths.
	FailNextWrite error
}

type lease struct {
	owner string
	until time.Time
}

type queueEntry struct {
	item review.QueueItem
	seq  int64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		scenarios:   make(map[string][]scenario.Script),
		executions:  make(map[string]*execution.Execution),
		leases:      make(map[string]lease),
		stepResults: make(map[string][]execution.StepResult),
		validations: make(map[string]*validation.Record),
		queue:       make(map[string]*queueEntry),
		streaks:     make(map[string]*defect.Streak),
		now:         time.Now,
	}
}

// SetClock overrides the store's clock.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func tenant(ctx context.Context) string {
	return middleware.TenantIDFromContext(ctx)
}

func key(parts ...string) string {
	k := parts[0]
	for _, p := range parts[1:] {
		k += "/" + p
	}
	return k
}

// failWrite must be called with s.mu held.
func (s *Store) failWrite() error {
	if err := s.FailNextWrite; err != nil {
		s.FailNextWrite = nil
		return err
	}
	return nil
}

// --- Scenarios ---

func (s *Store) CreateScenario(ctx context.Context, sc *scenario.Script) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failWrite(); err != nil {
		return fmt.Errorf("create scenario: %w", err)
	}

	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	sc.TenantID = tenant(ctx)
	k := key(sc.TenantID, sc.ID)
	sc.Version = len(s.scenarios[k]) + 1
	sc.CreatedAt = s.now()
	s.scenarios[k] = append(s.scenarios[k], cloneScript(sc))
	return nil
}

func (s *Store) GetScenario(ctx context.Context, id string) (*scenario.Script, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.scenarios[key(tenant(ctx), id)]
	if len(versions) == 0 {
		return nil, fmt.Errorf("get scenario %s: %w", id, domain.ErrNotFound)
	}
	sc := cloneScript(&versions[len(versions)-1])
	return &sc, nil
}

func (s *Store) GetScenarioVersion(ctx context.Context, id string, version int) (*scenario.Script, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.scenarios[key(tenant(ctx), id)]
	if version < 1 || version > len(versions) {
		return nil, fmt.Errorf("get scenario %s v%d: %w", id, version, domain.ErrNotFound)
	}
	sc := cloneScript(&versions[version-1])
	return &sc, nil
}

func (s *Store) ListScenarios(ctx context.Context) ([]scenario.Script, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tid := tenant(ctx)
	var out []scenario.Script
	for _, versions := range s.scenarios {
		latest := versions[len(versions)-1]
		if latest.TenantID == tid {
			out = append(out, cloneScript(&latest))
		}
	}
	slices.SortFunc(out, func(a, b scenario.Script) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

// --- Executions ---

func (s *Store) CreateExecution(ctx context.Context, e *execution.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failWrite(); err != nil {
		return fmt.Errorf("create execution: %w", err)
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if _, exists := s.executions[e.ID]; exists {
		return fmt.Errorf("create execution %s: %w", e.ID, domain.ErrConflict)
	}
	e.TenantID = tenant(ctx)
	now := s.now()
	if e.StartedAt.IsZero() {
		e.StartedAt = now
	}
	e.UpdatedAt = now
	cp := *e
	s.executions[e.ID] = &cp
	return nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (*execution.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.executions[id]
	if !ok || e.TenantID != tenant(ctx) {
		return nil, fmt.Errorf("get execution %s: %w", id, domain.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (s *Store) UpdateExecution(ctx context.Context, e *execution.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failWrite(); err != nil {
		return fmt.Errorf("update execution: %w", err)
	}

	cur, ok := s.executions[e.ID]
	if !ok || cur.TenantID != tenant(ctx) {
		return fmt.Errorf("update execution %s: %w", e.ID, domain.ErrNotFound)
	}
	e.UpdatedAt = s.now()
	cp := *e
	cp.TenantID = cur.TenantID
	s.executions[e.ID] = &cp
	return nil
}

func (s *Store) ListExecutions(ctx context.Context, scenarioID string) ([]execution.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tid := tenant(ctx)
	var out []execution.Execution
	for _, e := range s.executions {
		if e.TenantID == tid && (scenarioID == "" || e.ScenarioID == scenarioID) {
			out = append(out, *e)
		}
	}
	slices.SortFunc(out, func(a, b execution.Execution) int { return b.StartedAt.Compare(a.StartedAt) })
	return out, nil
}

func (s *Store) AcquireExecutionLease(ctx context.Context, id, owner string, now, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failWrite(); err != nil {
		return false, fmt.Errorf("lease execution: %w", err)
	}

	e, ok := s.executions[id]
	if !ok || e.TenantID != tenant(ctx) {
		return false, fmt.Errorf("lease execution %s: %w", id, domain.ErrNotFound)
	}
	if e.Status != execution.StatusInProgress {
		return false, nil
	}
	if l, held := s.leases[id]; held && l.owner != owner && !l.until.Before(now) {
		return false, nil
	}
	s.leases[id] = lease{owner: owner, until: until}
	return true, nil
}

func (s *Store) ReleaseExecutionLease(_ context.Context, id, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.leases[id]; ok && l.owner == owner {
		delete(s.leases, id)
	}
	return nil
}

func (s *Store) CreateStepResult(_ context.Context, r *execution.StepResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failWrite(); err != nil {
		return fmt.Errorf("create step result: %w", err)
	}
	for _, prev := range s.stepResults[r.ExecutionID] {
		if r.ExecutionID != "" && prev.StepPosition == r.StepPosition && prev.Language == r.Language {
			return fmt.Errorf("create step result %d/%s: %w", r.StepPosition, r.Language, domain.ErrConflict)
		}
	}

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = s.now()
	s.stepResults[r.ExecutionID] = append(s.stepResults[r.ExecutionID], *r)
	return nil
}

func (s *Store) ListStepResults(ctx context.Context, executionID string) ([]execution.StepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.executions[executionID]
	if !ok || e.TenantID != tenant(ctx) {
		return nil, fmt.Errorf("list step results %s: %w", executionID, domain.ErrNotFound)
	}
	return slices.Clone(s.stepResults[executionID]), nil
}

// --- Validations ---

func (s *Store) CreateValidation(ctx context.Context, rec *validation.Record, item *review.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failWrite(); err != nil {
		return fmt.Errorf("create validation: %w", err)
	}
	if rec.ExecutionID != "" {
		for _, prev := range s.validations {
			if prev.ExecutionID == rec.ExecutionID && prev.StepPosition == rec.StepPosition && prev.Language == rec.Language {
				return fmt.Errorf("create validation %d/%s: %w", rec.StepPosition, rec.Language, domain.ErrConflict)
			}
		}
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.TenantID = tenant(ctx)
	rec.CreatedAt = s.now()
	cp := *rec
	s.validations[rec.ID] = &cp

	if item != nil {
		item.ValidationRecordID = rec.ID
		s.insertQueueItem(ctx, item)
	}
	return nil
}

func (s *Store) GetValidation(ctx context.Context, id string) (*validation.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.validations[id]
	if !ok || rec.TenantID != tenant(ctx) {
		return nil, fmt.Errorf("get validation %s: %w", id, domain.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (s *Store) ListValidations(ctx context.Context, executionID string) ([]validation.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tid := tenant(ctx)
	var out []validation.Record
	for _, rec := range s.validations {
		if rec.TenantID == tid && rec.ExecutionID == executionID {
			out = append(out, *rec)
		}
	}
	slices.SortFunc(out, func(a, b validation.Record) int {
		if a.StepPosition != b.StepPosition {
			return a.StepPosition - b.StepPosition
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// --- Defect streaks ---

func (s *Store) ObserveStreak(ctx context.Context, obs defect.Observation) (*defect.Streak, *defect.Defect, error) {
	if err := obs.Validate(); err != nil {
		return nil, nil, fmt.Errorf("observe streak: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failWrite(); err != nil {
		return nil, nil, fmt.Errorf("observe streak: %w", err)
	}

	tid := tenant(ctx)
	k := key(tid, obs.ScenarioID, obs.Language)
	st, ok := s.streaks[k]
	if !ok {
		st = &defect.Streak{TenantID: tid, ScenarioID: obs.ScenarioID, Language: obs.Language}
		s.streaks[k] = st
	}
	now := s.now()
	st.LastRecordID = obs.ValidationRecordID
	st.UpdatedAt = now

	if !obs.Failed {
		st.Count = 0
		cp := *st
		return &cp, nil, nil
	}

	st.Count++
	if st.Count < obs.Threshold {
		cp := *st
		return &cp, nil, nil
	}

	d := defect.Defect{
		ID:                 uuid.NewString(),
		TenantID:           tid,
		ScenarioID:         obs.ScenarioID,
		ExecutionID:        obs.ExecutionID,
		Language:           obs.Language,
		ValidationRecordID: obs.ValidationRecordID,
		StreakLength:       st.Count,
		Title:              defect.Title(obs.ScenarioID, obs.Language, st.Count),
		CreatedAt:          now,
	}
	s.defects = append(s.defects, d)
	st.Count = 0
	cp := *st
	return &cp, &d, nil
}

func (s *Store) GetStreak(ctx context.Context, scenarioID, language string) (*defect.Streak, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tid := tenant(ctx)
	st, ok := s.streaks[key(tid, scenarioID, language)]
	if !ok {
		return &defect.Streak{TenantID: tid, ScenarioID: scenarioID, Language: language}, nil
	}
	cp := *st
	return &cp, nil
}

func (s *Store) ListDefects(ctx context.Context, scenarioID string) ([]defect.Defect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tid := tenant(ctx)
	var out []defect.Defect
	for _, d := range s.defects {
		if d.TenantID == tid && (scenarioID == "" || d.ScenarioID == scenarioID) {
			out = append(out, d)
		}
	}
	return out, nil
}

func cloneScript(sc *scenario.Script) scenario.Script {
	cp := *sc
	cp.Steps = slices.Clone(sc.Steps)
	return cp
}
