package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/VoiceForge/internal/domain"
	"github.com/Strob0t/VoiceForge/internal/domain/execution"
)

// --- Executions ---

const executionColumns = `id, tenant_id, scenario_id, script_version, languages, status, current_step, state, error, started_at, completed_at, updated_at`

func (s *Store) CreateExecution(ctx context.Context, e *execution.Execution) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	state, err := json.Marshal(e.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tid := tenantFromCtx(ctx)
	err = s.pool.QueryRow(ctx,
		`INSERT INTO executions (id, tenant_id, scenario_id, script_version, languages, status, current_step, state, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING started_at, updated_at`,
		e.ID, tid, e.ScenarioID, e.ScriptVersion, orEmpty(e.Languages), string(e.Status), e.CurrentStep, state, e.Error,
	).Scan(&e.StartedAt, &e.UpdatedAt)
	if err != nil {
		return conflictWrap(err, "create execution %s", e.ID)
	}
	e.TenantID = tid
	return nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (*execution.Execution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = $1 AND tenant_id = $2`,
		id, tenantFromCtx(ctx))
	e, err := scanExecution(row)
	if err != nil {
		return nil, notFoundWrap(err, "get execution %s", id)
	}
	return e, nil
}

func (s *Store) UpdateExecution(ctx context.Context, e *execution.Execution) error {
	state, err := json.Marshal(e.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`UPDATE executions
		 SET status = $3, current_step = $4, state = $5, error = $6, completed_at = $7, updated_at = now()
		 WHERE id = $1 AND tenant_id = $2
		 RETURNING updated_at`,
		e.ID, tenantFromCtx(ctx), string(e.Status), e.CurrentStep, state, e.Error, timePtr(e.CompletedAt),
	).Scan(&e.UpdatedAt)
	if err != nil {
		return notFoundWrap(err, "update execution %s", e.ID)
	}
	return nil
}

func (s *Store) ListExecutions(ctx context.Context, scenarioID string) ([]execution.Execution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionColumns+` FROM executions
		 WHERE tenant_id = $1 AND ($2 = '' OR scenario_id = $2)
		 ORDER BY started_at DESC`,
		tenantFromCtx(ctx), scenarioID)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []execution.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Store) AcquireExecutionLease(ctx context.Context, id, owner string, now, until time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE executions SET lease_owner = $3, lease_until = $5
		 WHERE id = $1 AND tenant_id = $2 AND status = 'in_progress'
		   AND (lease_owner = '' OR lease_owner = $3 OR lease_until < $4)`,
		id, tenantFromCtx(ctx), owner, now, until)
	if err != nil {
		return false, notFoundWrap(err, "lease execution %s", id)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if err := s.executionExists(ctx, id); err != nil {
		return false, fmt.Errorf("lease execution: %w", err)
	}
	return false, nil
}

func (s *Store) ReleaseExecutionLease(ctx context.Context, id, owner string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE executions SET lease_owner = '', lease_until = NULL
		 WHERE id = $1 AND tenant_id = $2 AND lease_owner = $3`,
		id, tenantFromCtx(ctx), owner)
	if err != nil {
		return fmt.Errorf("release execution lease %s: %w", id, err)
	}
	return nil
}

func scanExecution(row scannable) (*execution.Execution, error) {
	var (
		e      execution.Execution
		status string
		state  []byte
	)
	err := row.Scan(&e.ID, &e.TenantID, &e.ScenarioID, &e.ScriptVersion, &e.Languages, &status,
		&e.CurrentStep, &state, &e.Error, &e.StartedAt, &e.CompletedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Status = execution.Status(status)
	if err := unmarshalNullable(state, &e.State); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &e, nil
}

// --- Step results ---

const stepResultColumns = `id, execution_id, step_position, language, is_primary, utterance, transcript,
	formatted_transcript, spoken_response, classification, confidence, entities, state, latency_ms,
	error, passed, COALESCE(validation_id::text, ''), created_at`

func (s *Store) CreateStepResult(ctx context.Context, r *execution.StepResult) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	entities, err := marshalNullable(r.Entities)
	if err != nil {
		return fmt.Errorf("marshal entities: %w", err)
	}
	state, err := marshalNullable(r.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO step_results (id, tenant_id, execution_id, step_position, language, is_primary, utterance,
		   transcript, formatted_transcript, spoken_response, classification, confidence, entities, state,
		   latency_ms, error, passed, validation_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 RETURNING created_at`,
		r.ID, tenantFromCtx(ctx), r.ExecutionID, r.StepPosition, r.Language, r.Primary, r.Utterance,
		r.Transcript, r.FormattedTranscript, r.SpokenResponse, r.Classification, r.Confidence, entities, state,
		r.LatencyMS, r.Error, r.Passed, nullIfEmpty(r.ValidationID),
	).Scan(&r.CreatedAt)
	if err != nil {
		return conflictWrap(err, "create step result %d/%s", r.StepPosition, r.Language)
	}
	return nil
}

func (s *Store) ListStepResults(ctx context.Context, executionID string) ([]execution.StepResult, error) {
	if err := s.executionExists(ctx, executionID); err != nil {
		return nil, fmt.Errorf("list step results: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+stepResultColumns+` FROM step_results
		 WHERE execution_id = $1 AND tenant_id = $2
		 ORDER BY step_position, created_at`,
		executionID, tenantFromCtx(ctx))
	if err != nil {
		return nil, fmt.Errorf("list step results: %w", err)
	}
	defer rows.Close()

	var out []execution.StepResult
	for rows.Next() {
		var (
			r                 execution.StepResult
			entities, stateJS []byte
		)
		err := rows.Scan(&r.ID, &r.ExecutionID, &r.StepPosition, &r.Language, &r.Primary, &r.Utterance,
			&r.Transcript, &r.FormattedTranscript, &r.SpokenResponse, &r.Classification, &r.Confidence,
			&entities, &stateJS, &r.LatencyMS, &r.Error, &r.Passed, &r.ValidationID, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan step result: %w", err)
		}
		if err := unmarshalNullable(entities, &r.Entities); err != nil {
			return nil, fmt.Errorf("unmarshal entities: %w", err)
		}
		if err := unmarshalNullable(stateJS, &r.State); err != nil {
			return nil, fmt.Errorf("unmarshal state: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) executionExists(ctx context.Context, id string) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM executions WHERE id = $1 AND tenant_id = $2)`,
		id, tenantFromCtx(ctx)).Scan(&exists)
	if err != nil {
		return notFoundWrap(err, "execution %s", id)
	}
	if !exists {
		return fmt.Errorf("execution %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
