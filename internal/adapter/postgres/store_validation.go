package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/VoiceForge/internal/domain/review"
	"github.com/Strob0t/VoiceForge/internal/domain/validation"
)

// --- Validation records ---

const validationColumns = `id, tenant_id, execution_id, scenario_id, step_position, language, mode,
	deterministic, deterministic_state, deterministic_error, llm, llm_state, llm_error, speech_error,
	final_decision, review_status, created_at`

// CreateValidation writes rec and its optional queue item in one transaction,
// so a record routed for review is never visible without its queue entry.
func (s *Store) CreateValidation(ctx context.Context, rec *validation.Record, item *review.QueueItem) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	det, err := marshalNullable(rec.Deterministic)
	if err != nil {
		return fmt.Errorf("marshal deterministic result: %w", err)
	}
	llm, err := marshalNullable(rec.LLM)
	if err != nil {
		return fmt.Errorf("marshal llm verdict: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	tid := tenantFromCtx(ctx)
	err = tx.QueryRow(ctx,
		`INSERT INTO validation_records (id, tenant_id, execution_id, scenario_id, step_position, language, mode,
		   deterministic, deterministic_state, deterministic_error, llm, llm_state, llm_error, speech_error,
		   final_decision, review_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 RETURNING created_at`,
		rec.ID, tid, rec.ExecutionID, rec.ScenarioID, rec.StepPosition, rec.Language, string(rec.Mode),
		det, string(rec.DeterministicState), rec.DeterministicError, llm, string(rec.LLMState), rec.LLMError,
		rec.SpeechError, string(rec.FinalDecision), string(rec.ReviewStatus),
	).Scan(&rec.CreatedAt)
	if err != nil {
		return conflictWrap(err, "create validation %s", rec.ID)
	}
	rec.TenantID = tid

	if item != nil {
		item.ValidationRecordID = rec.ID
		if err := insertQueueItem(ctx, tx, item); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit validation: %w", err)
	}
	return nil
}

func (s *Store) GetValidation(ctx context.Context, id string) (*validation.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+validationColumns+` FROM validation_records WHERE id = $1 AND tenant_id = $2`,
		id, tenantFromCtx(ctx))
	rec, err := scanValidation(row)
	if err != nil {
		return nil, notFoundWrap(err, "get validation %s", id)
	}
	return rec, nil
}

func (s *Store) ListValidations(ctx context.Context, executionID string) ([]validation.Record, error) {
	if _, err := uuid.Parse(executionID); err != nil {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+validationColumns+` FROM validation_records
		 WHERE execution_id = $1 AND tenant_id = $2
		 ORDER BY step_position, created_at`,
		executionID, tenantFromCtx(ctx))
	if err != nil {
		return nil, fmt.Errorf("list validations: %w", err)
	}
	defer rows.Close()

	var out []validation.Record
	for rows.Next() {
		rec, err := scanValidation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan validation: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanValidation(row scannable) (*validation.Record, error) {
	var (
		rec                                  validation.Record
		mode, detState, llmState, final, rvw string
		det, llm                             []byte
	)
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.ExecutionID, &rec.ScenarioID, &rec.StepPosition, &rec.Language,
		&mode, &det, &detState, &rec.DeterministicError, &llm, &llmState, &rec.LLMError, &rec.SpeechError,
		&final, &rvw, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.Mode = validation.Mode(mode)
	rec.DeterministicState = validation.JudgeState(detState)
	rec.LLMState = validation.JudgeState(llmState)
	rec.FinalDecision = validation.Decision(final)
	rec.ReviewStatus = validation.ReviewStatus(rvw)
	if len(det) > 0 {
		rec.Deterministic = &validation.DeterministicResult{}
		if err := unmarshalNullable(det, rec.Deterministic); err != nil {
			return nil, fmt.Errorf("unmarshal deterministic result: %w", err)
		}
	}
	if len(llm) > 0 {
		rec.LLM = &validation.LLMVerdict{}
		if err := unmarshalNullable(llm, rec.LLM); err != nil {
			return nil, fmt.Errorf("unmarshal llm verdict: %w", err)
		}
	}
	return &rec, nil
}

// insertQueueItem adds a pending item inside tx.
func insertQueueItem(ctx context.Context, tx pgx.Tx, item *review.QueueItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	tid := tenantFromCtx(ctx)
	err := tx.QueryRow(ctx,
		`INSERT INTO review_queue (id, tenant_id, validation_record_id, status, priority, confidence_score, language_code, calibration)
		 VALUES ($1, $2, $3, 'pending', $4, $5, $6, $7)
		 RETURNING created_at`,
		item.ID, tid, item.ValidationRecordID, item.Priority, item.ConfidenceScore, item.LanguageCode, item.Calibration,
	).Scan(&item.CreatedAt)
	if err != nil {
		return conflictWrap(err, "create queue item %s", item.ID)
	}
	item.TenantID = tid
	item.Status = review.StatusPending
	return nil
}
