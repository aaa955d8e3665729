package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/VoiceForge/internal/domain/defect"
)

// --- Defect streaks ---

// ObserveStreak upserts the counter row and, on reaching the threshold,
// files the defect and resets the counter inside the same transaction. The
// row lock taken by the upsert serializes concurrent observers of one key.
func (s *Store) ObserveStreak(ctx context.Context, obs defect.Observation) (*defect.Streak, *defect.Defect, error) {
	if err := obs.Validate(); err != nil {
		return nil, nil, fmt.Errorf("observe streak: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	tid := tenantFromCtx(ctx)
	st := defect.Streak{TenantID: tid, ScenarioID: obs.ScenarioID, Language: obs.Language, LastRecordID: obs.ValidationRecordID}

	if obs.Failed {
		err = tx.QueryRow(ctx,
			`INSERT INTO defect_streaks (tenant_id, scenario_id, language, count, last_record_id)
			 VALUES ($1, $2, $3, 1, $4)
			 ON CONFLICT (tenant_id, scenario_id, language)
			 DO UPDATE SET count = defect_streaks.count + 1, last_record_id = EXCLUDED.last_record_id, updated_at = now()
			 RETURNING count, updated_at`,
			tid, obs.ScenarioID, obs.Language, obs.ValidationRecordID,
		).Scan(&st.Count, &st.UpdatedAt)
	} else {
		err = tx.QueryRow(ctx,
			`INSERT INTO defect_streaks (tenant_id, scenario_id, language, count, last_record_id)
			 VALUES ($1, $2, $3, 0, $4)
			 ON CONFLICT (tenant_id, scenario_id, language)
			 DO UPDATE SET count = 0, last_record_id = EXCLUDED.last_record_id, updated_at = now()
			 RETURNING count, updated_at`,
			tid, obs.ScenarioID, obs.Language, obs.ValidationRecordID,
		).Scan(&st.Count, &st.UpdatedAt)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("upsert streak: %w", err)
	}

	var filed *defect.Defect
	if obs.Failed && st.Count >= obs.Threshold {
		d := defect.Defect{
			ID:                 uuid.NewString(),
			TenantID:           tid,
			ScenarioID:         obs.ScenarioID,
			ExecutionID:        obs.ExecutionID,
			Language:           obs.Language,
			ValidationRecordID: obs.ValidationRecordID,
			StreakLength:       st.Count,
			Title:              defect.Title(obs.ScenarioID, obs.Language, st.Count),
		}
		err = tx.QueryRow(ctx,
			`INSERT INTO defects (id, tenant_id, scenario_id, execution_id, language, validation_record_id, streak_length, title)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING created_at`,
			d.ID, tid, d.ScenarioID, d.ExecutionID, d.Language, d.ValidationRecordID, d.StreakLength, d.Title,
		).Scan(&d.CreatedAt)
		if err != nil {
			return nil, nil, fmt.Errorf("create defect: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`UPDATE defect_streaks SET count = 0 WHERE tenant_id = $1 AND scenario_id = $2 AND language = $3`,
			tid, obs.ScenarioID, obs.Language)
		if err := execExpectOne(tag, err, "reset streak %s/%s", obs.ScenarioID, obs.Language); err != nil {
			return nil, nil, err
		}
		st.Count = 0
		filed = &d
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit streak: %w", err)
	}
	return &st, filed, nil
}

func (s *Store) GetStreak(ctx context.Context, scenarioID, language string) (*defect.Streak, error) {
	tid := tenantFromCtx(ctx)
	st := defect.Streak{TenantID: tid, ScenarioID: scenarioID, Language: language}
	err := s.pool.QueryRow(ctx,
		`SELECT count, last_record_id, updated_at FROM defect_streaks
		 WHERE tenant_id = $1 AND scenario_id = $2 AND language = $3`,
		tid, scenarioID, language,
	).Scan(&st.Count, &st.LastRecordID, &st.UpdatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get streak: %w", err)
	}
	return &st, nil
}

func (s *Store) ListDefects(ctx context.Context, scenarioID string) ([]defect.Defect, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, scenario_id, execution_id, language, validation_record_id, streak_length, title, created_at
		 FROM defects WHERE tenant_id = $1 AND ($2 = '' OR scenario_id = $2)
		 ORDER BY created_at`,
		tenantFromCtx(ctx), scenarioID)
	if err != nil {
		return nil, fmt.Errorf("list defects: %w", err)
	}
	defer rows.Close()

	var out []defect.Defect
	for rows.Next() {
		var d defect.Defect
		if err := rows.Scan(&d.ID, &d.TenantID, &d.ScenarioID, &d.ExecutionID, &d.Language,
			&d.ValidationRecordID, &d.StreakLength, &d.Title, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan defect: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
