package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/VoiceForge/internal/domain/scenario"
	"github.com/Strob0t/VoiceForge/internal/domain/validation"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Scenarios ---

const scenarioColumns = `id, tenant_id, version, name, primary_language, validation_mode, steps, created_at`

// CreateScenario inserts the next version of s. Two writers racing on the
// same ID collide on the primary key and the loser gets domain.ErrConflict.
func (s *Store) CreateScenario(ctx context.Context, sc *scenario.Script) error {
	steps, err := json.Marshal(orEmpty(sc.Steps))
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	tid := tenantFromCtx(ctx)
	err = s.pool.QueryRow(ctx,
		`INSERT INTO scenarios (tenant_id, id, version, name, primary_language, validation_mode, steps)
		 SELECT $1, $2, COALESCE(MAX(version), 0) + 1, $3, $4, $5, $6
		 FROM scenarios WHERE tenant_id = $1 AND id = $2
		 RETURNING version, created_at`,
		tid, sc.ID, sc.Name, sc.PrimaryLanguage, string(sc.ValidationMode), steps,
	).Scan(&sc.Version, &sc.CreatedAt)
	if err != nil {
		return conflictWrap(err, "create scenario %s", sc.ID)
	}
	sc.TenantID = tid
	return nil
}

func (s *Store) GetScenario(ctx context.Context, id string) (*scenario.Script, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+scenarioColumns+` FROM scenarios
		 WHERE tenant_id = $1 AND id = $2 ORDER BY version DESC LIMIT 1`,
		tenantFromCtx(ctx), id)
	sc, err := scanScript(row)
	if err != nil {
		return nil, notFoundWrap(err, "get scenario %s", id)
	}
	return sc, nil
}

func (s *Store) GetScenarioVersion(ctx context.Context, id string, version int) (*scenario.Script, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+scenarioColumns+` FROM scenarios
		 WHERE tenant_id = $1 AND id = $2 AND version = $3`,
		tenantFromCtx(ctx), id, version)
	sc, err := scanScript(row)
	if err != nil {
		return nil, notFoundWrap(err, "get scenario %s v%d", id, version)
	}
	return sc, nil
}

func (s *Store) ListScenarios(ctx context.Context) ([]scenario.Script, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+scenarioColumns+` FROM (
		   SELECT DISTINCT ON (id) `+scenarioColumns+` FROM scenarios
		   WHERE tenant_id = $1 ORDER BY id, version DESC
		 ) latest ORDER BY created_at DESC`,
		tenantFromCtx(ctx))
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	defer rows.Close()

	var out []scenario.Script
	for rows.Next() {
		sc, err := scanScript(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scenario: %w", err)
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

func scanScript(row scannable) (*scenario.Script, error) {
	var (
		sc    scenario.Script
		mode  string
		steps []byte
	)
	if err := row.Scan(&sc.ID, &sc.TenantID, &sc.Version, &sc.Name, &sc.PrimaryLanguage, &mode, &steps, &sc.CreatedAt); err != nil {
		return nil, err
	}
	sc.ValidationMode = validation.Mode(mode)
	if err := json.Unmarshal(steps, &sc.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	return &sc, nil
}
