package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Strob0t/VoiceForge/internal/domain"
	"github.com/Strob0t/VoiceForge/internal/domain/review"
)

// --- Review queue ---

const queueColumns = `id, tenant_id, validation_record_id, status, priority, confidence_score, language_code,
	calibration, claimed_by, claimed_at, completed_at, verdict, notes, created_at`

func (s *Store) CreateQueueItem(ctx context.Context, item *review.QueueItem) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := insertQueueItem(ctx, tx, item); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("create queue item: validation %s: %w", item.ValidationRecordID, domain.ErrNotFound)
		}
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) GetQueueItem(ctx context.Context, id string) (*review.QueueItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+queueColumns+` FROM review_queue WHERE id = $1 AND tenant_id = $2`,
		id, tenantFromCtx(ctx))
	item, err := scanQueueItem(row)
	if err != nil {
		return nil, notFoundWrap(err, "get queue item %s", id)
	}
	return item, nil
}

// NextQueueItem returns the reviewer's held item, else the best pending item
// ordered by language tier (exact, base, other), priority, age and insertion.
func (s *Store) NextQueueItem(ctx context.Context, reviewerID, languagePref string) (*review.QueueItem, error) {
	tid := tenantFromCtx(ctx)

	if reviewerID != "" {
		row := s.pool.QueryRow(ctx,
			`SELECT `+queueColumns+` FROM review_queue
			 WHERE tenant_id = $1 AND status = 'claimed' AND claimed_by = $2
			 ORDER BY seq LIMIT 1`,
			tid, reviewerID)
		item, err := scanQueueItem(row)
		if err == nil {
			return item, nil
		}
		if err = notFoundWrap(err, "next queue item"); !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+queueColumns+` FROM review_queue
		 WHERE tenant_id = $1 AND status = 'pending'
		 ORDER BY
		   CASE
		     WHEN $2 = '' THEN 2
		     WHEN lower(language_code) = lower($2) THEN 0
		     WHEN lower(split_part(split_part(language_code, '-', 1), '_', 1)) = $3 THEN 1
		     ELSE 2
		   END,
		   priority, created_at, seq
		 LIMIT 1`,
		tid, languagePref, review.BaseLanguage(languagePref))
	item, err := scanQueueItem(row)
	if err != nil {
		return nil, notFoundWrap(err, "next queue item")
	}
	return item, nil
}

func (s *Store) ClaimQueueItem(ctx context.Context, id, reviewerID string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE review_queue SET status = 'claimed', claimed_by = $3, claimed_at = $4
		 WHERE id = $1 AND tenant_id = $2 AND status = 'pending'`,
		id, tenantFromCtx(ctx), reviewerID, now)
	return s.casResult(ctx, tag, err, id, "claim")
}

func (s *Store) ReleaseQueueItem(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE review_queue SET status = 'pending', claimed_by = '', claimed_at = NULL
		 WHERE id = $1 AND tenant_id = $2 AND status = 'claimed'`,
		id, tenantFromCtx(ctx))
	return s.casResult(ctx, tag, err, id, "release")
}

func (s *Store) CompleteQueueItem(ctx context.Context, id, reviewerID string, req review.CompleteRequest, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE review_queue SET status = 'completed', completed_at = $4, verdict = $5, notes = $6
		 WHERE id = $1 AND tenant_id = $2 AND status = 'claimed' AND claimed_by = $3`,
		id, tenantFromCtx(ctx), reviewerID, now, string(req.Verdict), req.Notes)
	return s.casResult(ctx, tag, err, id, "complete")
}

// casResult turns a conditional UPDATE into (applied, error): zero rows on an
// existing item means the transition lost, zero rows on a missing item is
// domain.ErrNotFound.
func (s *Store) casResult(ctx context.Context, tag pgconn.CommandTag, err error, id, op string) (bool, error) {
	if err != nil {
		return false, notFoundWrap(err, "%s queue item %s", op, id)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.GetQueueItem(ctx, id); err != nil {
		return false, fmt.Errorf("%s queue item: %w", op, err)
	}
	return false, nil
}

// ReleaseExpiredClaims is a maintenance sweep and spans all tenants.
func (s *Store) ReleaseExpiredClaims(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE review_queue SET status = 'pending', claimed_by = '', claimed_at = NULL
		 WHERE status = 'claimed' AND claimed_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("release expired claims: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) QueueStats(ctx context.Context) (review.Stats, error) {
	var st review.Stats
	err := s.pool.QueryRow(ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE status = 'pending'),
		   COUNT(*) FILTER (WHERE status = 'claimed'),
		   COUNT(*) FILTER (WHERE status = 'completed')
		 FROM review_queue WHERE tenant_id = $1`,
		tenantFromCtx(ctx)).Scan(&st.Pending, &st.Claimed, &st.Completed)
	if err != nil {
		return st, fmt.Errorf("queue stats: %w", err)
	}
	return st, nil
}

func scanQueueItem(row scannable) (*review.QueueItem, error) {
	var (
		item            review.QueueItem
		status, verdict string
	)
	err := row.Scan(&item.ID, &item.TenantID, &item.ValidationRecordID, &status, &item.Priority,
		&item.ConfidenceScore, &item.LanguageCode, &item.Calibration, &item.ClaimedBy, &item.ClaimedAt,
		&item.CompletedAt, &verdict, &item.Notes, &item.CreatedAt)
	if err != nil {
		return nil, err
	}
	item.Status = review.Status(status)
	item.Verdict = review.Verdict(verdict)
	return &item, nil
}
