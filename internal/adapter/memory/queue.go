package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/VoiceForge/internal/domain"
	"github.com/Strob0t/VoiceForge/internal/domain/review"
)

// insertQueueItem must be called with s.mu held.
func (s *Store) insertQueueItem(ctx context.Context, item *review.QueueItem) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.TenantID = tenant(ctx)
	item.Status = review.StatusPending
	item.CreatedAt = s.now()
	s.seq++
	s.queue[item.ID] = &queueEntry{item: *item, seq: s.seq}
}

func (s *Store) CreateQueueItem(ctx context.Context, item *review.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failWrite(); err != nil {
		return fmt.Errorf("create queue item: %w", err)
	}
	if _, ok := s.validations[item.ValidationRecordID]; !ok {
		return fmt.Errorf("create queue item: validation %s: %w", item.ValidationRecordID, domain.ErrNotFound)
	}
	s.insertQueueItem(ctx, item)
	return nil
}

func (s *Store) GetQueueItem(ctx context.Context, id string) (*review.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.queue[id]
	if !ok || e.item.TenantID != tenant(ctx) {
		return nil, fmt.Errorf("get queue item %s: %w", id, domain.ErrNotFound)
	}
	item := e.item
	return &item, nil
}

// NextQueueItem orders pending items by (language tier, priority, created
// order); an item the reviewer already holds wins outright.
func (s *Store) NextQueueItem(ctx context.Context, reviewerID, languagePref string) (*review.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tid := tenant(ctx)
	var best *queueEntry
	var held *queueEntry
	for _, e := range s.queue {
		if e.item.TenantID != tid {
			continue
		}
		switch e.item.Status {
		case review.StatusClaimed:
			if reviewerID != "" && e.item.ClaimedBy == reviewerID && (held == nil || e.seq < held.seq) {
				held = e
			}
		case review.StatusPending:
			if best == nil || better(e, best, languagePref) {
				best = e
			}
		}
	}

	switch {
	case held != nil:
		item := held.item
		return &item, nil
	case best != nil:
		item := best.item
		return &item, nil
	}
	return nil, fmt.Errorf("next queue item: %w", domain.ErrNotFound)
}

func better(a, b *queueEntry, pref string) bool {
	ta, tb := review.MatchTier(a.item.LanguageCode, pref), review.MatchTier(b.item.LanguageCode, pref)
	if ta != tb {
		return ta < tb
	}
	if a.item.Priority != b.item.Priority {
		return a.item.Priority < b.item.Priority
	}
	if !a.item.CreatedAt.Equal(b.item.CreatedAt) {
		return a.item.CreatedAt.Before(b.item.CreatedAt)
	}
	return a.seq < b.seq
}

func (s *Store) ClaimQueueItem(ctx context.Context, id, reviewerID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.queue[id]
	if !ok || e.item.TenantID != tenant(ctx) {
		return false, fmt.Errorf("claim queue item %s: %w", id, domain.ErrNotFound)
	}
	if e.item.Status != review.StatusPending {
		return false, nil
	}
	e.item.Status = review.StatusClaimed
	e.item.ClaimedBy = reviewerID
	e.item.ClaimedAt = &now
	return true, nil
}

func (s *Store) ReleaseQueueItem(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.queue[id]
	if !ok || e.item.TenantID != tenant(ctx) {
		return false, fmt.Errorf("release queue item %s: %w", id, domain.ErrNotFound)
	}
	if e.item.Status != review.StatusClaimed {
		return false, nil
	}
	release(&e.item)
	return true, nil
}

func (s *Store) CompleteQueueItem(ctx context.Context, id, reviewerID string, req review.CompleteRequest, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.queue[id]
	if !ok || e.item.TenantID != tenant(ctx) {
		return false, fmt.Errorf("complete queue item %s: %w", id, domain.ErrNotFound)
	}
	if e.item.Status != review.StatusClaimed || e.item.ClaimedBy != reviewerID {
		return false, nil
	}
	e.item.Status = review.StatusCompleted
	e.item.CompletedAt = &now
	e.item.Verdict = req.Verdict
	e.item.Notes = req.Notes
	return true, nil
}

func (s *Store) ReleaseExpiredClaims(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.queue {
		if e.item.Status == review.StatusClaimed && e.item.ClaimedAt != nil && e.item.ClaimedAt.Before(cutoff) {
			release(&e.item)
			n++
		}
	}
	return n, nil
}

func (s *Store) QueueStats(ctx context.Context) (review.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tid := tenant(ctx)
	var st review.Stats
	for _, e := range s.queue {
		if e.item.TenantID != tid {
			continue
		}
		switch e.item.Status {
		case review.StatusPending:
			st.Pending++
		case review.StatusClaimed:
			st.Claimed++
		case review.StatusCompleted:
			st.Completed++
		}
	}
	return st, nil
}

func release(item *review.QueueItem) {
	item.Status = review.StatusPending
	item.ClaimedBy = ""
	item.ClaimedAt = nil
}
