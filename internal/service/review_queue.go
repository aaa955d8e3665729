package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/VoiceForge/internal/adapter/otel"
	"github.com/Strob0t/VoiceForge/internal/adapter/ws"
	"github.com/Strob0t/VoiceForge/internal/config"
	"github.com/Strob0t/VoiceForge/internal/domain"
	"github.com/Strob0t/VoiceForge/internal/domain/review"
	"github.com/Strob0t/VoiceForge/internal/domain/validation"
	"github.com/Strob0t/VoiceForge/internal/port/broadcast"
	"github.com/Strob0t/VoiceForge/internal/port/database"
)

// EnqueueRequest adds an existing validation record to the review queue.
type EnqueueRequest struct {
	ValidationRecordID string  `json:"validation_record_id"`
	Priority           int     `json:"priority"`
	ConfidenceScore    float64 `json:"confidence_score"`
	LanguageCode       string  `json:"language_code"`
	Calibration        bool    `json:"calibration,omitempty"`
}

// ReviewQueueService routes validation records to human reviewers and
// manages the claim lifecycle of queue items.
type ReviewQueueService struct {
	store   database.Store
	cfg     config.Review
	hub     broadcast.Broadcaster
	metrics *cfotel.Metrics

	sample func() float64
	now    func() time.Time

	sweepMu     sync.Mutex
	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// NewReviewQueueService creates a ReviewQueueService. hub may be nil.
func NewReviewQueueService(store database.Store, cfg config.Review, hub broadcast.Broadcaster) *ReviewQueueService {
	return &ReviewQueueService{
		store:  store,
		cfg:    cfg,
		hub:    hub,
		sample: rand.Float64,
		now:    time.Now,
	}
}

// SetMetrics attaches OTEL instruments.
func (s *ReviewQueueService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Route decides whether rec needs a queue item. Every record that is not
// auto_pass is routed; auto_pass records are sampled at CalibrationRate.
// The returned item is unsaved and carries no validation record ID yet.
func (s *ReviewQueueService) Route(rec *validation.Record) (*review.QueueItem, bool) {
	calibration := false
	if rec.ReviewStatus == validation.ReviewAutoPass {
		if s.cfg.CalibrationRate <= 0 || s.sample() >= s.cfg.CalibrationRate {
			return nil, false
		}
		calibration = true
	}
	return &review.QueueItem{
		ValidationRecordID: rec.ID,
		Priority:           review.PriorityFor(rec, calibration),
		ConfidenceScore:    rec.ConfidenceScore(),
		LanguageCode:       rec.Language,
		Calibration:        calibration,
	}, true
}

// Enqueue adds a queue item for an already persisted record.
func (s *ReviewQueueService) Enqueue(ctx context.Context, req EnqueueRequest) (*review.QueueItem, error) {
	if req.ValidationRecordID == "" {
		return nil, fmt.Errorf("validation_record_id is required: %w", domain.ErrValidation)
	}
	if req.Priority < 1 {
		return nil, fmt.Errorf("priority must be >= 1: %w", domain.ErrValidation)
	}
	item := &review.QueueItem{
		ValidationRecordID: req.ValidationRecordID,
		Priority:           req.Priority,
		ConfidenceScore:    req.ConfidenceScore,
		LanguageCode:       req.LanguageCode,
		Calibration:        req.Calibration,
	}
	if err := s.store.CreateQueueItem(ctx, item); err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	s.Enqueued(ctx, item)
	return item, nil
}

// Enqueued records an item written elsewhere, such as in the validation
// transaction.
func (s *ReviewQueueService) Enqueued(ctx context.Context, item *review.QueueItem) {
	if s.metrics != nil {
		s.metrics.QueueEnqueued.Add(ctx, 1, metric.WithAttributes(
			attribute.Int("priority", item.Priority),
			attribute.Bool("calibration", item.Calibration),
		))
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventReviewEnqueued, ws.ReviewEnqueuedEvent{
			QueueItemID:  item.ID,
			ValidationID: item.ValidationRecordID,
			Priority:     item.Priority,
			LanguageCode: item.LanguageCode,
		})
	}
}

// Next returns the item a reviewer should look at. It does not claim.
func (s *ReviewQueueService) Next(ctx context.Context, reviewerID, languagePref string) (*review.QueueItem, error) {
	return s.store.NextQueueItem(ctx, reviewerID, languagePref)
}

// Claim moves a pending item to claimed. It returns false when the item was
// not pending.
func (s *ReviewQueueService) Claim(ctx context.Context, itemID, reviewerID string) (bool, error) {
	if reviewerID == "" {
		return false, fmt.Errorf("reviewer_id is required: %w", domain.ErrValidation)
	}
	ok, err := s.store.ClaimQueueItem(ctx, itemID, reviewerID, s.now())
	if err != nil {
		return false, err
	}
	if ok {
		slog.Info("review item claimed", "item_id", itemID, "reviewer_id", reviewerID)
	}
	return ok, nil
}

// Release returns a claimed item to pending.
func (s *ReviewQueueService) Release(ctx context.Context, itemID string) (bool, error) {
	return s.store.ReleaseQueueItem(ctx, itemID)
}

// Complete records the reviewer's verdict. Only the claimant can complete.
func (s *ReviewQueueService) Complete(ctx context.Context, itemID, reviewerID string, req review.CompleteRequest) (bool, error) {
	if err := req.Validate(); err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	ok, err := s.store.CompleteQueueItem(ctx, itemID, reviewerID, req, s.now())
	if err != nil {
		return false, err
	}
	if ok {
		slog.Info("review item completed", "item_id", itemID, "reviewer_id", reviewerID, "verdict", req.Verdict)
	}
	return ok, nil
}

// ReleaseExpired returns claims older than ClaimTimeout to pending.
func (s *ReviewQueueService) ReleaseExpired(ctx context.Context) (int, error) {
	return s.store.ReleaseExpiredClaims(ctx, s.now().Add(-s.cfg.ClaimTimeout))
}

// Detail returns an item together with its validation record.
func (s *ReviewQueueService) Detail(ctx context.Context, itemID string) (*review.Detail, error) {
	item, err := s.store.GetQueueItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	rec, err := s.store.GetValidation(ctx, item.ValidationRecordID)
	if err != nil {
		return nil, fmt.Errorf("detail %s: %w", itemID, err)
	}
	return &review.Detail{Item: *item, Record: *rec}, nil
}

// Stats counts the tenant's items per status.
func (s *ReviewQueueService) Stats(ctx context.Context) (review.Stats, error) {
	return s.store.QueueStats(ctx)
}

// StartSweeper releases expired claims every SweepInterval until
// StopSweeper is called or ctx is cancelled.
func (s *ReviewQueueService) StartSweeper(ctx context.Context) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	if s.sweepCancel != nil || s.cfg.SweepInterval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.sweepCancel, s.sweepDone = cancel, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.ReleaseExpired(ctx)
				if err != nil {
					slog.Warn("failed to release expired review claims", "error", err)
				} else if n > 0 {
					slog.Info("released expired review claims", "count", n)
				}
			}
		}
	}()
}

// StopSweeper stops the sweeper and waits for it to exit.
func (s *ReviewQueueService) StopSweeper() {
	s.sweepMu.Lock()
	cancel, done := s.sweepCancel, s.sweepDone
	s.sweepCancel, s.sweepDone = nil, nil
	s.sweepMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
