package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/VoiceForge/internal/adapter/otel"
	"github.com/Strob0t/VoiceForge/internal/adapter/ws"
	"github.com/Strob0t/VoiceForge/internal/config"
	"github.com/Strob0t/VoiceForge/internal/domain/defect"
	"github.com/Strob0t/VoiceForge/internal/domain/validation"
	"github.com/Strob0t/VoiceForge/internal/middleware"
	"github.com/Strob0t/VoiceForge/internal/port/broadcast"
	"github.com/Strob0t/VoiceForge/internal/port/database"
	"github.com/Strob0t/VoiceForge/internal/port/messagequeue"
)

// DefectStreakService counts consecutive auto_fail records per
// (scenario, language) and files a defect when a streak reaches the
// configured threshold.
type DefectStreakService struct {
	store   database.StreakStore
	queue   messagequeue.Queue
	hub     broadcast.Broadcaster
	cfg     config.Defects
	metrics *cfotel.Metrics
}

// NewDefectStreakService creates a DefectStreakService. queue and hub may be nil.
func NewDefectStreakService(store database.StreakStore, queue messagequeue.Queue, hub broadcast.Broadcaster, cfg config.Defects) *DefectStreakService {
	return &DefectStreakService{store: store, queue: queue, hub: hub, cfg: cfg}
}

// SetMetrics attaches OTEL instruments.
func (s *DefectStreakService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Observe feeds one record into its streak. It returns the filed defect, or
// nil when the streak is still below the threshold.
func (s *DefectStreakService) Observe(ctx context.Context, rec *validation.Record, scenarioID, executionID string) (*defect.Defect, error) {
	threshold := s.cfg.StreakThreshold
	if threshold < 1 {
		threshold = config.Defaults().Defects.StreakThreshold
	}

	st, d, err := s.store.ObserveStreak(ctx, defect.Observation{
		ScenarioID:         scenarioID,
		ExecutionID:        executionID,
		Language:           rec.Language,
		ValidationRecordID: rec.ID,
		Failed:             rec.ReviewStatus == validation.ReviewAutoFail,
		Threshold:          threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("observe streak: %w", err)
	}
	if d == nil {
		slog.Debug("streak updated", "scenario_id", scenarioID, "language", rec.Language, "count", st.Count)
		return nil, nil
	}

	slog.Warn("defect filed",
		"defect_id", d.ID,
		"scenario_id", d.ScenarioID,
		"language", d.Language,
		"streak_length", d.StreakLength,
	)
	if s.metrics != nil {
		s.metrics.DefectsFiled.Add(ctx, 1, metric.WithAttributes(
			attribute.String("scenario.id", d.ScenarioID),
			attribute.String("language", d.Language),
		))
	}
	s.announce(ctx, d)
	return d, nil
}

// announce publishes and broadcasts a filed defect. The defect is already
// committed, so failures are logged only.
func (s *DefectStreakService) announce(ctx context.Context, d *defect.Defect) {
	if s.queue != nil {
		data, err := json.Marshal(messagequeue.DefectCreatedPayload{
			DefectID:           d.ID,
			TenantID:           middleware.TenantIDFromContext(ctx),
			ScenarioID:         d.ScenarioID,
			ExecutionID:        d.ExecutionID,
			Language:           d.Language,
			ValidationRecordID: d.ValidationRecordID,
			StreakLength:       d.StreakLength,
			Title:              d.Title,
		})
		if err == nil {
			err = s.queue.Publish(ctx, messagequeue.SubjectDefectCreated, data)
		}
		if err != nil {
			slog.Error("failed to publish defect", "defect_id", d.ID, "error", err)
		}
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventDefectCreated, ws.DefectCreatedEvent{
			DefectID:     d.ID,
			ScenarioID:   d.ScenarioID,
			Language:     d.Language,
			StreakLength: d.StreakLength,
			Title:        d.Title,
		})
	}
}

// GetStreak returns the current counter for (scenarioID, language).
func (s *DefectStreakService) GetStreak(ctx context.Context, scenarioID, language string) (*defect.Streak, error) {
	return s.store.GetStreak(ctx, scenarioID, language)
}

// ListDefects returns filed defects, optionally for one scenario.
func (s *DefectStreakService) ListDefects(ctx context.Context, scenarioID string) ([]defect.Defect, error) {
	return s.store.ListDefects(ctx, scenarioID)
}
