package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/Strob0t/VoiceForge/internal/domain"
	"github.com/Strob0t/VoiceForge/internal/domain/execution"
	"github.com/Strob0t/VoiceForge/internal/logger"
	"github.com/Strob0t/VoiceForge/internal/middleware"
	"github.com/Strob0t/VoiceForge/internal/port/database"
	"github.com/Strob0t/VoiceForge/internal/port/messagequeue"
)

// DispatchService is the asynchronous entry point: the API creates the
// execution row and a worker picks it up from the queue.
type DispatchService struct {
	store        database.ExecutionStore
	scenarios    *ScenarioService
	queue        messagequeue.Queue
	orchestrator *OrchestratorService

	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// NewDispatchService creates a DispatchService. maxConcurrent bounds the
// executions one worker runs in parallel.
func NewDispatchService(
	store database.ExecutionStore,
	scenarios *ScenarioService,
	queue messagequeue.Queue,
	orchestrator *OrchestratorService,
	maxConcurrent int,
) *DispatchService {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &DispatchService{
		store:        store,
		scenarios:    scenarios,
		queue:        queue,
		orchestrator: orchestrator,
		sem:          semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// ExecuteScenario pins the latest script version in a new in_progress
// execution and hands it to the workers.
func (s *DispatchService) ExecuteScenario(ctx context.Context, scenarioID string, languages []string) (execution.Handle, error) {
	if scenarioID == "" {
		return execution.Handle{}, fmt.Errorf("scenario_id is required: %w", domain.ErrValidation)
	}
	sc, err := s.scenarios.Get(ctx, scenarioID)
	if err != nil {
		return execution.Handle{}, fmt.Errorf("dispatch: %w", err)
	}

	e := &execution.Execution{
		ScenarioID:    sc.ID,
		ScriptVersion: sc.Version,
		Languages:     languages,
		Status:        execution.StatusInProgress,
	}
	if err := s.store.CreateExecution(ctx, e); err != nil {
		return execution.Handle{}, fmt.Errorf("dispatch: %w", err)
	}

	data, err := json.Marshal(messagequeue.ExecutionRequestedPayload{
		ExecutionID: e.ID,
		ScenarioID:  e.ScenarioID,
		TenantID:    middleware.TenantIDFromContext(ctx),
		Languages:   languages,
	})
	if err != nil {
		return execution.Handle{}, fmt.Errorf("marshal execution request: %w", err)
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectExecutionRequested, data); err != nil {
		return execution.Handle{}, fmt.Errorf("publish execution request: %w", err)
	}

	slog.Info("execution dispatched", "execution_id", e.ID, "scenario_id", e.ScenarioID, "languages", languages)
	return e.Handle(), nil
}

// StartWorker consumes executions.requested. Each message is acknowledged
// once a slot is free and the execution has been started; its outcome lives
// on the execution row, and an interrupted execution is picked up again
// through Resume.
func (s *DispatchService) StartWorker(ctx context.Context) (cancel func(), err error) {
	return s.queue.Subscribe(ctx, messagequeue.SubjectExecutionRequested, func(msgCtx context.Context, _ string, data []byte) error {
		var req messagequeue.ExecutionRequestedPayload
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("unmarshal execution request: %w", err)
		}
		if req.TenantID != "" {
			msgCtx = middleware.WithTenantID(msgCtx, req.TenantID)
		}

		if err := s.sem.Acquire(msgCtx, 1); err != nil {
			return fmt.Errorf("acquire worker slot: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sem.Release(1)

			runCtx := logger.WithExecutionID(context.WithoutCancel(msgCtx), req.ExecutionID)
			_, err := s.orchestrator.Execute(runCtx, ExecuteRequest{
				ScenarioID:  req.ScenarioID,
				Languages:   req.Languages,
				ExecutionID: req.ExecutionID,
			})
			switch {
			case errors.Is(err, domain.ErrConflict):
				logger.From(runCtx).Info("execution skipped", "scenario_id", req.ScenarioID, "reason", err)
			case err != nil:
				logger.From(runCtx).Error("execution failed", "scenario_id", req.ScenarioID, "error", err)
			}
		}()
		return nil
	})
}

// Wait blocks until every execution started by the worker has returned.
func (s *DispatchService) Wait() {
	s.wg.Wait()
}
