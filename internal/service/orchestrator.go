package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/VoiceForge/internal/adapter/otel"
	"github.com/Strob0t/VoiceForge/internal/adapter/ws"
	"github.com/Strob0t/VoiceForge/internal/config"
	"github.com/Strob0t/VoiceForge/internal/domain"
	"github.com/Strob0t/VoiceForge/internal/domain/conversation"
	"github.com/Strob0t/VoiceForge/internal/domain/execution"
	"github.com/Strob0t/VoiceForge/internal/domain/scenario"
	"github.com/Strob0t/VoiceForge/internal/domain/validation"
	"github.com/Strob0t/VoiceForge/internal/logger"
	"github.com/Strob0t/VoiceForge/internal/middleware"
	"github.com/Strob0t/VoiceForge/internal/port/broadcast"
	"github.com/Strob0t/VoiceForge/internal/port/database"
	"github.com/Strob0t/VoiceForge/internal/port/judge"
	"github.com/Strob0t/VoiceForge/internal/port/messagequeue"
	"github.com/Strob0t/VoiceForge/internal/port/speech"
)

// ExecuteRequest selects a script and the languages to run it in.
type ExecuteRequest struct {
	ScenarioID string   `json:"scenario_id"`
	Languages  []string `json:"languages,omitempty"` // empty = every variant
	// ExecutionID continues an execution row created by the dispatcher.
	ExecutionID string `json:"execution_id,omitempty"`
}

// OrchestratorService drives a script through the platform step by step,
// validating every (step, language) turn and carrying the primary
// language's conversation state forward.
type OrchestratorService struct {
	store     database.Store
	scenarios *ScenarioService
	platform  speech.Interface
	synth     speech.Synthesizer
	combiner  *DecisionCombiner
	reviews   *ReviewQueueService
	streaks   *DefectStreakService
	queue     messagequeue.Queue
	hub       broadcast.Broadcaster
	engine    config.Engine
	userID    string
	metrics   *cfotel.Metrics
	now       func() time.Time
}

// NewOrchestratorService creates an OrchestratorService.
func NewOrchestratorService(
	store database.Store,
	scenarios *ScenarioService,
	platform speech.Interface,
	combiner *DecisionCombiner,
	reviews *ReviewQueueService,
	streaks *DefectStreakService,
	engine config.Engine,
	speechCfg config.Speech,
) *OrchestratorService {
	return &OrchestratorService{
		store:     store,
		scenarios: scenarios,
		platform:  platform,
		combiner:  combiner,
		reviews:   reviews,
		streaks:   streaks,
		engine:    engine,
		userID:    speechCfg.UserID,
		now:       time.Now,
	}
}

// SetQueue enables validations.recorded publishing.
func (s *OrchestratorService) SetQueue(q messagequeue.Queue) { s.queue = q }

// SetHub enables live WebSocket events.
func (s *OrchestratorService) SetHub(h broadcast.Broadcaster) { s.hub = h }

// SetSynthesizer makes every turn send synthesized audio instead of text.
func (s *OrchestratorService) SetSynthesizer(sy speech.Synthesizer) { s.synth = sy }

// SetMetrics attaches OTEL instruments.
func (s *OrchestratorService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Execute runs a script from its first step. When req.ExecutionID names an
// existing execution it is continued instead, so redelivered requests do
// not run twice.
func (s *OrchestratorService) Execute(ctx context.Context, req ExecuteRequest) (*execution.Execution, error) {
	if req.ScenarioID == "" {
		return nil, fmt.Errorf("scenario_id is required: %w", domain.ErrValidation)
	}
	if req.ExecutionID != "" {
		_, err := s.store.GetExecution(ctx, req.ExecutionID)
		switch {
		case err == nil:
			return s.Resume(ctx, req.ExecutionID)
		case !errors.Is(err, domain.ErrNotFound):
			return nil, fmt.Errorf("execute: %w", err)
		}
	}

	sc, err := s.scenarios.Get(ctx, req.ScenarioID)
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}

	e := &execution.Execution{
		ID:            req.ExecutionID,
		ScenarioID:    sc.ID,
		ScriptVersion: sc.Version,
		Languages:     req.Languages,
		Status:        execution.StatusInProgress,
	}
	if err := s.store.CreateExecution(ctx, e); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ExecutionsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("scenario.id", sc.ID)))
	}

	owner := uuid.NewString()
	if err := s.lease(ctx, e.ID, owner); err != nil {
		return e, err
	}
	defer s.releaseLease(ctx, e.ID, owner)
	return s.run(ctx, sc, e, owner, nil, nil)
}

// Resume continues an in_progress execution from CurrentStep using the
// persisted carried state and the script version it started with. Turns of
// CurrentStep recorded before the interruption are not run again. Resuming
// an execution another runner holds fails with domain.ErrConflict.
func (s *OrchestratorService) Resume(ctx context.Context, executionID string) (*execution.Execution, error) {
	e, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("resume: %w", err)
	}
	if e.IsTerminal() {
		return e, fmt.Errorf("resume %s: execution is %s: %w", executionID, e.Status, domain.ErrConflict)
	}

	owner := uuid.NewString()
	if err := s.lease(ctx, e.ID, owner); err != nil {
		return e, err
	}
	defer s.releaseLease(ctx, e.ID, owner)

	// Reload under the lease; the previous runner may have moved it on.
	if e, err = s.store.GetExecution(ctx, executionID); err != nil {
		return nil, fmt.Errorf("resume: %w", err)
	}
	if e.IsTerminal() {
		return e, fmt.Errorf("resume %s: execution is %s: %w", executionID, e.Status, domain.ErrConflict)
	}

	sc, err := s.scenarios.GetVersion(ctx, e.ScenarioID, e.ScriptVersion)
	if err != nil {
		return nil, fmt.Errorf("resume: %w", err)
	}
	history, done, err := s.recorded(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("resume: %w", err)
	}
	return s.run(ctx, sc, e, owner, history, done)
}

// turnKey identifies one (step, language) turn of an execution.
type turnKey struct {
	step     int
	language string
}

// recordedTurn is a turn persisted before an interruption. result is nil
// when the run stopped between the validation record and the step result.
type recordedTurn struct {
	passed bool
	result *execution.StepResult
}

// recorded loads the primary history of the steps before CurrentStep and
// every turn already persisted from CurrentStep on.
func (s *OrchestratorService) recorded(ctx context.Context, e *execution.Execution) (conversation.History, map[turnKey]recordedTurn, error) {
	recs, err := s.store.ListValidations(ctx, e.ID)
	if err != nil {
		return nil, nil, err
	}
	results, err := s.store.ListStepResults(ctx, e.ID)
	if err != nil {
		return nil, nil, err
	}

	done := make(map[turnKey]recordedTurn)
	for i := range recs {
		if recs[i].StepPosition >= e.CurrentStep {
			done[turnKey{recs[i].StepPosition, recs[i].Language}] = recordedTurn{passed: recs[i].Passed()}
		}
	}

	var history conversation.History
	for i := range results {
		r := &results[i]
		if r.StepPosition >= e.CurrentStep {
			k := turnKey{r.StepPosition, r.Language}
			prev, ok := done[k]
			if !ok {
				prev.passed = r.Passed
			}
			prev.result = r
			done[k] = prev
			continue
		}
		if r.Primary && r.Error == "" {
			history = append(history, conversation.Turn{
				StepPosition:  r.StepPosition,
				Language:      r.Language,
				UserUtterance: r.Utterance,
				AIResponse:    r.SpokenResponse,
			})
		}
	}
	return history, done, nil
}

// lease takes or renews the execution lease for owner.
func (s *OrchestratorService) lease(ctx context.Context, executionID, owner string) error {
	now := s.now()
	ok, err := s.store.AcquireExecutionLease(ctx, executionID, owner, now, now.Add(s.engine.LeaseTTL))
	if err != nil {
		return fmt.Errorf("lease execution %s: %w", executionID, err)
	}
	if !ok {
		return fmt.Errorf("execution %s is held by another runner: %w", executionID, domain.ErrConflict)
	}
	return nil
}

func (s *OrchestratorService) releaseLease(ctx context.Context, executionID, owner string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.ReleaseExecutionLease(ctx, executionID, owner); err != nil {
		logger.From(ctx).Warn("failed to release execution lease", "execution_id", executionID, "error", err)
	}
}

// Summary returns an execution with its step results.
func (s *OrchestratorService) Summary(ctx context.Context, executionID string) (*execution.Summary, error) {
	e, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	steps, err := s.store.ListStepResults(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return &execution.Summary{Execution: *e, Steps: steps}, nil
}

// Validations returns the validation records of an execution in creation order.
func (s *OrchestratorService) Validations(ctx context.Context, executionID string) ([]validation.Record, error) {
	if _, err := s.store.GetExecution(ctx, executionID); err != nil {
		return nil, err
	}
	return s.store.ListValidations(ctx, executionID)
}

// List returns executions, optionally filtered by scenario.
func (s *OrchestratorService) List(ctx context.Context, scenarioID string) ([]execution.Execution, error) {
	return s.store.ListExecutions(ctx, scenarioID)
}

// run executes the script from e.CurrentStep while owner holds the lease.
// Turns in done are taken as recorded instead of being sent again.
func (s *OrchestratorService) run(
	ctx context.Context,
	sc *scenario.Script,
	e *execution.Execution,
	owner string,
	history conversation.History,
	done map[turnKey]recordedTurn,
) (*execution.Execution, error) {
	ctx = logger.WithExecutionID(ctx, e.ID)
	ctx, span := cfotel.StartExecutionSpan(ctx, e.ID, sc.ID)
	defer span.End()
	log := logger.From(ctx)

	mode := sc.ValidationMode
	if mode == "" {
		m, err := validation.ParseMode(s.engine.ValidationMode)
		if err != nil {
			m = validation.ModeHybrid
		}
		mode = m
	}

	log.Info("execution started", "scenario_id", sc.ID, "version", sc.Version, "from_step", e.CurrentStep, "mode", mode)
	s.broadcastStatus(ctx, e)

	for pos := e.CurrentStep; pos < len(sc.Steps); pos++ {
		step := &sc.Steps[pos]
		primary := sc.PrimaryFor(step, s.engine.DefaultLanguage)
		targets := step.Targets(e.Languages, primary, s.engine.DefaultLanguage)

		anyPassed := false
		carried := e.State
		for _, t := range targets {
			if prev, ok := done[turnKey{step.Position, t.Language}]; ok {
				log.Info("turn already recorded", "step", step.Position, "language", t.Language, "passed", prev.passed)
				if prev.passed {
					anyPassed = true
				}
				if t.Primary && prev.result != nil && prev.result.Error == "" {
					if prev.result.State != nil {
						carried = conversation.FromPlatform(prev.result.State)
					}
					history = append(history, conversation.Turn{
						StepPosition:  step.Position,
						Language:      t.Language,
						UserUtterance: prev.result.Utterance,
						AIResponse:    prev.result.SpokenResponse,
					})
				}
				continue
			}

			out, err := s.runTurn(ctx, sc, e, step, t, mode, history)
			if err != nil {
				// A conflicting record means another runner took over the turn.
				if !errors.Is(err, domain.ErrConflict) {
					s.abort(ctx, e, err)
				}
				span.SetStatus(codes.Error, err.Error())
				return e, err
			}
			if out.passed {
				anyPassed = true
			}
			if t.Primary && out.response != nil {
				if out.response.State != nil {
					carried = conversation.FromPlatform(out.response.State)
				}
				history = append(history, conversation.Turn{
					StepPosition:  step.Position,
					Language:      t.Language,
					UserUtterance: t.Utterance,
					AIResponse:    out.response.SpokenResponse,
				})
			}
		}

		if !anyPassed {
			reason := fmt.Sprintf("step %d: no language variant passed", step.Position)
			log.Warn("execution halted", "step", step.Position, "reason", reason)
			return s.finish(ctx, e, execution.StatusFailed, reason)
		}

		if err := s.lease(ctx, e.ID, owner); err != nil {
			log.Warn("execution lease lost", "step", step.Position, "error", err)
			span.SetStatus(codes.Error, err.Error())
			return e, err
		}
		e.State = carried
		e.CurrentStep = pos + 1
		if err := s.store.UpdateExecution(ctx, e); err != nil {
			err = fmt.Errorf("persist step %d: %w", step.Position, err)
			s.abort(ctx, e, err)
			span.SetStatus(codes.Error, err.Error())
			return e, err
		}
		s.broadcastStatus(ctx, e)
	}

	return s.finish(ctx, e, execution.StatusCompleted, "")
}

type turnOutcome struct {
	response *speech.Response
	passed   bool
}

// runTurn queries the platform for one (step, language) pair, judges the
// answer and persists the step result and validation record. Only
// persistence failures are returned as errors.
func (s *OrchestratorService) runTurn(
	ctx context.Context,
	sc *scenario.Script,
	e *execution.Execution,
	step *scenario.Step,
	t scenario.Target,
	mode validation.Mode,
	history conversation.History,
) (turnOutcome, error) {
	ctx, span := cfotel.StartTurnSpan(ctx, step.Position, t.Language)
	defer span.End()
	log := logger.From(ctx).With("step", step.Position, "language", t.Language)

	result := &execution.StepResult{
		ExecutionID:  e.ID,
		StepPosition: step.Position,
		Language:     t.Language,
		Primary:      t.Primary,
		Utterance:    t.Utterance,
	}

	resp, latency, err := s.query(ctx, e, t)
	result.LatencyMS = latency.Milliseconds()

	var rec *validation.Record
	if err != nil {
		log.Warn("speech query failed", "error", err)
		span.SetStatus(codes.Error, err.Error())
		result.Error = err.Error()
		rec = s.combiner.Absent(mode, err)
	} else {
		result.Transcript = resp.Transcript
		result.FormattedTranscript = resp.FormattedTranscript
		result.SpokenResponse = resp.SpokenResponse
		result.Classification = resp.Classification
		result.Confidence = resp.Confidence
		result.Entities = resp.Entities
		result.State = resp.State

		rec = s.combiner.Decide(ctx, DecisionInput{
			Mode:     mode,
			Expected: step.Expected,
			Observation: validation.Observation{
				Classification: resp.Classification,
				Confidence:     resp.Confidence,
				Response:       resp.SpokenResponse,
				Entities:       resp.Entities,
			},
			Behavioral: judge.BehavioralRequest{
				UserUtterance: t.Utterance,
				AIResponse:    resp.SpokenResponse,
				Context: judge.Context{
					StepPosition: step.Position,
					StepCount:    len(sc.Steps),
					ScenarioName: sc.Name,
					Language:     t.Language,
					History:      history.Before(step.Position, s.engine.HistoryTurns),
				},
			},
		})
	}
	rec.ExecutionID = e.ID
	rec.ScenarioID = sc.ID
	rec.StepPosition = step.Position
	rec.Language = t.Language

	item, routed := s.reviews.Route(rec)
	if err := s.store.CreateValidation(ctx, rec, item); err != nil {
		return turnOutcome{}, fmt.Errorf("persist validation for step %d/%s: %w", step.Position, t.Language, err)
	}

	result.ValidationID = rec.ID
	result.Passed = rec.Passed()
	if err := s.store.CreateStepResult(ctx, result); err != nil {
		return turnOutcome{}, fmt.Errorf("persist step result %d/%s: %w", step.Position, t.Language, err)
	}

	if routed {
		s.reviews.Enqueued(ctx, item)
	}
	if _, err := s.streaks.Observe(ctx, rec, sc.ID, e.ID); err != nil {
		return turnOutcome{}, fmt.Errorf("persist streak for step %d/%s: %w", step.Position, t.Language, err)
	}

	log.Info("turn validated",
		"decision", rec.FinalDecision,
		"review_status", rec.ReviewStatus,
		"deterministic", rec.DeterministicState,
		"llm", rec.LLMState,
	)
	var queueItemID string
	if item != nil {
		queueItemID = item.ID
	}
	s.announceValidation(ctx, rec, queueItemID)

	return turnOutcome{response: resp, passed: rec.Passed()}, nil
}

func (s *OrchestratorService) query(ctx context.Context, e *execution.Execution, t scenario.Target) (*speech.Response, time.Duration, error) {
	req := speech.Request{
		Utterance: t.Utterance,
		UserID:    s.userID,
		RequestID: uuid.NewString(),
		Info:      speech.Info{Language: t.Language, State: e.State.Platform()},
	}
	if s.synth != nil {
		audio, err := s.synth.Synthesize(ctx, t.Utterance, t.Language)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: synthesize: %w", speech.ErrUnavailable, err)
		}
		req.Audio = audio
	}

	start := time.Now()
	resp, err := s.platform.Query(ctx, req)
	latency := time.Since(start)
	if s.metrics != nil {
		s.metrics.SpeechLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(
			attribute.String("language", t.Language),
			attribute.Bool("error", err != nil),
		))
	}
	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	if err != nil && !errors.Is(err, speech.ErrUnavailable) {
		err = fmt.Errorf("%w: %w", speech.ErrUnavailable, err)
	}
	return resp, latency, err
}

func (s *OrchestratorService) finish(ctx context.Context, e *execution.Execution, status execution.Status, reason string) (*execution.Execution, error) {
	e.Finish(status, reason, s.now())
	if err := s.store.UpdateExecution(ctx, e); err != nil {
		err = fmt.Errorf("finish execution: %w", err)
		s.abort(ctx, e, err)
		return e, err
	}
	s.recordOutcome(ctx, e)
	logger.From(ctx).Info("execution finished", "status", e.Status, "steps_completed", e.CurrentStep)
	s.broadcastStatus(ctx, e)
	return e, nil
}

// abort marks the execution failed after a persistence error. The update is
// best effort and survives caller cancellation.
func (s *OrchestratorService) abort(ctx context.Context, e *execution.Execution, cause error) {
	ctx = context.WithoutCancel(ctx)
	e.Finish(execution.StatusFailed, cause.Error(), s.now())
	if err := s.store.UpdateExecution(ctx, e); err != nil {
		logger.From(ctx).Error("failed to mark execution failed", "error", err, "cause", cause)
	} else {
		logger.From(ctx).Error("execution aborted", "error", cause)
	}
	s.recordOutcome(ctx, e)
	s.broadcastStatus(ctx, e)
}

func (s *OrchestratorService) recordOutcome(ctx context.Context, e *execution.Execution) {
	if s.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("scenario.id", e.ScenarioID))
	if e.Status == execution.StatusCompleted {
		s.metrics.ExecutionsCompleted.Add(ctx, 1, attrs)
	} else {
		s.metrics.ExecutionsFailed.Add(ctx, 1, attrs)
	}
}

func (s *OrchestratorService) broadcastStatus(ctx context.Context, e *execution.Execution) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastEvent(ctx, ws.EventExecutionStatus, ws.ExecutionStatusEvent{
		ExecutionID: e.ID,
		ScenarioID:  e.ScenarioID,
		Status:      string(e.Status),
		CurrentStep: e.CurrentStep,
		Error:       e.Error,
	})
}

func (s *OrchestratorService) announceValidation(ctx context.Context, rec *validation.Record, queueItemID string) {
	if s.queue != nil {
		data, err := json.Marshal(messagequeue.ValidationRecordedPayload{
			ValidationID:  rec.ID,
			TenantID:      middleware.TenantIDFromContext(ctx),
			ExecutionID:   rec.ExecutionID,
			ScenarioID:    rec.ScenarioID,
			StepPosition:  rec.StepPosition,
			Language:      rec.Language,
			FinalDecision: string(rec.FinalDecision),
			ReviewStatus:  string(rec.ReviewStatus),
			QueueItemID:   queueItemID,
		})
		if err == nil {
			err = s.queue.Publish(ctx, messagequeue.SubjectValidationRecorded, data)
		}
		if err != nil {
			logger.From(ctx).Warn("failed to publish validation", "validation_id", rec.ID, "error", err)
		}
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventValidationRecorded, ws.ValidationRecordedEvent{
			ValidationID:  rec.ID,
			ExecutionID:   rec.ExecutionID,
			StepPosition:  rec.StepPosition,
			Language:      rec.Language,
			FinalDecision: string(rec.FinalDecision),
			ReviewStatus:  string(rec.ReviewStatus),
		})
	}
}
