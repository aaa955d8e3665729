package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	cfotel "github.com/Strob0t/VoiceForge/internal/adapter/otel"
	"github.com/Strob0t/VoiceForge/internal/domain/validation"
	"github.com/Strob0t/VoiceForge/internal/port/judge"
)

// DecisionInput is everything needed to judge one (step, language) turn.
type DecisionInput struct {
	Mode        validation.Mode
	Expected    *validation.ExpectedOutcome
	Observation validation.Observation
	Behavioral  judge.BehavioralRequest
}

// DecisionCombiner runs the judges a mode requires and reconciles them into
// a validation record. Judge failures never fail a record; they mark the
// judge absent.
type DecisionCombiner struct {
	rules      judge.DeterministicJudge
	llm        judge.BehavioralJudge
	llmTimeout time.Duration
	metrics    *cfotel.Metrics
}

// NewDecisionCombiner creates a DecisionCombiner. llmTimeout bounds the
// behavioral judge; zero leaves it to the caller's context.
func NewDecisionCombiner(rules judge.DeterministicJudge, llm judge.BehavioralJudge, llmTimeout time.Duration) *DecisionCombiner {
	return &DecisionCombiner{rules: rules, llm: llm, llmTimeout: llmTimeout}
}

// SetMetrics attaches OTEL instruments.
func (c *DecisionCombiner) SetMetrics(m *cfotel.Metrics) { c.metrics = m }

// Decide evaluates in and returns an unsaved record with both judges'
// outputs, their states, the final decision and the review status.
func (c *DecisionCombiner) Decide(ctx context.Context, in DecisionInput) *validation.Record {
	mode := in.Mode
	if mode == "" {
		mode = validation.ModeHybrid
	}
	rec := &validation.Record{
		Mode:               mode,
		DeterministicState: validation.JudgeSkipped,
		LLMState:           validation.JudgeSkipped,
	}

	// Judges report failures through the record, so the group never cancels
	// a sibling.
	var g errgroup.Group
	if mode.UsesRules() {
		g.Go(func() error {
			res, err := c.evaluateRules(ctx, in)
			if err != nil {
				rec.DeterministicState = validation.JudgeAbsent
				rec.DeterministicError = err.Error()
				return nil
			}
			rec.Deterministic = res
			rec.DeterministicState = validation.JudgeOK
			return nil
		})
	}
	if mode.UsesLLM() {
		g.Go(func() error {
			v, err := c.evaluateLLM(ctx, in.Behavioral)
			if err != nil {
				rec.LLMState = validation.JudgeAbsent
				rec.LLMError = err.Error()
				return nil
			}
			rec.LLM = v
			rec.LLMState = validation.JudgeOK
			return nil
		})
	}
	_ = g.Wait()

	rec.Finalize()
	if c.metrics != nil {
		c.metrics.Decisions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("mode", string(mode)),
			attribute.String("decision", string(rec.FinalDecision)),
			attribute.String("review_status", string(rec.ReviewStatus)),
		))
	}
	return rec
}

// Absent builds the record for a turn the platform never answered: every
// judge the mode requires is marked absent and the record needs review.
func (c *DecisionCombiner) Absent(mode validation.Mode, cause error) *validation.Record {
	if mode == "" {
		mode = validation.ModeHybrid
	}
	rec := &validation.Record{
		Mode:               mode,
		DeterministicState: validation.JudgeSkipped,
		LLMState:           validation.JudgeSkipped,
		SpeechError:        cause.Error(),
	}
	if mode.UsesRules() {
		rec.DeterministicState = validation.JudgeAbsent
	}
	if mode.UsesLLM() {
		rec.LLMState = validation.JudgeAbsent
	}
	rec.Finalize()
	return rec
}

func (c *DecisionCombiner) evaluateRules(ctx context.Context, in DecisionInput) (*validation.DeterministicResult, error) {
	if c.rules == nil {
		return nil, fmt.Errorf("%w: no deterministic judge configured", judge.ErrUnavailable)
	}
	ctx, span := cfotel.StartJudgeSpan(ctx, "deterministic")
	defer span.End()
	start := time.Now()

	res, err := c.rules.Evaluate(ctx, judge.DeterministicRequest{Expected: in.Expected, Observation: in.Observation})
	c.recordLatency(ctx, "deterministic", start)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("deterministic judge unavailable", "error", err)
		return nil, err
	}
	return res, nil
}

func (c *DecisionCombiner) evaluateLLM(ctx context.Context, req judge.BehavioralRequest) (*validation.LLMVerdict, error) {
	if c.llm == nil {
		return nil, fmt.Errorf("%w: no behavioral judge configured", judge.ErrUnavailable)
	}
	if c.llmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.llmTimeout)
		defer cancel()
	}
	ctx, span := cfotel.StartJudgeSpan(ctx, "llm_ensemble")
	defer span.End()
	start := time.Now()

	v, err := c.llm.Evaluate(ctx, req)
	c.recordLatency(ctx, "llm_ensemble", start)
	if err == nil && (v == nil || !v.Valid()) {
		err = fmt.Errorf("%w: malformed verdict", judge.ErrUnavailable)
	}
	if err != nil {
		if !errors.Is(err, judge.ErrUnavailable) {
			err = fmt.Errorf("%w: %w", judge.ErrUnavailable, err)
		}
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("llm judge unavailable", "language", req.Context.Language, "step", req.Context.StepPosition, "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.String("judge.decision", string(v.Decision)))
	return v, nil
}

func (c *DecisionCombiner) recordLatency(ctx context.Context, name string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.JudgeLatency.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("judge.name", name)))
}
