package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Strob0t/VoiceForge/internal/domain/validation"
	"github.com/Strob0t/VoiceForge/internal/port/judge"
)

func weatherInput(mode validation.Mode) DecisionInput {
	return DecisionInput{
		Mode:     mode,
		Expected: weatherExpected(),
		Observation: validation.Observation{
			Classification: "WeatherCommand",
			Confidence:     0.95,
			Response:       "Today it is sunny.",
		},
		Behavioral: judge.BehavioralRequest{UserUtterance: "What's the weather?", AIResponse: "Today it is sunny."},
	}
}

func TestDecide_HybridRunsJudgesConcurrently(t *testing.T) {
	const delay = 150 * time.Millisecond
	llm := &fakeLLM{fn: func(ctx context.Context, _ judge.BehavioralRequest) (*judge.BehavioralVerdict, error) {
		time.Sleep(delay)
		return &judge.BehavioralVerdict{Decision: validation.LLMPass, Score: 0.9, Confidence: validation.ConfidenceHigh}, nil
	}}
	c := NewDecisionCombiner(&slowRules{delay: delay}, llm, time.Second)

	start := time.Now()
	rec := c.Decide(context.Background(), weatherInput(validation.ModeHybrid))
	elapsed := time.Since(start)

	assert.Equal(t, validation.DecisionPass, rec.FinalDecision)
	assert.Equal(t, validation.ReviewAutoPass, rec.ReviewStatus)
	assert.Less(t, elapsed, 2*delay-delay/4, "judges should overlap")
}

func TestDecide_RulesOnlyNeverCallsLLM(t *testing.T) {
	llm := llmReturning(validation.LLMFail, validation.ConfidenceHigh)
	c := NewDecisionCombiner(RuleJudge{}, llm, time.Second)

	rec := c.Decide(context.Background(), weatherInput(validation.ModeRulesOnly))

	assert.Equal(t, validation.DecisionPass, rec.FinalDecision)
	assert.Equal(t, validation.JudgeSkipped, rec.LLMState)
	assert.Empty(t, llm.Calls())
}

func TestDecide_LLMOnlySkipsRules(t *testing.T) {
	rules := &slowRules{}
	c := NewDecisionCombiner(rules, llmReturning(validation.LLMNeedsReview, validation.ConfidenceHigh), time.Second)

	rec := c.Decide(context.Background(), weatherInput(validation.ModeLLMOnly))

	assert.Equal(t, validation.DecisionUncertain, rec.FinalDecision)
	assert.Equal(t, validation.ReviewNeedsReview, rec.ReviewStatus)
	assert.Equal(t, validation.JudgeSkipped, rec.DeterministicState)
	assert.Zero(t, rules.calls)
}

func TestDecide_AbsentLLMIsUncertain(t *testing.T) {
	c := NewDecisionCombiner(RuleJudge{}, llmFailing(), time.Second)

	rec := c.Decide(context.Background(), weatherInput(validation.ModeHybrid))

	assert.Equal(t, validation.DecisionUncertain, rec.FinalDecision)
	assert.Equal(t, validation.ReviewNeedsReview, rec.ReviewStatus)
	assert.Equal(t, validation.JudgeAbsent, rec.LLMState)
	assert.Contains(t, rec.LLMError, judge.ErrUnavailable.Error())
	require.NotNil(t, rec.Deterministic)
	assert.True(t, rec.Deterministic.Passed)
}

func TestDecide_InvalidRuleMakesRulesAbsent(t *testing.T) {
	c := NewDecisionCombiner(RuleJudge{}, llmReturning(validation.LLMFail, validation.ConfidenceHigh), time.Second)
	in := weatherInput(validation.ModeHybrid)
	in.Expected.Rules = []validation.Rule{{Kind: validation.RuleRegex, Patterns: []string{"("}}}

	rec := c.Decide(context.Background(), in)

	assert.Equal(t, validation.JudgeAbsent, rec.DeterministicState)
	assert.Equal(t, validation.DecisionUncertain, rec.FinalDecision, "an absent judge never counts as fail")
}

func TestDecide_LLMTimeout(t *testing.T) {
	llm := &fakeLLM{fn: func(ctx context.Context, _ judge.BehavioralRequest) (*judge.BehavioralVerdict, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	c := NewDecisionCombiner(RuleJudge{}, llm, 30*time.Millisecond)

	start := time.Now()
	rec := c.Decide(context.Background(), weatherInput(validation.ModeHybrid))

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, validation.JudgeAbsent, rec.LLMState)
	assert.Equal(t, validation.ReviewNeedsReview, rec.ReviewStatus)
}

func TestDecide_MalformedVerdictIsAbsent(t *testing.T) {
	llm := &fakeLLM{fn: func(context.Context, judge.BehavioralRequest) (*judge.BehavioralVerdict, error) {
		return &judge.BehavioralVerdict{Decision: "maybe", Confidence: validation.ConfidenceHigh}, nil
	}}
	c := NewDecisionCombiner(RuleJudge{}, llm, time.Second)

	rec := c.Decide(context.Background(), weatherInput(validation.ModeHybrid))
	assert.Equal(t, validation.JudgeAbsent, rec.LLMState)
}

func TestDecide_LowConfidencePassNeedsReview(t *testing.T) {
	c := NewDecisionCombiner(RuleJudge{}, llmReturning(validation.LLMPass, validation.ConfidenceLow), time.Second)

	rec := c.Decide(context.Background(), weatherInput(validation.ModeHybrid))

	assert.Equal(t, validation.DecisionPass, rec.FinalDecision)
	assert.Equal(t, validation.ReviewNeedsReview, rec.ReviewStatus)
}

func TestAbsent_BothJudgesMissing(t *testing.T) {
	c := NewDecisionCombiner(RuleJudge{}, llmFailing(), time.Second)

	rec := c.Absent(validation.ModeHybrid, assert.AnError)

	assert.Equal(t, validation.JudgeAbsent, rec.DeterministicState)
	assert.Equal(t, validation.JudgeAbsent, rec.LLMState)
	assert.Equal(t, validation.DecisionUncertain, rec.FinalDecision)
	assert.Equal(t, validation.ReviewNeedsReview, rec.ReviewStatus)
}
