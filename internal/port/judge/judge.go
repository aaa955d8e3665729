// Package judge defines the two validation judges composed by the decision
// combiner.
package judge

import (
	"context"
	"errors"

	"github.com/Strob0t/VoiceForge/internal/domain/conversation"
	"github.com/Strob0t/VoiceForge/internal/domain/validation"
)

// ErrUnavailable wraps any judge failure. The judge's contribution is then
// treated as absent.
var ErrUnavailable = errors.New("judge unavailable")

// DeterministicRequest is the input to the rule judge.
type DeterministicRequest struct {
	Expected    *validation.ExpectedOutcome
	Observation validation.Observation
}

// DeterministicJudge checks a response against explicit rules.
type DeterministicJudge interface {
	Evaluate(ctx context.Context, req DeterministicRequest) (*validation.DeterministicResult, error)
}

// Context is the bundle sent to the LLM ensemble alongside a turn.
type Context struct {
	StepPosition int                 `json:"step_position"`
	StepCount    int                 `json:"step_count"`
	ScenarioName string              `json:"scenario_name"`
	Language     string              `json:"language"`
	History      []conversation.Turn `json:"history,omitempty"`
}

// BehavioralRequest is the input to the LLM ensemble.
type BehavioralRequest struct {
	UserUtterance string  `json:"user_utterance"`
	AIResponse    string  `json:"ai_response"`
	Context       Context `json:"context"`
}

// BehavioralVerdict is the ensemble's output.
type BehavioralVerdict = validation.LLMVerdict

// BehavioralJudge is the external LLM ensemble.
type BehavioralJudge interface {
	Evaluate(ctx context.Context, req BehavioralRequest) (*BehavioralVerdict, error)
}
