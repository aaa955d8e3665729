package service

import (
	"context"
	"fmt"

	"github.com/Strob0t/VoiceForge/internal/domain/validation"
	"github.com/Strob0t/VoiceForge/internal/port/judge"
)

// RuleJudge is the in-process deterministic judge.
type RuleJudge struct{}

// Evaluate runs the rule interpreter. A malformed rule makes the judge
// unavailable rather than failing the turn.
func (RuleJudge) Evaluate(_ context.Context, req judge.DeterministicRequest) (*validation.DeterministicResult, error) {
	res, err := validation.Evaluate(req.Expected, req.Observation)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", judge.ErrUnavailable, err)
	}
	return res, nil
}
