package validation

import (
	"maps"
	"slices"
)

// LLMDecision is the ensemble's own verdict vocabulary.
type LLMDecision string

const (
	LLMPass        LLMDecision = "pass"
	LLMFail        LLMDecision = "fail"
	LLMNeedsReview LLMDecision = "needs_review"
)

// Confidence is the ensemble's self-reported confidence bucket.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// LLMVerdict is the ensemble's outcome for one turn.
type LLMVerdict struct {
	Decision   LLMDecision `json:"decision"`
	Score      float64     `json:"score"`
	Confidence Confidence  `json:"confidence"`
}

// Valid reports whether v uses the ensemble's documented vocabulary.
func (v *LLMVerdict) Valid() bool {
	switch v.Decision {
	case LLMPass, LLMFail, LLMNeedsReview:
	default:
		return false
	}
	switch v.Confidence {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
	default:
		return false
	}
	return v.Score >= 0 && v.Score <= 1
}

// Combine reconciles the judges for mode. A nil judge result means the judge
// was required but unavailable; any missing required judge yields
// DecisionUncertain, never DecisionFail.
func Combine(mode Mode, det *DeterministicResult, llm *LLMVerdict) Decision {
	switch mode {
	case ModeRulesOnly:
		if det == nil {
			return DecisionUncertain
		}
		return ruleDecision(det)

	case ModeLLMOnly:
		if llm == nil {
			return DecisionUncertain
		}
		return llmDecision(llm)

	default:
		if det == nil || llm == nil {
			return DecisionUncertain
		}
		d, l := ruleDecision(det), llmDecision(llm)
		if d == l {
			return d
		}
		return DecisionUncertain
	}
}

// DeriveReviewStatus is the single source of review statuses. llmConfidence
// is empty when the LLM did not contribute.
func DeriveReviewStatus(final Decision, llmConfidence Confidence) ReviewStatus {
	switch {
	case final == DecisionUncertain:
		return ReviewNeedsReview
	case llmConfidence == ConfidenceLow:
		return ReviewNeedsReview
	case final == DecisionPass:
		return ReviewAutoPass
	case final == DecisionFail:
		return ReviewAutoFail
	}
	return ReviewNeedsReview
}

func ruleDecision(det *DeterministicResult) Decision {
	if det.Passed {
		return DecisionPass
	}
	return DecisionFail
}

func llmDecision(v *LLMVerdict) Decision {
	switch v.Decision {
	case LLMPass:
		return DecisionPass
	case LLMFail:
		return DecisionFail
	}
	return DecisionUncertain
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}
