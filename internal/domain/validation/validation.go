// Package validation defines the judges' outcomes for a single executed
// (step, language) pair and the rules that turn them into a final decision
// and a review status.
package validation

import (
	"fmt"
	"time"
)

// Mode selects which judges contribute to a final decision.
type Mode string

const (
	ModeRulesOnly Mode = "rules_only"
	ModeLLMOnly   Mode = "llm_only"
	ModeHybrid    Mode = "hybrid"
)

// ParseMode validates s. The empty string maps to ModeHybrid.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeHybrid, nil
	case ModeRulesOnly, ModeLLMOnly, ModeHybrid:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown validation mode %q", s)
}

// UsesRules reports whether the deterministic judge runs in this mode.
func (m Mode) UsesRules() bool { return m == ModeRulesOnly || m == ModeHybrid }

// UsesLLM reports whether the LLM ensemble runs in this mode.
func (m Mode) UsesLLM() bool { return m == ModeLLMOnly || m == ModeHybrid }

// Decision is the reconciled outcome of a validation record.
type Decision string

const (
	DecisionPass      Decision = "pass"
	DecisionFail      Decision = "fail"
	DecisionUncertain Decision = "uncertain"
)

// ReviewStatus is the operational label that drives queueing and streaks.
type ReviewStatus string

const (
	ReviewAutoPass    ReviewStatus = "auto_pass"
	ReviewAutoFail    ReviewStatus = "auto_fail"
	ReviewNeedsReview ReviewStatus = "needs_review"
)

// JudgeState tells reviewers whether a judge contributed to the decision.
type JudgeState string

const (
	JudgeOK      JudgeState = "ok"
	JudgeAbsent  JudgeState = "absent"  // invoked but failed
	JudgeSkipped JudgeState = "skipped" // not required by the mode
)

// Record is the validation outcome for one executed (step, language).
// FinalDecision and ReviewStatus are only ever set by Finalize.
type Record struct {
	ID                 string               `json:"id"`
	TenantID           string               `json:"tenant_id,omitempty"`
	ExecutionID        string               `json:"execution_id"`
	ScenarioID         string               `json:"scenario_id"`
	StepPosition       int                  `json:"step_position"`
	Language           string               `json:"language"`
	Mode               Mode                 `json:"mode"`
	Deterministic      *DeterministicResult `json:"deterministic,omitempty"`
	DeterministicState JudgeState           `json:"deterministic_state"`
	DeterministicError string               `json:"deterministic_error,omitempty"`
	LLM                *LLMVerdict          `json:"llm,omitempty"`
	LLMState           JudgeState           `json:"llm_state"`
	LLMError           string               `json:"llm_error,omitempty"`
	SpeechError        string               `json:"speech_error,omitempty"`
	FinalDecision      Decision             `json:"final_decision"`
	ReviewStatus       ReviewStatus         `json:"review_status"`
	CreatedAt          time.Time            `json:"created_at"`
}

// Finalize derives FinalDecision and ReviewStatus from the judge outcomes
// currently on the record.
func (r *Record) Finalize() {
	r.FinalDecision = Combine(r.Mode, r.Deterministic, r.LLM)
	var conf Confidence
	if r.LLM != nil {
		conf = r.LLM.Confidence
	}
	r.ReviewStatus = DeriveReviewStatus(r.FinalDecision, conf)
}

// Passed reports whether the record counts as a passing vote for its step.
func (r *Record) Passed() bool { return r.FinalDecision == DecisionPass }

// ConfidenceScore is the scalar used for queue prioritization: the
// deterministic score when present, else the LLM score, else 0.
func (r *Record) ConfidenceScore() float64 {
	switch {
	case r.Deterministic != nil:
		return r.Deterministic.Score
	case r.LLM != nil:
		return r.LLM.Score
	}
	return 0
}
