// Package execution defines one run of a scenario script and the raw
// per-language results it records.
package execution

import (
	"time"

	"github.com/Strob0t/VoiceForge/internal/domain/conversation"
)

// Status represents the lifecycle state of an execution.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Execution is a single run of a scenario. CurrentStep points at the next
// step to execute; State is the primary language's memory carried into it.
type Execution struct {
	ID            string             `json:"id"`
	TenantID      string             `json:"tenant_id,omitempty"`
	ScenarioID    string             `json:"scenario_id"`
	ScriptVersion int                `json:"script_version"`
	Languages     []string           `json:"languages,omitempty"`
	Status        Status             `json:"status"`
	CurrentStep   int                `json:"current_step"`
	State         conversation.State `json:"state"`
	Error         string             `json:"error,omitempty"`
	StartedAt     time.Time          `json:"started_at"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// IsTerminal reports whether the execution can no longer advance.
func (e *Execution) IsTerminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusFailed
}

// Finish marks the execution terminal with status and an optional reason.
func (e *Execution) Finish(status Status, reason string, now time.Time) {
	e.Status = status
	e.Error = reason
	e.CompletedAt = &now
	e.UpdatedAt = now
}

// Handle returns the caller-facing reference to e.
func (e *Execution) Handle() Handle {
	return Handle{ExecutionID: e.ID, ScenarioID: e.ScenarioID, Status: e.Status}
}

// Handle is what a caller gets back when it requests an execution.
type Handle struct {
	ExecutionID string `json:"execution_id"`
	ScenarioID  string `json:"scenario_id"`
	Status      Status `json:"status"`
}

// StepResult holds the assistant's raw response for one (step, language).
type StepResult struct {
	ID                  string         `json:"id"`
	ExecutionID         string         `json:"execution_id"`
	StepPosition        int            `json:"step_position"`
	Language            string         `json:"language"`
	Primary             bool           `json:"primary"`
	Utterance           string         `json:"utterance"`
	Transcript          string         `json:"transcript,omitempty"`
	FormattedTranscript string         `json:"formatted_transcript,omitempty"`
	SpokenResponse      string         `json:"spoken_response,omitempty"`
	Classification      string         `json:"classification,omitempty"`
	Confidence          float64        `json:"confidence"`
	Entities            map[string]any `json:"entities,omitempty"`
	State               map[string]any `json:"state,omitempty"`
	LatencyMS           int64          `json:"latency_ms"`
	Error               string         `json:"error,omitempty"`
	Passed              bool           `json:"passed"`
	ValidationID        string         `json:"validation_id,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
}

// Summary condenses an execution for CLI and API consumers.
type Summary struct {
	Execution Execution    `json:"execution"`
	Steps     []StepResult `json:"steps"`
}

// PassedCount returns how many step results passed.
func (s *Summary) PassedCount() int {
	n := 0
	for i := range s.Steps {
		if s.Steps[i].Passed {
			n++
		}
	}
	return n
}
