// Package defect defines consecutive-failure streaks and the defects filed
// when a streak reaches its threshold.
package defect

import (
	"fmt"
	"time"
)

// Streak is the persisted consecutive auto_fail count for one
// (tenant, scenario, language).
type Streak struct {
	TenantID     string    `json:"tenant_id,omitempty"`
	ScenarioID   string    `json:"scenario_id"`
	Language     string    `json:"language"`
	Count        int       `json:"count"`
	LastRecordID string    `json:"last_record_id,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Defect is filed once per streak that reaches the threshold.
type Defect struct {
	ID                 string    `json:"id"`
	TenantID           string    `json:"tenant_id,omitempty"`
	ScenarioID         string    `json:"scenario_id"`
	ExecutionID        string    `json:"execution_id"`
	Language           string    `json:"language"`
	ValidationRecordID string    `json:"validation_record_id"`
	StreakLength       int       `json:"streak_length"`
	Title              string    `json:"title"`
	CreatedAt          time.Time `json:"created_at"`
}

// Observation is one validation outcome fed to a streak. Failed is true for
// auto_fail records only.
type Observation struct {
	ScenarioID         string
	ExecutionID        string
	Language           string
	ValidationRecordID string
	Failed             bool
	Threshold          int
}

// Validate checks the observation identifies a streak.
func (o Observation) Validate() error {
	if o.ScenarioID == "" || o.Language == "" {
		return fmt.Errorf("scenario_id and language are required")
	}
	if o.Threshold < 1 {
		return fmt.Errorf("threshold must be >= 1")
	}
	return nil
}

// Title is the default defect title.
func Title(scenarioID, language string, streak int) string {
	return fmt.Sprintf("Scenario %s failing in %s: %d consecutive auto_fail results", scenarioID, language, streak)
}
