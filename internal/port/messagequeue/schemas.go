package messagequeue

// ExecutionRequestedPayload is the schema for executions.requested messages.
type ExecutionRequestedPayload struct {
	ExecutionID string   `json:"execution_id"`
	ScenarioID  string   `json:"scenario_id"`
	TenantID    string   `json:"tenant_id"`
	Languages   []string `json:"languages,omitempty"`
}

// ValidationRecordedPayload is the schema for validations.recorded messages.
type ValidationRecordedPayload struct {
	ValidationID  string `json:"validation_id"`
	TenantID      string `json:"tenant_id"`
	ExecutionID   string `json:"execution_id"`
	ScenarioID    string `json:"scenario_id"`
	StepPosition  int    `json:"step_position"`
	Language      string `json:"language"`
	FinalDecision string `json:"final_decision"`
	ReviewStatus  string `json:"review_status"`
	QueueItemID   string `json:"queue_item_id,omitempty"`
}

// DefectCreatedPayload is the schema for defects.created messages.
type DefectCreatedPayload struct {
	DefectID           string `json:"defect_id"`
	TenantID           string `json:"tenant_id"`
	ScenarioID         string `json:"scenario_id"`
	ExecutionID        string `json:"execution_id"`
	Language           string `json:"language"`
	ValidationRecordID string `json:"validation_record_id"`
	StreakLength       int    `json:"streak_length"`
	Title              string `json:"title"`
}
