package ws

import (
	"context"
	"encoding/json"
)

// Event type constants for WebSocket messages.
const (
	EventExecutionStatus    = "execution.status"
	EventValidationRecorded = "validation.recorded"
	EventReviewEnqueued     = "review.enqueued"
	EventDefectCreated      = "defect.created"
)

// ExecutionStatusEvent is broadcast when an execution starts, advances a
// step or reaches a terminal status.
type ExecutionStatusEvent struct {
	ExecutionID string `json:"execution_id"`
	ScenarioID  string `json:"scenario_id"`
	Status      string `json:"status"`
	CurrentStep int    `json:"current_step"`
	Error       string `json:"error,omitempty"`
}

// ValidationRecordedEvent is broadcast for every persisted validation record.
type ValidationRecordedEvent struct {
	ValidationID  string `json:"validation_id"`
	ExecutionID   string `json:"execution_id"`
	StepPosition  int    `json:"step_position"`
	Language      string `json:"language"`
	FinalDecision string `json:"final_decision"`
	ReviewStatus  string `json:"review_status"`
}

// ReviewEnqueuedEvent is broadcast when a record lands in the review queue.
type ReviewEnqueuedEvent struct {
	QueueItemID  string `json:"queue_item_id"`
	ValidationID string `json:"validation_id"`
	Priority     int    `json:"priority"`
	LanguageCode string `json:"language_code"`
}

// DefectCreatedEvent is broadcast when a failure streak files a defect.
type DefectCreatedEvent struct {
	DefectID     string `json:"defect_id"`
	ScenarioID   string `json:"scenario_id"`
	Language     string `json:"language"`
	StreakLength int    `json:"streak_length"`
	Title        string `json:"title"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
