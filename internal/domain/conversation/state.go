// Package conversation models the assistant-side memory that is carried from
// one turn to the next, and the turn history handed to the LLM judge.
package conversation

import "maps"

// Keys the engine reads out of the platform's otherwise opaque state bag.
const (
	KeyConversationID = "conversation_id"
	KeyTurnCount      = "turn_count"
)

// State is the conversation memory the platform returned on the previous
// primary-language turn. The zero value means "first turn".
type State struct {
	ConversationID string         `json:"conversation_id,omitempty"`
	TurnCount      int            `json:"turn_count"`
	Data           map[string]any `json:"data,omitempty"`
}

// FromPlatform wraps a state bag returned by the platform. A nil bag yields
// the zero State.
func FromPlatform(raw map[string]any) State {
	if raw == nil {
		return State{}
	}
	s := State{Data: maps.Clone(raw)}
	if id, ok := raw[KeyConversationID].(string); ok {
		s.ConversationID = id
	}
	switch n := raw[KeyTurnCount].(type) {
	case int:
		s.TurnCount = n
	case int64:
		s.TurnCount = int(n)
	case float64:
		s.TurnCount = int(n)
	}
	return s
}

// IsZero reports whether no state has been carried yet.
func (s State) IsZero() bool {
	return s.ConversationID == "" && s.TurnCount == 0 && len(s.Data) == 0
}

// Platform returns the bag to send with the next request, or nil on the
// first turn.
func (s State) Platform() map[string]any {
	if s.IsZero() {
		return nil
	}
	return maps.Clone(s.Data)
}

// Turn is one completed exchange in the primary language.
type Turn struct {
	StepPosition  int    `json:"step_position"`
	Language      string `json:"language"`
	UserUtterance string `json:"user_utterance"`
	AIResponse    string `json:"ai_response"`
}

// History is the ordered list of completed turns of an execution.
type History []Turn

// Before returns at most limit turns that precede stepPosition, oldest first.
// A limit <= 0 returns none.
func (h History) Before(stepPosition, limit int) []Turn {
	if limit <= 0 {
		return nil
	}
	var prior []Turn
	for _, t := range h {
		if t.StepPosition < stepPosition {
			prior = append(prior, t)
		}
	}
	if len(prior) > limit {
		prior = prior[len(prior)-limit:]
	}
	return prior
}
