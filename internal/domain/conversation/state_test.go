package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromPlatform(t *testing.T) {
	raw := map[string]any{
		KeyConversationID: "conv-1",
		KeyTurnCount:      float64(3),
		"slot.city":       "Berlin",
	}
	s := FromPlatform(raw)

	assert.Equal(t, "conv-1", s.ConversationID)
	assert.Equal(t, 3, s.TurnCount)
	assert.Equal(t, "Berlin", s.Data["slot.city"])

	raw["slot.city"] = "Paris"
	assert.Equal(t, "Berlin", s.Data["slot.city"], "state must not alias the platform map")
}

func TestFromPlatformNil(t *testing.T) {
	s := FromPlatform(nil)
	assert.True(t, s.IsZero())
	assert.Nil(t, s.Platform())
}

func TestPlatformRoundTrip(t *testing.T) {
	s := FromPlatform(map[string]any{KeyConversationID: "c", "k": "v"})
	out := s.Platform()
	assert.Equal(t, "v", out["k"])

	out["k"] = "changed"
	assert.Equal(t, "v", s.Data["k"])
}

func TestHistoryBefore(t *testing.T) {
	h := History{
		{StepPosition: 0, UserUtterance: "a"},
		{StepPosition: 1, UserUtterance: "b"},
		{StepPosition: 2, UserUtterance: "c"},
		{StepPosition: 3, UserUtterance: "d"},
	}

	got := h.Before(3, 2)
	assert.Equal(t, []Turn{{StepPosition: 1, UserUtterance: "b"}, {StepPosition: 2, UserUtterance: "c"}}, got)

	assert.Len(t, h.Before(3, 10), 3, "current and later turns excluded")
	assert.Empty(t, h.Before(0, 5))
	assert.Nil(t, h.Before(3, 0))
}
