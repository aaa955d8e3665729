package defect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObservationValidate(t *testing.T) {
	assert.NoError(t, Observation{ScenarioID: "s", Language: "en-US", Threshold: 5}.Validate())
	assert.Error(t, Observation{Language: "en-US", Threshold: 5}.Validate())
	assert.Error(t, Observation{ScenarioID: "s", Language: "en-US"}.Validate())
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Scenario s1 failing in de-DE: 5 consecutive auto_fail results", Title("s1", "de-DE", 5))
}
