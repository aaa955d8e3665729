package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Strob0t/VoiceForge/internal/domain/execution"
)

func TestPrintSummary(t *testing.T) {
	sum := &execution.Summary{
		Execution: execution.Execution{
			ID:            "e1",
			ScenarioID:    "weather",
			ScriptVersion: 2,
			Status:        execution.StatusFailed,
			Error:         "step 1: no language variant passed",
		},
		Steps: []execution.StepResult{
			{StepPosition: 0, Language: "en-US", Primary: true, Passed: true, Classification: "WeatherCommand", Confidence: 0.9},
			{StepPosition: 1, Language: "en-US", Primary: true, Error: "speech interface unavailable"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, printSummary(&buf, sum))
	out := buf.String()
	assert.Contains(t, out, "execution e1  scenario weather v2  failed")
	assert.Contains(t, out, "reason: step 1: no language variant passed")
	assert.Contains(t, out, "WeatherCommand")
	assert.Contains(t, out, "1/2 step results passed")
}

func TestRunRequiresScenario(t *testing.T) {
	root := newRootCommand(&App{})
	root.SetArgs([]string{"run", "--config", t.TempDir() + "/missing.yaml"})
	root.SetOut(&bytes.Buffer{})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--scenario or --file is required")
}

func TestMigrateDownRejectsBadSteps(t *testing.T) {
	root := newRootCommand(&App{})
	root.SetArgs([]string{"migrate", "down", "zero", "--config", t.TempDir() + "/missing.yaml"})
	root.SetOut(&bytes.Buffer{})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "steps must be a positive integer")
}

func TestExitErrorMessage(t *testing.T) {
	assert.Equal(t, "exit status 3", (&exitError{code: 3}).Error())
}
