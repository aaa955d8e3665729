package review

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Strob0t/VoiceForge/internal/domain/validation"
)

func record(final validation.Decision, status validation.ReviewStatus) *validation.Record {
	return &validation.Record{FinalDecision: final, ReviewStatus: status}
}

func TestPriorityFor(t *testing.T) {
	tests := []struct {
		name        string
		rec         *validation.Record
		calibration bool
		want        int
	}{
		{"auto_fail", record(validation.DecisionFail, validation.ReviewAutoFail), false, PriorityAutoFail},
		{"uncertain", record(validation.DecisionUncertain, validation.ReviewNeedsReview), false, PriorityUncertain},
		{"low confidence pass", record(validation.DecisionPass, validation.ReviewNeedsReview), false, PriorityNeedsReview},
		{"low confidence fail", record(validation.DecisionFail, validation.ReviewNeedsReview), false, PriorityNeedsReview},
		{"calibration", record(validation.DecisionPass, validation.ReviewAutoPass), true, PriorityCalibration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PriorityFor(tt.rec, tt.calibration))
		})
	}
}

func TestMatchTier(t *testing.T) {
	assert.Equal(t, MatchExact, MatchTier("en-US", "en-US"))
	assert.Equal(t, MatchExact, MatchTier("en-us", "en-US"))
	assert.Equal(t, MatchBase, MatchTier("en-GB", "en-US"))
	assert.Equal(t, MatchBase, MatchTier("en", "en-US"))
	assert.Equal(t, MatchNone, MatchTier("de-DE", "en-US"))
	assert.Equal(t, MatchNone, MatchTier("en-US", ""))
}

func TestBaseLanguage(t *testing.T) {
	assert.Equal(t, "en", BaseLanguage("en-US"))
	assert.Equal(t, "pt", BaseLanguage("pt_BR"))
	assert.Equal(t, "de", BaseLanguage("DE"))
}

func TestClaimExpired(t *testing.T) {
	now := time.Now()
	old := now.Add(-31 * time.Minute)
	fresh := now.Add(-5 * time.Minute)

	assert.True(t, (&QueueItem{Status: StatusClaimed, ClaimedAt: &old}).ClaimExpired(now, 30*time.Minute))
	assert.False(t, (&QueueItem{Status: StatusClaimed, ClaimedAt: &fresh}).ClaimExpired(now, 30*time.Minute))
	assert.False(t, (&QueueItem{Status: StatusPending, ClaimedAt: &old}).ClaimExpired(now, 30*time.Minute))
}

func TestCompleteRequestValidate(t *testing.T) {
	assert.NoError(t, CompleteRequest{Verdict: VerdictFail}.Validate())
	assert.Error(t, CompleteRequest{Verdict: "maybe"}.Validate())
}
