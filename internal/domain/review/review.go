// Package review defines the human-review queue: items, their claim
// lifecycle and routing priorities.
package review

import (
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/VoiceForge/internal/domain/validation"
)

// Status is a queue item's claim lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusClaimed   Status = "claimed"
	StatusCompleted Status = "completed"
)

// Verdict is the human reviewer's judgement.
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
)

// Queue priorities; lower is more urgent.
const (
	PriorityAutoFail    = 1
	PriorityUncertain   = 2
	PriorityNeedsReview = 5
	PriorityCalibration = 10
)

// QueueItem references one validation record awaiting human review.
type QueueItem struct {
	ID                 string     `json:"id"`
	TenantID           string     `json:"tenant_id,omitempty"`
	ValidationRecordID string     `json:"validation_record_id"`
	Status             Status     `json:"status"`
	Priority           int        `json:"priority"`
	ConfidenceScore    float64    `json:"confidence_score"`
	LanguageCode       string     `json:"language_code"`
	Calibration        bool       `json:"calibration"`
	ClaimedBy          string     `json:"claimed_by,omitempty"`
	ClaimedAt          *time.Time `json:"claimed_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	Verdict            Verdict    `json:"verdict,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// PriorityFor returns the queue priority for rec. calibration marks an
// auto_pass record sampled for reviewer calibration.
func PriorityFor(rec *validation.Record, calibration bool) int {
	switch {
	case rec.ReviewStatus == validation.ReviewAutoFail:
		return PriorityAutoFail
	case rec.FinalDecision == validation.DecisionUncertain:
		return PriorityUncertain
	case rec.ReviewStatus == validation.ReviewAutoPass && calibration:
		return PriorityCalibration
	}
	return PriorityNeedsReview
}

// BaseLanguage returns the lower-cased primary subtag: "en-US" -> "en".
func BaseLanguage(code string) string {
	base, _, _ := strings.Cut(code, "-")
	base, _, _ = strings.Cut(base, "_")
	return strings.ToLower(base)
}

// Language match tiers used to order pending items for a reviewer.
const (
	MatchExact = iota
	MatchBase
	MatchNone
)

// MatchTier ranks itemLang against a reviewer's preference. An empty
// preference matches nothing, so only global ordering applies.
func MatchTier(itemLang, pref string) int {
	switch {
	case pref == "":
		return MatchNone
	case strings.EqualFold(itemLang, pref):
		return MatchExact
	case BaseLanguage(itemLang) == BaseLanguage(pref):
		return MatchBase
	}
	return MatchNone
}

// ClaimExpired reports whether a claimed item has been held past timeout.
func (q *QueueItem) ClaimExpired(now time.Time, timeout time.Duration) bool {
	return q.Status == StatusClaimed && q.ClaimedAt != nil && now.Sub(*q.ClaimedAt) > timeout
}

// CompleteRequest is the reviewer's decision on a claimed item.
type CompleteRequest struct {
	Verdict Verdict `json:"verdict"`
	Notes   string  `json:"notes,omitempty"`
}

// Validate checks the verdict vocabulary.
func (r CompleteRequest) Validate() error {
	if r.Verdict != VerdictPass && r.Verdict != VerdictFail {
		return fmt.Errorf("verdict must be %q or %q", VerdictPass, VerdictFail)
	}
	return nil
}

// Detail pairs an item with the record it references so reviewers can see
// both judges' raw outputs.
type Detail struct {
	Item   QueueItem         `json:"item"`
	Record validation.Record `json:"record"`
}

// Stats counts queue items per status.
type Stats struct {
	Pending   int `json:"pending"`
	Claimed   int `json:"claimed"`
	Completed int `json:"completed"`
}
