// Package database defines the persistence ports. Every method scopes its
// reads and writes to the tenant carried in ctx.
package database

import (
	"context"
	"time"

	"github.com/Strob0t/VoiceForge/internal/domain/defect"
	"github.com/Strob0t/VoiceForge/internal/domain/execution"
	"github.com/Strob0t/VoiceForge/internal/domain/review"
	"github.com/Strob0t/VoiceForge/internal/domain/scenario"
	"github.com/Strob0t/VoiceForge/internal/domain/validation"
)

// ScenarioStore persists versioned scripts.
type ScenarioStore interface {
	// CreateScenario stores s. Saving a script whose ID exists creates the
	// next version; ID, Version and CreatedAt are set on s.
	CreateScenario(ctx context.Context, s *scenario.Script) error
	GetScenario(ctx context.Context, id string) (*scenario.Script, error)
	GetScenarioVersion(ctx context.Context, id string, version int) (*scenario.Script, error)
	ListScenarios(ctx context.Context) ([]scenario.Script, error)
}

// ExecutionStore persists executions and their raw step results.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, e *execution.Execution) error
	GetExecution(ctx context.Context, id string) (*execution.Execution, error)
	UpdateExecution(ctx context.Context, e *execution.Execution) error
	ListExecutions(ctx context.Context, scenarioID string) ([]execution.Execution, error)
	// AcquireExecutionLease is a compare-and-set: owner gets the in_progress
	// execution until the given time when it is unleased, already owner's,
	// or its lease expired before now. It returns false otherwise.
	AcquireExecutionLease(ctx context.Context, id, owner string, now, until time.Time) (bool, error)
	// ReleaseExecutionLease drops owner's lease; other owners' leases are
	// left alone.
	ReleaseExecutionLease(ctx context.Context, id, owner string) error
	// CreateStepResult fails with domain.ErrConflict when the (execution,
	// step, language) turn already has a result.
	CreateStepResult(ctx context.Context, r *execution.StepResult) error
	ListStepResults(ctx context.Context, executionID string) ([]execution.StepResult, error)
}

// ValidationStore persists validation records.
type ValidationStore interface {
	// CreateValidation writes rec and, when item is non-nil, its queue item
	// in one transaction. A second record for the same (execution, step,
	// language) turn fails with domain.ErrConflict.
	CreateValidation(ctx context.Context, rec *validation.Record, item *review.QueueItem) error
	GetValidation(ctx context.Context, id string) (*validation.Record, error)
	ListValidations(ctx context.Context, executionID string) ([]validation.Record, error)
}

// QueueStore is the review queue. Claim, release and complete are
// compare-and-set transitions: they return false without mutating anything
// when the item is not in the expected state.
type QueueStore interface {
	CreateQueueItem(ctx context.Context, item *review.QueueItem) error
	GetQueueItem(ctx context.Context, id string) (*review.QueueItem, error)
	// NextQueueItem returns an item already claimed by reviewerID, else the
	// best pending item for languagePref. domain.ErrNotFound when empty.
	NextQueueItem(ctx context.Context, reviewerID, languagePref string) (*review.QueueItem, error)
	ClaimQueueItem(ctx context.Context, id, reviewerID string, now time.Time) (bool, error)
	ReleaseQueueItem(ctx context.Context, id string) (bool, error)
	CompleteQueueItem(ctx context.Context, id, reviewerID string, req review.CompleteRequest, now time.Time) (bool, error)
	// ReleaseExpiredClaims releases claims taken before cutoff across all
	// tenants.
	ReleaseExpiredClaims(ctx context.Context, cutoff time.Time) (int, error)
	QueueStats(ctx context.Context) (review.Stats, error)
}

// StreakStore holds the atomic streak counters and filed defects.
type StreakStore interface {
	// ObserveStreak atomically increments (Failed) or resets the streak.
	// When the count reaches Threshold a defect is created and the streak
	// reset in the same transaction; the defect is returned, else nil.
	ObserveStreak(ctx context.Context, obs defect.Observation) (*defect.Streak, *defect.Defect, error)
	GetStreak(ctx context.Context, scenarioID, language string) (*defect.Streak, error)
	ListDefects(ctx context.Context, scenarioID string) ([]defect.Defect, error)
}

// Store aggregates every persistence port.
type Store interface {
	ScenarioStore
	ExecutionStore
	ValidationStore
	QueueStore
	StreakStore
}
