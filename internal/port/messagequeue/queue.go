// Package messagequeue is the port between the API, the execution workers
// and downstream listeners such as the issue-tracker integration.
package messagequeue

import "context"

// Handler consumes one message. ctx carries the publisher's request and
// tenant IDs; a returned error asks for redelivery.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue publishes and consumes messages on subjects.
type Queue interface {
	Publish(ctx context.Context, subject string, data []byte) error
	// Subscribe starts a durable consumer; the returned func stops it.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)
	// Drain finishes in-flight messages, then closes.
	Drain() error
	Close() error
	IsConnected() bool
}

// Subjects used by VoiceForge.
const (
	SubjectExecutionRequested = "executions.requested" // API → worker: run a scenario
	SubjectValidationRecorded = "validations.recorded" // engine → listeners: one record persisted
	SubjectDefectCreated      = "defects.created"      // engine → issue-tracker integration
)
