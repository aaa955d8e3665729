// Package broadcast is the port for pushing live engine events (execution
// status, validation records, review items, defects) to reviewers.
package broadcast

import "context"

// Broadcaster delivers an event to the connected clients of the tenant
// found in ctx. Delivery is best-effort and never blocks the engine.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
