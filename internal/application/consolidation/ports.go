package consolidation

import (
	"context"
	"time"
)

// MergeClaimStore arbitrates which express order consumes a held order when
// two merges for the same customer run concurrently.
type MergeClaimStore interface {
	// Claim records triggerOrderID as the consumer of heldOrderID unless another
	// trigger already holds the claim. It returns the current owner.
	Claim(ctx context.Context, heldOrderID, triggerOrderID string, ttl time.Duration) (owner string, err error)
}

// OutcomeRecord is published once per handled webhook
type OutcomeRecord struct {
	EventID    string    `json:"event_id"`
	Topic      string    `json:"topic"`
	OrderID    string    `json:"order_id,omitempty"`
	Outcome    Outcome   `json:"outcome"`
	DryRun     bool      `json:"dry_run"`
	Processed  bool      `json:"processed"`
	Message    string    `json:"message,omitempty"`
	TraceID    string    `json:"trace_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// OutcomePublisher forwards outcome records to an external stream
type OutcomePublisher interface {
	Publish(ctx context.Context, record OutcomeRecord) error
}

// NoopOutcomePublisher discards every record
type NoopOutcomePublisher struct{}

// Publish implements OutcomePublisher
func (NoopOutcomePublisher) Publish(context.Context, OutcomeRecord) error {
	return nil
}
