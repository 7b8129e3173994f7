package consolidation

import (
	"context"
)

// WriteResult reports the outcome of an external write.
// Skipped is set when the write was suppressed (dry-run) instead of performed.
type WriteResult struct {
	Skipped bool
}

// UnitResult reports the outcome of a hold or release on one fulfillment unit.
// Warnings carry field-level rejections from the platform; they are not errors.
type UnitResult struct {
	UnitID   string
	Skipped  bool
	Warnings []string
}

// OK returns true if the platform accepted the operation without warnings
func (r UnitResult) OK() bool {
	return len(r.Warnings) == 0
}

// FulfillmentRequest describes a fulfillment to create on one unit
type FulfillmentRequest struct {
	OrderID         string
	UnitID          string
	TrackingNumber  string
	TrackingCompany string
	// TrackingURL is optional
	TrackingURL string
	Message     string
}

// Gateway is the port to the commerce platform.
// Reads always hit the platform. Writes go through the gateway selected at
// startup, so a dry-run implementation can suppress every one of them.
type Gateway interface {
	// FetchOrder reads one order with its tags and fulfillment unit ids
	FetchOrder(ctx context.Context, orderID string) (*Order, error)

	// ListCustomerOrders lists the customer's orders in platform order
	ListCustomerOrders(ctx context.Context, customerID string) ([]OrderSummary, error)

	// UpdateTags replaces the order's tag text
	UpdateTags(ctx context.Context, orderID string, tagText string) (WriteResult, error)

	// ListFulfillmentUnits lists the order's fulfillment units
	ListFulfillmentUnits(ctx context.Context, orderID string) ([]FulfillmentUnit, error)

	// HoldFulfillmentUnits places a hold on each unit, one result per id.
	// On error the results of the units attempted so far are still returned.
	HoldFulfillmentUnits(ctx context.Context, unitIDs []string, reasonNote string) ([]UnitResult, error)

	// ReleaseFulfillmentHold releases the hold on one unit
	ReleaseFulfillmentHold(ctx context.Context, unitID string) (UnitResult, error)

	// CreateFulfillment creates a fulfillment with tracking data on one unit.
	// A platform rejection of the unit is returned as *RejectionError.
	CreateFulfillment(ctx context.Context, req FulfillmentRequest) (WriteResult, error)
}
