package consolidation

// Outcome names the decision branch an invocation ended in
type Outcome string

const (
	// Paid-order outcomes
	OutcomeHeld           Outcome = "held"
	OutcomeHoldNoUnits    Outcome = "hold_no_units"
	OutcomeExpressTagged  Outcome = "express_tagged"
	OutcomeAlreadyHandled Outcome = "already_handled"
	OutcomeIgnored        Outcome = "ignored"

	// Merge outcomes
	OutcomeSkipNoOrderID     Outcome = "skip_no_order_id"
	OutcomeSkipNoTracking    Outcome = "skip_no_tracking"
	OutcomeSkipNotExpress    Outcome = "skip_not_express"
	OutcomeSkipNoCustomer    Outcome = "skip_no_customer"
	OutcomeMerged            Outcome = "merged"
	OutcomeMergedNothingHeld Outcome = "merged_nothing_to_consolidate"

	// Shared outcomes
	OutcomeAlreadyMerged Outcome = "already_merged"
	OutcomeInvalidState  Outcome = "invalid_state"
	OutcomeFailed        Outcome = "failed"
)

// String returns the string representation of Outcome
func (o Outcome) String() string {
	return string(o)
}

// HeldOrderSkip explains why a mergeable order was left untouched
type HeldOrderSkip string

const (
	SkipClaimedByOther HeldOrderSkip = "claimed_by_other"
	SkipNoLongerHeld   HeldOrderSkip = "no_longer_held"
	SkipIllegalState   HeldOrderSkip = "illegal_state"
)

// HeldOrderReport records the work done on one held order during a merge
type HeldOrderReport struct {
	OrderID             string        `json:"order_id"`
	OrderName           string        `json:"order_name,omitempty"`
	UnitsReleased       int           `json:"units_released"`
	FulfillmentsCreated int           `json:"fulfillments_created"`
	Retagged            bool          `json:"retagged"`
	Skipped             HeldOrderSkip `json:"skipped,omitempty"`
	Warnings            []string      `json:"warnings,omitempty"`
}

// MergeReport summarizes a merge orchestrator invocation
type MergeReport struct {
	TriggerOrderID string            `json:"trigger_order_id,omitempty"`
	Outcome        Outcome           `json:"outcome"`
	TrackingNumber string            `json:"tracking_number,omitempty"`
	HeldOrders     []HeldOrderReport `json:"held_orders,omitempty"`
	TriggerClosed  bool              `json:"trigger_closed"`
}

// PaidOrderReport summarizes a paid-order classifier invocation
type PaidOrderReport struct {
	OrderID     string   `json:"order_id"`
	Outcome     Outcome  `json:"outcome"`
	UnitsHeld   int      `json:"units_held"`
	Warnings    []string `json:"warnings,omitempty"`
	TagsWritten bool     `json:"tags_written"`
}
