package consolidation

import (
	"strings"
)

// ---------------------------------------------------------------------------
// FulfillmentStatus represents an order's fulfillment progress
// ---------------------------------------------------------------------------

// FulfillmentStatus represents an order's fulfillment progress on the platform
type FulfillmentStatus string

const (
	// FulfillmentStatusNone indicates nothing has been fulfilled (platform reports null)
	FulfillmentStatusNone FulfillmentStatus = "none"
	// FulfillmentStatusUnfulfilled indicates nothing has been fulfilled
	FulfillmentStatusUnfulfilled FulfillmentStatus = "unfulfilled"
	// FulfillmentStatusPartial indicates some line items have shipped
	FulfillmentStatusPartial FulfillmentStatus = "partial"
	// FulfillmentStatusFulfilled indicates every line item has shipped
	FulfillmentStatusFulfilled FulfillmentStatus = "fulfilled"
)

// ParseFulfillmentStatus maps a platform value to a FulfillmentStatus.
// Empty and unknown values map to none.
func ParseFulfillmentStatus(v string) FulfillmentStatus {
	switch FulfillmentStatus(strings.ToLower(strings.TrimSpace(v))) {
	case FulfillmentStatusUnfulfilled:
		return FulfillmentStatusUnfulfilled
	case FulfillmentStatusPartial:
		return FulfillmentStatusPartial
	case FulfillmentStatusFulfilled:
		return FulfillmentStatusFulfilled
	default:
		return FulfillmentStatusNone
	}
}

// IsUnshipped returns true if no line item has shipped yet
func (s FulfillmentStatus) IsUnshipped() bool {
	return s == FulfillmentStatusNone || s == FulfillmentStatusUnfulfilled
}

// ---------------------------------------------------------------------------
// UnitStatus represents the status of a fulfillment unit
// ---------------------------------------------------------------------------

// UnitStatus represents the status of a fulfillment unit
type UnitStatus string

const (
	UnitStatusOpen       UnitStatus = "open"
	UnitStatusInProgress UnitStatus = "in_progress"
	UnitStatusScheduled  UnitStatus = "scheduled"
	UnitStatusIncomplete UnitStatus = "incomplete"
	UnitStatusOnHold     UnitStatus = "on_hold"
	UnitStatusClosed     UnitStatus = "closed"
	UnitStatusCancelled  UnitStatus = "cancelled"
)

// ParseUnitStatus normalizes a platform unit status ("ON_HOLD", "on_hold")
func ParseUnitStatus(v string) UnitStatus {
	return UnitStatus(strings.ToLower(strings.TrimSpace(v)))
}

// IsFinal returns true for closed or cancelled units, which accept no further work
func (s UnitStatus) IsFinal() bool {
	return s == UnitStatusClosed || s == UnitStatusCancelled
}

// ---------------------------------------------------------------------------
// Entities
// ---------------------------------------------------------------------------

// Order is the subset of a platform order this context consumes
type Order struct {
	ID                 string
	Name               string
	ShippingMethod     string
	Tags               TagSet
	CustomerID         string
	FulfillmentStatus  FulfillmentStatus
	// FulfillmentUnitIDs is filled only by adapters that read units with the order
	FulfillmentUnitIDs []string
}

// State returns the consolidation state derived from the order's tags
func (o *Order) State() OrderState {
	return DeriveState(o.Tags)
}

// OrderSummary is a customer-scoped order listing entry
type OrderSummary struct {
	ID                string
	Name              string
	Tags              TagSet
	FulfillmentStatus FulfillmentStatus
}

// IsMergeable returns true if the order is held and nothing has shipped yet
func (o OrderSummary) IsMergeable() bool {
	return o.Tags.Has(TagHold) && o.FulfillmentStatus.IsUnshipped()
}

// FulfillmentUnit is the platform's schedulable shipping unit for an order
type FulfillmentUnit struct {
	ID     string
	Status UnitStatus
	OnHold bool
}

// IsActionable returns true if the unit can still be released or fulfilled
func (u FulfillmentUnit) IsActionable() bool {
	return !u.Status.IsFinal()
}

// IsHoldable returns true if a new hold can be placed on the unit
func (u FulfillmentUnit) IsHoldable() bool {
	return !u.Status.IsFinal() && !u.OnHold && u.Status != UnitStatusOnHold
}

// ---------------------------------------------------------------------------
// Shipping method classification
// ---------------------------------------------------------------------------

// ShippingClass is the consolidation behavior selected by a shipping method
type ShippingClass string

const (
	// ShippingClassAccumulate holds the order for later consolidation
	ShippingClassAccumulate ShippingClass = "accumulate"
	// ShippingClassExpress ships now and pulls held orders along
	ShippingClassExpress ShippingClass = "express"
	// ShippingClassOther is not handled by this context
	ShippingClassOther ShippingClass = "other"
)

// MethodClassifier maps shipping method labels to a ShippingClass.
// Matching is case-insensitive on trimmed labels.
type MethodClassifier struct {
	accumulate map[string]struct{}
	express    map[string]struct{}
}

// NewMethodClassifier creates a classifier from the configured labels
func NewMethodClassifier(accumulate, express []string) *MethodClassifier {
	return &MethodClassifier{
		accumulate: labelSet(accumulate),
		express:    labelSet(express),
	}
}

func labelSet(labels []string) map[string]struct{} {
	out := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		if k := normalizeLabel(l); k != "" {
			out[k] = struct{}{}
		}
	}
	return out
}

func normalizeLabel(l string) string {
	return strings.ToLower(strings.TrimSpace(l))
}

// Classify returns the class of the shipping method label
func (c *MethodClassifier) Classify(method string) ShippingClass {
	key := normalizeLabel(method)
	if key == "" {
		return ShippingClassOther
	}
	if _, ok := c.express[key]; ok {
		return ShippingClassExpress
	}
	if _, ok := c.accumulate[key]; ok {
		return ShippingClassAccumulate
	}
	return ShippingClassOther
}
