package consolidation

// OrderState is the consolidation state of an order, derived from its tags
type OrderState string

const (
	// OrderStateIdle has none of the consolidation tags
	OrderStateIdle OrderState = "IDLE"
	// OrderStateHeld is accumulating with fulfillment withheld
	OrderStateHeld OrderState = "HELD"
	// OrderStateExpressPending chose express but no merge was opened
	OrderStateExpressPending OrderState = "EXPRESS_PENDING"
	// OrderStateMergeInProgress is an express order waiting for its merge to close
	OrderStateMergeInProgress OrderState = "MERGE_IN_PROGRESS"
	// OrderStateMergeDone has completed a merge (terminal)
	OrderStateMergeDone OrderState = "MERGE_DONE"
	// OrderStateInvalid carries a tag combination that breaks an invariant
	OrderStateInvalid OrderState = "INVALID"
)

// String returns the string representation of OrderState
func (s OrderState) String() string {
	return string(s)
}

// IsTerminal returns true if no further transition is expected
func (s OrderState) IsTerminal() bool {
	return s == OrderStateMergeDone
}

// DeriveState maps a tag set to its consolidation state.
// Precedence: invalid, merge done, merge in progress, express pending, held, idle.
func DeriveState(tags TagSet) OrderState {
	if ValidateTags(tags) != "" {
		return OrderStateInvalid
	}
	switch {
	case tags.Has(TagMergeDone):
		return OrderStateMergeDone
	case tags.Has(TagMergeInProgress):
		return OrderStateMergeInProgress
	case tags.Has(TagExpressNow):
		return OrderStateExpressPending
	case tags.Has(TagHold):
		return OrderStateHeld
	default:
		return OrderStateIdle
	}
}

// ValidateTags returns a non-empty reason when the set breaks a tag invariant
func ValidateTags(tags TagSet) string {
	if tags.Has(TagMergeDone) && tags.Has(TagMergeInProgress) {
		return "MERGE_DONE and MERGE_IN_PROGRESS are mutually exclusive"
	}
	if tags.Has(TagHold) && tags.Has(TagMergeDone) {
		return "HOLD and MERGE_DONE are mutually exclusive"
	}
	return ""
}

// Transition is the result of applying a state change to a tag set
type Transition struct {
	From    OrderState
	To      OrderState
	Tags    TagSet
	Changed bool
}

func transition(op string, from TagSet, to TagSet) (Transition, error) {
	fromState := DeriveState(from)
	if reason := ValidateTags(to); reason != "" {
		return Transition{}, &TransitionError{Op: op, From: fromState, Result: to, Reason: reason}
	}
	return Transition{
		From:    fromState,
		To:      DeriveState(to),
		Tags:    to,
		Changed: !from.Equal(to),
	}, nil
}

// Hold marks an order as accumulating.
// Fails for orders that already completed a merge.
func Hold(tags TagSet) (Transition, error) {
	return transition("hold", tags, tags.With(TagHold))
}

// BeginExpress marks an express order and opens its merge
func BeginExpress(tags TagSet) (Transition, error) {
	if tags.HasAny(TagMergeDone, TagMergeInProgress) {
		return Transition{}, &TransitionError{
			Op:     "begin_express",
			From:   DeriveState(tags),
			Result: tags,
			Reason: "merge already opened or completed",
		}
	}
	return transition("begin_express", tags, tags.With(TagExpressNow, TagMergeInProgress))
}

// ConsumeHeld retags a held order that was merged into an express shipment
func ConsumeHeld(tags TagSet) (Transition, error) {
	return transition("consume_held", tags, tags.Without(TagHold).With(TagMergeDone))
}

// CloseMerge closes the merge on the express order that triggered it.
// HOLD is dropped as well so the closed order cannot carry HOLD and MERGE_DONE together.
func CloseMerge(tags TagSet) (Transition, error) {
	return transition("close_merge", tags, tags.Without(TagMergeInProgress, TagHold).With(TagMergeDone))
}
