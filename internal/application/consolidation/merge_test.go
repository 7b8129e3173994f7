package consolidation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domain "github.com/erp/shipmerge/internal/domain/consolidation"
	"github.com/erp/shipmerge/internal/infrastructure/ecommerce"
)

// customerPlatform seeds a customer with one held order, one express trigger
// and orders that must be left alone.
func customerPlatform() *fakePlatform {
	p := newFakePlatform()
	p.addOrder(fakeOrder{ID: "A", Name: "#1001", ShippingMethod: "Consolidated Shipping", TagText: "HOLD", CustomerID: "c1"},
		heldUnit("fo-a1"),
		heldUnit("fo-a2"),
		domain.FulfillmentUnit{ID: "fo-a3", Status: domain.UnitStatusCancelled})
	p.addOrder(fakeOrder{ID: "B", Name: "#1002", ShippingMethod: "Express Shipping", TagText: "EXPRESS_NOW, MERGE_IN_PROGRESS", CustomerID: "c1"},
		domain.FulfillmentUnit{ID: "fo-b1", Status: domain.UnitStatusClosed})
	p.addOrder(fakeOrder{ID: "D", Name: "#1003", ShippingMethod: "Consolidated Shipping", TagText: "HOLD", CustomerID: "c1",
		FulfillmentStatus: domain.FulfillmentStatusPartial}, heldUnit("fo-d1"))
	p.addOrder(fakeOrder{ID: "E", Name: "#1004", ShippingMethod: "Consolidated Shipping", TagText: "HOLD", CustomerID: "c2"},
		heldUnit("fo-e1"))
	p.addOrder(fakeOrder{ID: "F", Name: "#1005", ShippingMethod: "Standard", CustomerID: "c1"}, openUnit("fo-f1"))
	return p
}

func expressTrigger() MergeTrigger {
	return MergeTrigger{
		OrderID:         "B",
		TrackingNumber:  "T123",
		TrackingCompany: "UPS",
		TrackingURL:     "https://track.example/T123",
	}
}

func TestMergeOrchestrator_Preconditions(t *testing.T) {
	tests := []struct {
		name    string
		order   fakeOrder
		trigger MergeTrigger
		want    Outcome
	}{
		{
			name:    "no order id",
			order:   fakeOrder{ID: "B", ShippingMethod: "Express Shipping", CustomerID: "c1"},
			trigger: MergeTrigger{TrackingNumber: "T123"},
			want:    OutcomeSkipNoOrderID,
		},
		{
			name:    "no tracking number",
			order:   fakeOrder{ID: "B", ShippingMethod: "Express Shipping", CustomerID: "c1"},
			trigger: MergeTrigger{OrderID: "B"},
			want:    OutcomeSkipNoTracking,
		},
		{
			name:    "not express",
			order:   fakeOrder{ID: "B", ShippingMethod: "Standard", CustomerID: "c1"},
			trigger: MergeTrigger{OrderID: "B", TrackingNumber: "T123"},
			want:    OutcomeSkipNotExpress,
		},
		{
			name:    "no customer",
			order:   fakeOrder{ID: "B", ShippingMethod: "Express Shipping"},
			trigger: MergeTrigger{OrderID: "B", TrackingNumber: "T123"},
			want:    OutcomeSkipNoCustomer,
		},
		{
			name:    "already merged",
			order:   fakeOrder{ID: "B", ShippingMethod: "Express Shipping", CustomerID: "c1", TagText: "EXPRESS_NOW, MERGE_DONE"},
			trigger: MergeTrigger{OrderID: "B", TrackingNumber: "T123"},
			want:    OutcomeAlreadyMerged,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			platform := newFakePlatform()
			platform.addOrder(tt.order, openUnit("fo-b1"))
			platform.addOrder(fakeOrder{ID: "A", TagText: "HOLD", CustomerID: "c1"}, heldUnit("fo-a1"))
			o := newTestOrchestrator(platform, nil, zap.NewNop())

			report, err := o.Merge(context.Background(), tt.trigger)
			require.NoError(t, err)
			assert.Equal(t, tt.want, report.Outcome)
			assert.False(t, report.TriggerClosed)
			assert.Empty(t, platform.writeLog())
		})
	}
}

func TestMergeOrchestrator_ExpressTagWithoutExpressMethod(t *testing.T) {
	platform := newFakePlatform()
	platform.addOrder(fakeOrder{ID: "B", ShippingMethod: "Renamed Rate", TagText: "EXPRESS_NOW, MERGE_IN_PROGRESS", CustomerID: "c1"})
	o := newTestOrchestrator(platform, nil, zap.NewNop())

	report, err := o.Merge(context.Background(), MergeTrigger{OrderID: "B", TrackingNumber: "T123"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeMergedNothingHeld, report.Outcome)
}

func TestMergeOrchestrator_Merge(t *testing.T) {
	platform := customerPlatform()
	o := newTestOrchestrator(platform, nil, zap.NewNop())

	report, err := o.Merge(context.Background(), expressTrigger())
	require.NoError(t, err)

	assert.Equal(t, OutcomeMerged, report.Outcome)
	assert.True(t, report.TriggerClosed)
	assert.Equal(t, "T123", report.TrackingNumber)
	require.Len(t, report.HeldOrders, 1)
	assert.Equal(t, HeldOrderReport{
		OrderID:             "A",
		OrderName:           "#1001",
		UnitsReleased:       2,
		FulfillmentsCreated: 2,
		Retagged:            true,
	}, report.HeldOrders[0])

	assert.Equal(t, "MERGE_DONE", platform.tags("A").String())
	assert.Equal(t, "EXPRESS_NOW, MERGE_DONE", platform.tags("B").String())
	assert.Equal(t, "HOLD", platform.tags("D").String())
	assert.Equal(t, "HOLD", platform.tags("E").String())
	assert.Equal(t, "", platform.tags("F").String())

	created := platform.fulfillments()
	require.Len(t, created, 2)
	for i, unitID := range []string{"fo-a1", "fo-a2"} {
		assert.Equal(t, domain.FulfillmentRequest{
			OrderID:         "A",
			UnitID:          unitID,
			TrackingNumber:  "T123",
			TrackingCompany: "UPS",
			TrackingURL:     "https://track.example/T123",
			Message:         "Shipped together with order #1002",
		}, created[i])
	}

	// the last write closes the trigger
	writes := platform.writeLog()
	assert.Equal(t, "update_tags B EXPRESS_NOW, MERGE_DONE", writes[len(writes)-1])
}

func TestMergeOrchestrator_NothingToConsolidate(t *testing.T) {
	platform := newFakePlatform()
	platform.addOrder(fakeOrder{ID: "B", Name: "#1002", ShippingMethod: "Express Shipping", TagText: "EXPRESS_NOW, MERGE_IN_PROGRESS", CustomerID: "c1"})
	platform.addOrder(fakeOrder{ID: "A", TagText: "MERGE_DONE", CustomerID: "c1", FulfillmentStatus: domain.FulfillmentStatusFulfilled})
	o := newTestOrchestrator(platform, nil, zap.NewNop())

	report, err := o.Merge(context.Background(), expressTrigger())
	require.NoError(t, err)

	assert.Equal(t, OutcomeMergedNothingHeld, report.Outcome)
	assert.True(t, report.TriggerClosed)
	assert.Empty(t, report.HeldOrders)
	assert.Equal(t, domain.OrderStateMergeDone, domain.DeriveState(platform.tags("B")))
	assert.Equal(t, []string{"update_tags B EXPRESS_NOW, MERGE_DONE"}, platform.writeLog())
}

func TestMergeOrchestrator_RedeliveryAfterMerge(t *testing.T) {
	platform := customerPlatform()
	o := newTestOrchestrator(platform, nil, zap.NewNop())

	_, err := o.Merge(context.Background(), expressTrigger())
	require.NoError(t, err)
	writes := len(platform.writeLog())

	report, err := o.Merge(context.Background(), expressTrigger())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyMerged, report.Outcome)
	assert.Len(t, platform.writeLog(), writes)
}

func TestMergeOrchestrator_UnitWarningsDoNotAbort(t *testing.T) {
	platform := customerPlatform()
	platform.warnRel["fo-a1"] = []string{"Fulfillment order is not on hold."}
	o := newTestOrchestrator(platform, nil, zap.NewNop())

	report, err := o.Merge(context.Background(), expressTrigger())
	require.NoError(t, err)

	assert.Equal(t, OutcomeMerged, report.Outcome)
	require.Len(t, report.HeldOrders, 1)
	held := report.HeldOrders[0]
	assert.Equal(t, 1, held.UnitsReleased)
	assert.Equal(t, 2, held.FulfillmentsCreated)
	assert.Equal(t, []string{"Fulfillment order is not on hold."}, held.Warnings)
	assert.True(t, held.Retagged)
	assert.True(t, report.TriggerClosed)
}

func TestMergeOrchestrator_RejectedFulfillmentDoesNotAbort(t *testing.T) {
	platform := newFakePlatform()
	platform.addOrder(fakeOrder{ID: "A1", Name: "#1001", TagText: "HOLD", CustomerID: "c1"},
		heldUnit("fo-a1"), heldUnit("fo-a1b"))
	platform.addOrder(fakeOrder{ID: "A2", Name: "#1002", TagText: "HOLD", CustomerID: "c1"},
		heldUnit("fo-a2"))
	platform.addOrder(fakeOrder{ID: "B", Name: "#1003", ShippingMethod: "Express Shipping", TagText: "EXPRESS_NOW, MERGE_IN_PROGRESS", CustomerID: "c1"})
	platform.rejectFul["fo-a1"] = []string{"fulfillment: Fulfillment order is closed."}
	logger, logs := observedLogger()
	o := newTestOrchestrator(platform, nil, logger)

	report, err := o.Merge(context.Background(), expressTrigger())
	require.NoError(t, err)

	assert.Equal(t, OutcomeMerged, report.Outcome)
	assert.True(t, report.TriggerClosed)
	require.Len(t, report.HeldOrders, 2)

	first := report.HeldOrders[0]
	assert.Equal(t, "A1", first.OrderID)
	assert.Equal(t, 2, first.UnitsReleased)
	assert.Equal(t, 1, first.FulfillmentsCreated)
	assert.Equal(t, []string{"fulfillment: Fulfillment order is closed."}, first.Warnings)
	assert.True(t, first.Retagged)

	second := report.HeldOrders[1]
	assert.Equal(t, "A2", second.OrderID)
	assert.Equal(t, 1, second.FulfillmentsCreated)
	assert.Empty(t, second.Warnings)
	assert.True(t, second.Retagged)

	assert.Equal(t, "MERGE_DONE", platform.tags("A1").String())
	assert.Equal(t, "MERGE_DONE", platform.tags("A2").String())
	assert.Equal(t, "EXPRESS_NOW, MERGE_DONE", platform.tags("B").String())
	assert.Equal(t, 1, logs.FilterMessage("Fulfillment rejected for unit").Len())

	// redelivery sees a closed merge
	report, err = o.Merge(context.Background(), expressTrigger())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyMerged, report.Outcome)
}

func TestMergeOrchestrator_ResumesAfterFailure(t *testing.T) {
	platform := customerPlatform()
	platform.failOn("create_fulfillment", &domain.UpstreamError{Operation: "fulfillmentCreate", StatusCode: 503})
	o := newTestOrchestrator(platform, nil, zap.NewNop())

	report, err := o.Merge(context.Background(), expressTrigger())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.Equal(t, OutcomeFailed, report.Outcome)
	assert.False(t, report.TriggerClosed)
	assert.Equal(t, domain.OrderStateMergeInProgress, domain.DeriveState(platform.tags("B")))
	assert.Equal(t, "HOLD", platform.tags("A").String())

	// redelivery completes the remaining work
	delete(platform.failures, "create_fulfillment")
	report, err = o.Merge(context.Background(), expressTrigger())
	require.NoError(t, err)

	assert.Equal(t, OutcomeMerged, report.Outcome)
	require.Len(t, report.HeldOrders, 1)
	assert.Equal(t, 2, report.HeldOrders[0].FulfillmentsCreated)
	assert.Len(t, report.HeldOrders[0].Warnings, 2, "units were already released")
	assert.Equal(t, "MERGE_DONE", platform.tags("A").String())
	assert.Equal(t, "EXPRESS_NOW, MERGE_DONE", platform.tags("B").String())
}

func TestMergeOrchestrator_ClaimedByOtherMerge(t *testing.T) {
	platform := customerPlatform()
	claims := new(MockMergeClaimStore)
	claims.On("Claim", mock.Anything, "A", "B", DefaultClaimTTL).Return("Z", nil)
	o := newTestOrchestrator(platform, claims, zap.NewNop())

	report, err := o.Merge(context.Background(), expressTrigger())
	require.NoError(t, err)

	assert.Equal(t, OutcomeMerged, report.Outcome)
	require.Len(t, report.HeldOrders, 1)
	assert.Equal(t, SkipClaimedByOther, report.HeldOrders[0].Skipped)
	assert.Equal(t, "HOLD", platform.tags("A").String())
	assert.Empty(t, platform.fulfillments())
	assert.True(t, report.TriggerClosed)
	claims.AssertExpectations(t)
}

func TestMergeOrchestrator_ClaimOwnedBySameTrigger(t *testing.T) {
	platform := customerPlatform()
	claims := new(MockMergeClaimStore)
	claims.On("Claim", mock.Anything, "A", "B", DefaultClaimTTL).Return("B", nil)
	o := newTestOrchestrator(platform, claims, zap.NewNop())

	report, err := o.Merge(context.Background(), expressTrigger())
	require.NoError(t, err)
	require.Len(t, report.HeldOrders, 1)
	assert.True(t, report.HeldOrders[0].Retagged)
}

func TestMergeOrchestrator_ClaimStoreDown(t *testing.T) {
	platform := customerPlatform()
	claims := new(MockMergeClaimStore)
	claims.On("Claim", mock.Anything, "A", "B", DefaultClaimTTL).Return("", errors.New("connection refused"))
	logger, logs := observedLogger()
	o := newTestOrchestrator(platform, claims, logger)

	report, err := o.Merge(context.Background(), expressTrigger())
	require.NoError(t, err)
	require.Len(t, report.HeldOrders, 1)
	assert.True(t, report.HeldOrders[0].Retagged)
	assert.Equal(t, 1, logs.FilterMessage("Merge claim unavailable, proceeding without it").Len())
}

func TestMergeOrchestrator_DryRunSkipsClaims(t *testing.T) {
	platform := customerPlatform()
	claims := new(MockMergeClaimStore)
	o := NewMergeOrchestrator(MergeOrchestratorConfig{
		Gateway: ecommerce.NewDryRunGateway(platform, zap.NewNop()),
		Methods: testMethods(),
		Claims:  claims,
		DryRun:  true,
	})

	for i := 0; i < 2; i++ {
		report, err := o.Merge(context.Background(), expressTrigger())
		require.NoError(t, err)
		require.Len(t, report.HeldOrders, 1)
		assert.Empty(t, report.HeldOrders[0].Skipped)
	}
	claims.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMergeOrchestrator_HeldOrderConsumedConcurrently(t *testing.T) {
	platform := customerPlatform()
	claims := new(MockMergeClaimStore)
	claims.On("Claim", mock.Anything, "A", "B", DefaultClaimTTL).
		Run(func(mock.Arguments) {
			// another merge retags A between listing and consumption
			platform.mu.Lock()
			platform.orders["A"].TagText = "MERGE_DONE"
			platform.mu.Unlock()
		}).
		Return("B", nil)
	o := newTestOrchestrator(platform, claims, zap.NewNop())

	report, err := o.Merge(context.Background(), expressTrigger())
	require.NoError(t, err)
	require.Len(t, report.HeldOrders, 1)
	assert.Equal(t, SkipNoLongerHeld, report.HeldOrders[0].Skipped)
	assert.Empty(t, platform.fulfillments())
}

func TestMergeOrchestrator_HeldOrderIllegalState(t *testing.T) {
	platform := customerPlatform()
	platform.orders["A"].TagText = "HOLD, MERGE_IN_PROGRESS"
	o := newTestOrchestrator(platform, nil, zap.NewNop())

	report, err := o.Merge(context.Background(), expressTrigger())
	require.NoError(t, err)
	require.Len(t, report.HeldOrders, 1)
	assert.Equal(t, SkipIllegalState, report.HeldOrders[0].Skipped)
	assert.Equal(t, "HOLD, MERGE_IN_PROGRESS", platform.tags("A").String())
	assert.True(t, report.TriggerClosed)
}

func TestMergeOrchestrator_ListingFails(t *testing.T) {
	platform := customerPlatform()
	platform.failOn("list_customer_orders", &domain.UpstreamError{Operation: "list orders", StatusCode: 429, Err: domain.ErrRateLimited})
	o := newTestOrchestrator(platform, nil, zap.NewNop())

	report, err := o.Merge(context.Background(), expressTrigger())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, OutcomeFailed, report.Outcome)
	assert.Empty(t, platform.writeLog())
}
