package consolidation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	domain "github.com/erp/shipmerge/internal/domain/consolidation"
	ctxlog "github.com/erp/shipmerge/internal/infrastructure/logger"
	"github.com/erp/shipmerge/internal/infrastructure/telemetry"
)

// DefaultHoldReasonNote is attached to holds placed on accumulating orders
const DefaultHoldReasonNote = "Held for consolidation with a later express shipment"

// PaidOrder is the classifier input taken from an order-paid event
type PaidOrder struct {
	OrderID        string
	ShippingMethod string
}

// PaidOrderClassifier decides between the hold and express paths for a newly
// paid order and applies the corresponding tag and hold mutations
type PaidOrderClassifier struct {
	gateway    domain.Gateway
	methods    *domain.MethodClassifier
	poller     *Poller
	holdReason string
	dryRun     bool
	logger     *zap.Logger
	metrics    *telemetry.ConsolidationMetrics
}

// PaidOrderClassifierConfig contains configuration for PaidOrderClassifier
type PaidOrderClassifierConfig struct {
	Gateway        domain.Gateway
	Methods        *domain.MethodClassifier
	Poller         *Poller
	HoldReasonNote string
	// DryRun only annotates log entries; suppression lives in the gateway
	DryRun bool
	Logger *zap.Logger
}

// NewPaidOrderClassifier creates a new PaidOrderClassifier
func NewPaidOrderClassifier(cfg PaidOrderClassifierConfig) *PaidOrderClassifier {
	poller := cfg.Poller
	if poller == nil {
		poller = NewPoller(DefaultPollSchedule)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reason := cfg.HoldReasonNote
	if reason == "" {
		reason = DefaultHoldReasonNote
	}
	return &PaidOrderClassifier{
		gateway:    cfg.Gateway,
		methods:    cfg.Methods,
		poller:     poller,
		holdReason: reason,
		dryRun:     cfg.DryRun,
		logger:     logger,
	}
}

// SetMetrics sets the metrics recorder (optional)
func (c *PaidOrderClassifier) SetMetrics(m *telemetry.ConsolidationMetrics) {
	c.metrics = m
}

// Classify handles one paid order
func (c *PaidOrderClassifier) Classify(ctx context.Context, in PaidOrder) (*PaidOrderReport, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "paid_order_classifier", "classify",
		telemetry.WithAttribute("order.id", in.OrderID))
	defer span.End()

	log := ctxlog.Enrich(ctx, c.logger).With(
		zap.String("order_id", in.OrderID),
		zap.String("shipping_method", in.ShippingMethod),
		zap.Bool("dry_run", c.dryRun),
	)
	report := &PaidOrderReport{OrderID: in.OrderID}

	class := c.methods.Classify(in.ShippingMethod)
	if in.OrderID == "" {
		class = domain.ShippingClassOther
	}
	if class == domain.ShippingClassOther {
		report.Outcome = OutcomeIgnored
		log.Info("Paid order ignored, shipping method not routed", zap.String("outcome", report.Outcome.String()))
		return report, nil
	}

	order, err := c.gateway.FetchOrder(ctx, in.OrderID)
	if err != nil {
		telemetry.RecordError(span, err)
		return report, fmt.Errorf("fetch paid order %s: %w", in.OrderID, err)
	}

	switch class {
	case domain.ShippingClassAccumulate:
		err = c.hold(ctx, log, order, report)
	case domain.ShippingClassExpress:
		err = c.express(ctx, log, order, report)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return report, err
	}
	telemetry.SetAttribute(span, "consolidation.outcome", report.Outcome.String())
	log.Info("Paid order classified",
		zap.String("outcome", report.Outcome.String()),
		zap.Int("units_held", report.UnitsHeld))
	return report, nil
}

// hold tags the order HOLD and places a hold on its fulfillment units
func (c *PaidOrderClassifier) hold(ctx context.Context, log *zap.Logger, order *domain.Order, report *PaidOrderReport) error {
	tr, err := domain.Hold(order.Tags)
	if err != nil {
		if errors.Is(err, domain.ErrIllegalTransition) && order.State() == domain.OrderStateMergeDone {
			report.Outcome = OutcomeAlreadyMerged
			log.Info("Paid order already merged, not holding")
			return nil
		}
		report.Outcome = OutcomeInvalidState
		log.Warn("Paid order tags do not allow a hold", zap.Error(err))
		return nil
	}

	if tr.Changed {
		res, err := c.gateway.UpdateTags(ctx, order.ID, tr.Tags.String())
		if err != nil {
			return fmt.Errorf("tag order %s %s: %w", order.ID, domain.TagHold, err)
		}
		report.TagsWritten = true
		log.Info("Order tagged for hold", zap.String("tags", tr.Tags.String()), zap.Bool("skipped", res.Skipped))
	} else {
		log.Info("Order already tagged for hold")
	}

	units, attempts, err := PollUntilNonEmpty(ctx, c.poller, func(ctx context.Context) ([]domain.FulfillmentUnit, error) {
		return c.gateway.ListFulfillmentUnits(ctx, order.ID)
	})
	c.metrics.RecordPollAttempts(ctx, attempts, len(units) > 0)
	if err != nil {
		return fmt.Errorf("list fulfillment units for order %s: %w", order.ID, err)
	}
	if len(units) == 0 {
		report.Outcome = OutcomeHoldNoUnits
		log.Warn("No fulfillment units became visible, hold not placed",
			zap.Int("attempts", attempts),
			zap.Duration("waited", sumDurations(c.poller.Schedule())))
		return nil
	}

	ids := make([]string, 0, len(units))
	for _, u := range units {
		if u.IsHoldable() {
			ids = append(ids, u.ID)
		}
	}
	report.Outcome = OutcomeHeld
	if len(ids) == 0 {
		log.Info("Fulfillment units already on hold or closed", zap.Int("units", len(units)))
		return nil
	}

	results, err := c.gateway.HoldFulfillmentUnits(ctx, ids, c.holdReason)
	for _, r := range results {
		if !r.OK() {
			report.Warnings = append(report.Warnings, r.Warnings...)
			log.Warn("Fulfillment unit hold reported warnings",
				zap.String("unit_id", r.UnitID),
				zap.Strings("warnings", r.Warnings))
			continue
		}
		report.UnitsHeld++
		log.Info("Fulfillment unit held", zap.String("unit_id", r.UnitID), zap.Bool("skipped", r.Skipped))
	}
	if err != nil {
		return fmt.Errorf("hold fulfillment units for order %s (%d of %d held): %w",
			order.ID, report.UnitsHeld, len(ids), err)
	}
	return nil
}

// express tags the order EXPRESS_NOW and MERGE_IN_PROGRESS in a single write
func (c *PaidOrderClassifier) express(ctx context.Context, log *zap.Logger, order *domain.Order, report *PaidOrderReport) error {
	if order.Tags.HasAny(domain.TagMergeDone, domain.TagMergeInProgress) {
		report.Outcome = OutcomeAlreadyHandled
		log.Info("Express order already handled", zap.String("state", order.State().String()))
		return nil
	}

	tr, err := domain.BeginExpress(order.Tags)
	if err != nil {
		report.Outcome = OutcomeInvalidState
		log.Warn("Express order tags do not allow a merge", zap.Error(err))
		return nil
	}

	res, err := c.gateway.UpdateTags(ctx, order.ID, tr.Tags.String())
	if err != nil {
		return fmt.Errorf("tag express order %s: %w", order.ID, err)
	}
	report.TagsWritten = true
	report.Outcome = OutcomeExpressTagged
	log.Info("Express order tagged, awaiting fulfillment",
		zap.String("tags", tr.Tags.String()),
		zap.Bool("skipped", res.Skipped))
	return nil
}

func sumDurations(ds []time.Duration) time.Duration {
	var total time.Duration
	for _, d := range ds {
		total += d
	}
	return total
}
