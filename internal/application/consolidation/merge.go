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

// DefaultClaimTTL bounds how long a held-order claim survives a crashed merge
const DefaultClaimTTL = 15 * time.Minute

// MergeTrigger is the orchestrator input taken from a fulfillment-created event
type MergeTrigger struct {
	OrderID         string
	TrackingNumber  string
	TrackingCompany string
	TrackingURL     string
}

// MergeOrchestrator consolidates a customer's held orders into the tracking
// data of an express order's fulfillment
type MergeOrchestrator struct {
	gateway  domain.Gateway
	methods  *domain.MethodClassifier
	claims   MergeClaimStore
	claimTTL time.Duration
	dryRun   bool
	logger   *zap.Logger
	metrics  *telemetry.ConsolidationMetrics
}

// MergeOrchestratorConfig contains configuration for MergeOrchestrator
type MergeOrchestratorConfig struct {
	Gateway domain.Gateway
	Methods *domain.MethodClassifier
	// Claims is optional; without it concurrent merges are not arbitrated.
	// It is not consulted in dry-run mode.
	Claims   MergeClaimStore
	ClaimTTL time.Duration
	DryRun   bool
	Logger   *zap.Logger
}

// NewMergeOrchestrator creates a new MergeOrchestrator
func NewMergeOrchestrator(cfg MergeOrchestratorConfig) *MergeOrchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.ClaimTTL
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	return &MergeOrchestrator{
		gateway:  cfg.Gateway,
		methods:  cfg.Methods,
		claims:   cfg.Claims,
		claimTTL: ttl,
		dryRun:   cfg.DryRun,
		logger:   logger,
	}
}

// SetMetrics sets the metrics recorder (optional)
func (o *MergeOrchestrator) SetMetrics(m *telemetry.ConsolidationMetrics) {
	o.metrics = m
}

// Merge runs the merge protocol for one fulfillment-created event.
// The returned report is populated even when an error aborts the merge, so
// the caller can see how far it got. A later delivery of the same event
// resumes the remaining work.
func (o *MergeOrchestrator) Merge(ctx context.Context, t MergeTrigger) (*MergeReport, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "merge_orchestrator", "merge",
		telemetry.WithAttribute("order.id", t.OrderID))
	defer span.End()

	report := &MergeReport{TriggerOrderID: t.OrderID, TrackingNumber: t.TrackingNumber}
	log := ctxlog.Enrich(ctx, o.logger).With(zap.String("order_id", t.OrderID), zap.Bool("dry_run", o.dryRun))

	skip := func(outcome Outcome, msg string) (*MergeReport, error) {
		report.Outcome = outcome
		log.Info(msg, zap.String("outcome", outcome.String()))
		telemetry.SetAttribute(span, "consolidation.outcome", outcome.String())
		return report, nil
	}

	if t.OrderID == "" {
		return skip(OutcomeSkipNoOrderID, "Fulfillment event without order id")
	}
	if t.TrackingNumber == "" {
		return skip(OutcomeSkipNoTracking, "Fulfillment has no tracking number yet")
	}

	trigger, err := o.gateway.FetchOrder(ctx, t.OrderID)
	if err != nil {
		report.Outcome = OutcomeFailed
		telemetry.RecordError(span, err)
		return report, fmt.Errorf("fetch trigger order %s: %w", t.OrderID, err)
	}
	log = log.With(zap.String("order_name", trigger.Name))

	if o.methods.Classify(trigger.ShippingMethod) != domain.ShippingClassExpress && !trigger.Tags.Has(domain.TagExpressNow) {
		return skip(OutcomeSkipNotExpress, "Fulfillment is not on an express order")
	}
	if trigger.CustomerID == "" {
		return skip(OutcomeSkipNoCustomer, "Express order has no customer")
	}
	if trigger.Tags.Has(domain.TagMergeDone) {
		return skip(OutcomeAlreadyMerged, "Express order already merged")
	}

	closing, err := domain.CloseMerge(trigger.Tags)
	if err != nil {
		return skip(OutcomeInvalidState, "Express order tags do not allow closing a merge")
	}

	summaries, err := o.gateway.ListCustomerOrders(ctx, trigger.CustomerID)
	if err != nil {
		report.Outcome = OutcomeFailed
		telemetry.RecordError(span, err)
		return report, fmt.Errorf("list orders of customer %s: %w", trigger.CustomerID, err)
	}
	mergeable := make([]domain.OrderSummary, 0, len(summaries))
	for _, s := range summaries {
		if s.ID != trigger.ID && s.IsMergeable() {
			mergeable = append(mergeable, s)
		}
	}
	log.Info("Merge started",
		zap.String("customer_id", trigger.CustomerID),
		zap.String("tracking_number", t.TrackingNumber),
		zap.Int("customer_orders", len(summaries)),
		zap.Int("mergeable_orders", len(mergeable)))

	label := trigger.Name
	if label == "" {
		label = trigger.ID
	}
	for _, held := range mergeable {
		entry, err := o.consume(ctx, log, trigger.ID, label, t, held)
		report.HeldOrders = append(report.HeldOrders, entry)
		if err != nil {
			report.Outcome = OutcomeFailed
			telemetry.RecordError(span, err)
			log.Error("Merge aborted, trigger left open for redelivery",
				zap.String("held_order_id", held.ID),
				zap.Error(err))
			return report, err
		}
	}

	if _, err := o.gateway.UpdateTags(ctx, trigger.ID, closing.Tags.String()); err != nil {
		report.Outcome = OutcomeFailed
		telemetry.RecordError(span, err)
		return report, fmt.Errorf("close merge on order %s: %w", trigger.ID, err)
	}
	report.TriggerClosed = true

	report.Outcome = OutcomeMerged
	if len(mergeable) == 0 {
		report.Outcome = OutcomeMergedNothingHeld
	}
	log.Info("Merge closed",
		zap.String("outcome", report.Outcome.String()),
		zap.String("tags", closing.Tags.String()),
		zap.Int("held_orders", len(report.HeldOrders)))
	telemetry.SetAttribute(span, "consolidation.outcome", report.Outcome.String())
	return report, nil
}

// consume releases one held order, fulfills it with the trigger's tracking
// data and retags it MERGE_DONE. Unit-level rejections are recorded as
// warnings and the order is still retagged; transport errors abort.
func (o *MergeOrchestrator) consume(
	ctx context.Context,
	log *zap.Logger,
	triggerID, triggerLabel string,
	t MergeTrigger,
	held domain.OrderSummary,
) (HeldOrderReport, error) {
	entry := HeldOrderReport{OrderID: held.ID, OrderName: held.Name}
	log = log.With(zap.String("held_order_id", held.ID))

	// dry-run performs no writes, so there is nothing to arbitrate
	if o.claims != nil && !o.dryRun {
		owner, err := o.claims.Claim(ctx, held.ID, triggerID, o.claimTTL)
		switch {
		case err != nil:
			log.Warn("Merge claim unavailable, proceeding without it", zap.Error(err))
		case owner != triggerID:
			entry.Skipped = SkipClaimedByOther
			log.Warn("Held order claimed by another merge", zap.String("claimed_by", owner))
			return entry, nil
		}
	}

	current, err := o.gateway.FetchOrder(ctx, held.ID)
	if err != nil {
		return entry, fmt.Errorf("re-read held order %s: %w", held.ID, err)
	}
	if !current.Tags.Has(domain.TagHold) {
		entry.Skipped = SkipNoLongerHeld
		log.Info("Order no longer held, skipping", zap.String("tags", current.Tags.String()))
		return entry, nil
	}
	consumed, err := domain.ConsumeHeld(current.Tags)
	if err != nil {
		entry.Skipped = SkipIllegalState
		log.Warn("Held order tags do not allow consumption", zap.Error(err))
		return entry, nil
	}

	units, err := o.gateway.ListFulfillmentUnits(ctx, held.ID)
	if err != nil {
		return entry, fmt.Errorf("list fulfillment units for order %s: %w", held.ID, err)
	}

	actionable := make([]domain.FulfillmentUnit, 0, len(units))
	for _, u := range units {
		if u.IsActionable() {
			actionable = append(actionable, u)
		}
	}

	for _, u := range actionable {
		res, err := o.gateway.ReleaseFulfillmentHold(ctx, u.ID)
		if err != nil {
			return entry, fmt.Errorf("release hold on unit %s: %w", u.ID, err)
		}
		if !res.OK() {
			entry.Warnings = append(entry.Warnings, res.Warnings...)
			log.Warn("Release hold reported warnings",
				zap.String("unit_id", u.ID),
				zap.Strings("warnings", res.Warnings))
			continue
		}
		entry.UnitsReleased++
		log.Info("Fulfillment unit released", zap.String("unit_id", u.ID), zap.Bool("skipped", res.Skipped))
	}

	for _, u := range actionable {
		res, err := o.gateway.CreateFulfillment(ctx, domain.FulfillmentRequest{
			OrderID:         held.ID,
			UnitID:          u.ID,
			TrackingNumber:  t.TrackingNumber,
			TrackingCompany: t.TrackingCompany,
			TrackingURL:     t.TrackingURL,
			Message:         fmt.Sprintf("Shipped together with order %s", triggerLabel),
		})
		var rejected *domain.RejectionError
		if errors.As(err, &rejected) {
			entry.Warnings = append(entry.Warnings, rejected.Messages...)
			log.Warn("Fulfillment rejected for unit",
				zap.String("unit_id", u.ID),
				zap.Strings("warnings", rejected.Messages))
			continue
		}
		if err != nil {
			return entry, fmt.Errorf("create fulfillment on unit %s: %w", u.ID, err)
		}
		entry.FulfillmentsCreated++
		log.Info("Fulfillment created",
			zap.String("unit_id", u.ID),
			zap.String("tracking_number", t.TrackingNumber),
			zap.Bool("skipped", res.Skipped))
	}

	if _, err := o.gateway.UpdateTags(ctx, held.ID, consumed.Tags.String()); err != nil {
		return entry, fmt.Errorf("retag held order %s: %w", held.ID, err)
	}
	entry.Retagged = true
	log.Info("Held order merged",
		zap.String("tags", consumed.Tags.String()),
		zap.Int("units_released", entry.UnitsReleased),
		zap.Int("fulfillments_created", entry.FulfillmentsCreated))
	return entry, nil
}
