package ecommerce

import (
	"context"

	"go.uber.org/zap"

	domain "github.com/erp/shipmerge/internal/domain/consolidation"
	"github.com/erp/shipmerge/internal/infrastructure/telemetry"
)

// DryRunGateway wraps a Gateway so that reads reach the platform while every
// write is logged and reported as skipped
type DryRunGateway struct {
	inner   domain.Gateway
	logger  *zap.Logger
	metrics *telemetry.ConsolidationMetrics
}

var _ domain.Gateway = (*DryRunGateway)(nil)

// NewDryRunGateway creates a new DryRunGateway around inner
func NewDryRunGateway(inner domain.Gateway, logger *zap.Logger) *DryRunGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DryRunGateway{inner: inner, logger: logger}
}

// SelectGateway returns the gateway used for the process lifetime
func SelectGateway(inner domain.Gateway, dryRun bool, logger *zap.Logger) domain.Gateway {
	if !dryRun {
		return inner
	}
	logger.Warn("Dry-run mode enabled, platform writes will be skipped")
	return NewDryRunGateway(inner, logger)
}

// SetMetrics sets the metrics recorder (optional)
func (g *DryRunGateway) SetMetrics(m *telemetry.ConsolidationMetrics) {
	g.metrics = m
}

func (g *DryRunGateway) skip(ctx context.Context, operation string, fields ...zap.Field) {
	g.metrics.RecordWrite(ctx, operation, true)
	g.logger.Info("dry-run: skipped write", append([]zap.Field{zap.String("operation", operation)}, fields...)...)
}

// FetchOrder delegates to the wrapped gateway
func (g *DryRunGateway) FetchOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return g.inner.FetchOrder(ctx, orderID)
}

// ListCustomerOrders delegates to the wrapped gateway
func (g *DryRunGateway) ListCustomerOrders(ctx context.Context, customerID string) ([]domain.OrderSummary, error) {
	return g.inner.ListCustomerOrders(ctx, customerID)
}

// ListFulfillmentUnits delegates to the wrapped gateway
func (g *DryRunGateway) ListFulfillmentUnits(ctx context.Context, orderID string) ([]domain.FulfillmentUnit, error) {
	return g.inner.ListFulfillmentUnits(ctx, orderID)
}

// UpdateTags logs the tag text that would have been written
func (g *DryRunGateway) UpdateTags(ctx context.Context, orderID string, tagText string) (domain.WriteResult, error) {
	g.skip(ctx, "update_tags", zap.String("order_id", orderID), zap.String("tags", tagText))
	return domain.WriteResult{Skipped: true}, nil
}

// HoldFulfillmentUnits reports every unit as skipped
func (g *DryRunGateway) HoldFulfillmentUnits(ctx context.Context, unitIDs []string, reasonNote string) ([]domain.UnitResult, error) {
	results := make([]domain.UnitResult, 0, len(unitIDs))
	for _, id := range unitIDs {
		g.skip(ctx, "hold_fulfillment_unit", zap.String("unit_id", id), zap.String("reason", reasonNote))
		results = append(results, domain.UnitResult{UnitID: id, Skipped: true})
	}
	return results, nil
}

// ReleaseFulfillmentHold reports the unit as skipped
func (g *DryRunGateway) ReleaseFulfillmentHold(ctx context.Context, unitID string) (domain.UnitResult, error) {
	g.skip(ctx, "release_fulfillment_hold", zap.String("unit_id", unitID))
	return domain.UnitResult{UnitID: unitID, Skipped: true}, nil
}

// CreateFulfillment logs the fulfillment that would have been created
func (g *DryRunGateway) CreateFulfillment(ctx context.Context, req domain.FulfillmentRequest) (domain.WriteResult, error) {
	g.skip(ctx, "create_fulfillment",
		zap.String("order_id", req.OrderID),
		zap.String("unit_id", req.UnitID),
		zap.String("tracking_number", req.TrackingNumber),
		zap.String("tracking_company", req.TrackingCompany))
	return domain.WriteResult{Skipped: true}, nil
}
