package consolidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domain "github.com/erp/shipmerge/internal/domain/consolidation"
	ctxlog "github.com/erp/shipmerge/internal/infrastructure/logger"
	"github.com/erp/shipmerge/internal/infrastructure/telemetry"
)

// WebhookService routes verified platform webhooks to the classifier and
// the merge orchestrator
type WebhookService struct {
	classifier   *PaidOrderClassifier
	orchestrator *MergeOrchestrator
	publisher    OutcomePublisher
	dryRun       bool
	now          func() time.Time
	logger       *zap.Logger
	metrics      *telemetry.ConsolidationMetrics
}

// WebhookServiceConfig contains configuration for WebhookService
type WebhookServiceConfig struct {
	Classifier   *PaidOrderClassifier
	Orchestrator *MergeOrchestrator
	Publisher    OutcomePublisher
	DryRun       bool
	Clock        func() time.Time
	Logger       *zap.Logger
}

// NewWebhookService creates a new WebhookService
func NewWebhookService(cfg WebhookServiceConfig) *WebhookService {
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = NoopOutcomePublisher{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookService{
		classifier:   cfg.Classifier,
		orchestrator: cfg.Orchestrator,
		publisher:    publisher,
		dryRun:       cfg.DryRun,
		now:          clock,
		logger:       logger,
	}
}

// SetMetrics sets the metrics recorder (optional)
func (s *WebhookService) SetMetrics(m *telemetry.ConsolidationMetrics) {
	s.metrics = m
}

// WebhookResult contains the result of processing a webhook
type WebhookResult struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	Processed bool             `json:"processed"`
	Outcome   Outcome          `json:"outcome"`
	DryRun    bool             `json:"dry_run"`
	Message   string           `json:"message,omitempty"`
	PaidOrder *PaidOrderReport `json:"paid_order,omitempty"`
	Merge     *MergeReport     `json:"merge,omitempty"`
}

// ProcessWebhook processes one webhook whose signature has already been verified.
// Only a malformed payload is returned as an error (wrapping
// domain.ErrMalformedInput). Failures while handling a well-formed event are
// logged and reported through the result with Processed=false, so the
// platform does not redeliver into a failing dependency.
func (s *WebhookService) ProcessWebhook(ctx context.Context, eventID, topic string, payload []byte) (*WebhookResult, error) {
	if eventID == "" {
		eventID = uuid.NewString()
	}
	result := &WebhookResult{
		EventID:   eventID,
		EventType: topic,
		Processed: true,
		DryRun:    s.dryRun,
	}
	log := ctxlog.Enrich(ctx, s.logger).With(
		zap.String("event_id", eventID),
		zap.String("topic", topic),
		zap.Bool("dry_run", s.dryRun))

	if !json.Valid(payload) {
		log.Warn("Rejected webhook with malformed JSON payload")
		return nil, fmt.Errorf("%w: payload is not valid JSON", domain.ErrMalformedInput)
	}

	log.Info("Processing webhook event")

	var (
		orderID string
		err     error
	)
	switch domain.ParseTopic(topic) {
	case domain.TopicOrderPaid:
		orderID, err = s.handleOrderPaid(ctx, payload, result)
	case domain.TopicFulfillmentCreated:
		orderID, err = s.handleFulfillmentCreated(ctx, payload, result)
	default:
		result.Outcome = OutcomeIgnored
		result.Message = "Event topic not handled"
		log.Info("Unhandled webhook topic", zap.String("outcome", result.Outcome.String()))
	}

	if err != nil {
		if isMalformed(err) {
			log.Warn("Rejected webhook with malformed payload", zap.Error(err))
			return nil, err
		}
		result.Processed = false
		result.Outcome = OutcomeFailed
		result.Message = err.Error()
		log.Error("Failed to process webhook event",
			zap.String("order_id", orderID),
			zap.Error(err))
	}

	s.metrics.RecordWebhook(ctx, topic, result.Outcome.String(), result.Processed)
	s.publish(ctx, log, result, orderID)
	return result, nil
}

func (s *WebhookService) handleOrderPaid(ctx context.Context, payload []byte, result *WebhookResult) (string, error) {
	p, err := domain.DecodePaidOrder(payload)
	if err != nil {
		return "", err
	}
	report, err := s.classifier.Classify(ctx, PaidOrder{
		OrderID:        p.ID.String(),
		ShippingMethod: p.ShippingMethod(),
	})
	result.PaidOrder = report
	if report != nil {
		result.Outcome = report.Outcome
	}
	return p.ID.String(), err
}

func (s *WebhookService) handleFulfillmentCreated(ctx context.Context, payload []byte, result *WebhookResult) (string, error) {
	p, err := domain.DecodeFulfillmentCreated(payload)
	if err != nil {
		return "", err
	}
	number, url := p.Tracking()
	report, err := s.orchestrator.Merge(ctx, MergeTrigger{
		OrderID:         p.OrderID.String(),
		TrackingNumber:  number,
		TrackingCompany: p.TrackingCompany,
		TrackingURL:     url,
	})
	result.Merge = report
	if report != nil {
		result.Outcome = report.Outcome
	}
	return p.OrderID.String(), err
}

func (s *WebhookService) publish(ctx context.Context, log *zap.Logger, result *WebhookResult, orderID string) {
	record := OutcomeRecord{
		EventID:    result.EventID,
		Topic:      result.EventType,
		OrderID:    orderID,
		Outcome:    result.Outcome,
		DryRun:     result.DryRun,
		Processed:  result.Processed,
		Message:    result.Message,
		TraceID:    telemetry.GetTraceID(ctx),
		OccurredAt: s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, record); err != nil {
		log.Warn("Failed to publish webhook outcome", zap.Error(err))
	}
}

func isMalformed(err error) bool {
	return errors.Is(err, domain.ErrMalformedInput)
}
