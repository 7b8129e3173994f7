package consolidation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	domain "github.com/erp/shipmerge/internal/domain/consolidation"
)

var fixedNow = time.Date(2024, 11, 5, 9, 30, 0, 0, time.UTC)

func newTestWebhookService(gw domain.Gateway, publisher OutcomePublisher, logger *zap.Logger) *WebhookService {
	return NewWebhookService(WebhookServiceConfig{
		Classifier:   newTestClassifier(gw, logger),
		Orchestrator: newTestOrchestrator(gw, nil, logger),
		Publisher:    publisher,
		Clock:        func() time.Time { return fixedNow },
		Logger:       logger,
	})
}

func TestWebhookService_MalformedPayload(t *testing.T) {
	svc := newTestWebhookService(newFakePlatform(), nil, zap.NewNop())

	tests := []struct {
		name    string
		topic   string
		payload string
	}{
		{name: "not json", topic: "orders/paid", payload: "{not json"},
		{name: "not json on ignored topic", topic: "products/update", payload: "<xml/>"},
		{name: "wrong id type", topic: "orders/paid", payload: `{"id": true}`},
		{name: "fractional id", topic: "fulfillments/create", payload: `{"order_id": 1.5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := svc.ProcessWebhook(context.Background(), "evt-1", tt.topic, []byte(tt.payload))
			assert.Nil(t, result)
			assert.ErrorIs(t, err, domain.ErrMalformedInput)
		})
	}
}

func TestWebhookService_IgnoredTopic(t *testing.T) {
	publisher := new(MockOutcomePublisher)
	publisher.On("Publish", mock.Anything, OutcomeRecord{
		EventID:    "evt-1",
		Topic:      "products/update",
		Outcome:    OutcomeIgnored,
		Processed:  true,
		Message:    "Event topic not handled",
		OccurredAt: fixedNow,
	}).Return(nil)
	svc := newTestWebhookService(newFakePlatform(), publisher, zap.NewNop())

	result, err := svc.ProcessWebhook(context.Background(), "evt-1", "products/update", []byte(`{"id": 1}`))
	require.NoError(t, err)

	assert.True(t, result.Processed)
	assert.Equal(t, OutcomeIgnored, result.Outcome)
	assert.Equal(t, "products/update", result.EventType)
	publisher.AssertExpectations(t)
}

func TestWebhookService_GeneratesEventID(t *testing.T) {
	svc := newTestWebhookService(newFakePlatform(), nil, zap.NewNop())

	result, err := svc.ProcessWebhook(context.Background(), "", "shop/update", []byte(`{}`))
	require.NoError(t, err)
	assert.Len(t, result.EventID, 36)
}

func TestWebhookService_OutcomeCarriesTraceID(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "webhook")
	defer span.End()

	publisher := new(MockOutcomePublisher)
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(r OutcomeRecord) bool {
		return r.TraceID == span.SpanContext().TraceID().String()
	})).Return(nil)
	svc := newTestWebhookService(newFakePlatform(), publisher, zap.NewNop())

	_, err := svc.ProcessWebhook(ctx, "evt-1", "shop/update", []byte(`{}`))
	require.NoError(t, err)
	publisher.AssertExpectations(t)
}

func TestWebhookService_OrderPaid(t *testing.T) {
	platform := newFakePlatform()
	platform.addOrder(fakeOrder{ID: "820982911946154508", ShippingMethod: "Express Shipping"})
	publisher := new(MockOutcomePublisher)
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(r OutcomeRecord) bool {
		return r.OrderID == "820982911946154508" && r.Outcome == OutcomeExpressTagged && r.Processed
	})).Return(nil)
	svc := newTestWebhookService(platform, publisher, zap.NewNop())

	payload := `{"id": 820982911946154508, "name": "#1002", "shipping_lines": [{"title": "Express Shipping", "code": "EXP"}]}`
	result, err := svc.ProcessWebhook(context.Background(), "evt-1", "orders/paid", []byte(payload))
	require.NoError(t, err)

	assert.True(t, result.Processed)
	assert.Equal(t, OutcomeExpressTagged, result.Outcome)
	require.NotNil(t, result.PaidOrder)
	assert.Nil(t, result.Merge)
	publisher.AssertExpectations(t)
}

func TestWebhookService_FulfillmentWithoutTracking(t *testing.T) {
	platform := customerPlatform()
	svc := newTestWebhookService(platform, nil, zap.NewNop())

	result, err := svc.ProcessWebhook(context.Background(), "evt-1", "fulfillments/create",
		[]byte(`{"id": 5, "order_id": "B", "tracking_number": null, "tracking_numbers": []}`))
	require.NoError(t, err)

	assert.True(t, result.Processed)
	assert.Equal(t, OutcomeSkipNoTracking, result.Outcome)
	assert.Empty(t, platform.writeLog())
}

func TestWebhookService_UpstreamErrorIsAcknowledged(t *testing.T) {
	platform := customerPlatform()
	platform.failOn("fetch_order", &domain.UpstreamError{Operation: "GET orders/B.json", StatusCode: 500})
	publisher := new(MockOutcomePublisher)
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(r OutcomeRecord) bool {
		return r.Outcome == OutcomeFailed && !r.Processed && r.OrderID == "B"
	})).Return(errors.New("broker unavailable"))
	logger, logs := observedLogger()
	svc := newTestWebhookService(platform, publisher, logger)

	result, err := svc.ProcessWebhook(context.Background(), "evt-1", "fulfillments/create",
		[]byte(`{"id": 5, "order_id": "B", "tracking_number": "T123"}`))
	require.NoError(t, err)

	assert.False(t, result.Processed)
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Contains(t, result.Message, "HTTP 500")
	assert.Equal(t, 1, logs.FilterMessage("Failed to process webhook event").Len())
	assert.Equal(t, 1, logs.FilterMessage("Failed to publish webhook outcome").Len())
	publisher.AssertExpectations(t)
}
