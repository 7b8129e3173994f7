package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	app "github.com/erp/shipmerge/internal/application/consolidation"
	"github.com/erp/shipmerge/internal/infrastructure/telemetry"
)

// KafkaConfig holds the outcome stream settings
type KafkaConfig struct {
	Brokers        []string
	Topic          string
	ClientID       string
	ProduceTimeout time.Duration
	// PublishTimeout bounds a whole Publish call, retries included
	PublishTimeout time.Duration
}

// DefaultPublishTimeout keeps an unreachable broker from stalling webhook responses
const DefaultPublishTimeout = 2 * time.Second

// Errors for Kafka configuration
var (
	ErrKafkaNoBrokers = errors.New("kafka: at least one broker is required")
	ErrKafkaNoTopic   = errors.New("kafka: topic is required")
)

// recordProducer is the subset of *kgo.Client the publisher needs
type recordProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaOutcomePublisher publishes webhook outcome records as JSON, keyed by
// order id so every outcome for one order lands on the same partition
type KafkaOutcomePublisher struct {
	client  recordProducer
	topic   string
	timeout time.Duration
	logger  *zap.Logger
}

var _ app.OutcomePublisher = (*KafkaOutcomePublisher)(nil)

// NewKafkaOutcomePublisher creates a franz-go producer for the outcome topic
func NewKafkaOutcomePublisher(cfg KafkaConfig, logger *zap.Logger) (*KafkaOutcomePublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrKafkaNoBrokers
	}
	if cfg.Topic == "" {
		return nil, ErrKafkaNoTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "shipmerge"
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.ProduceTimeout <= 0 || cfg.ProduceTimeout > cfg.PublishTimeout {
		cfg.ProduceTimeout = cfg.PublishTimeout
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProduceRequestTimeout(cfg.ProduceTimeout),
		kgo.RecordDeliveryTimeout(cfg.PublishTimeout),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ClientID(cfg.ClientID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return newKafkaOutcomePublisher(client, cfg.Topic, cfg.PublishTimeout, logger), nil
}

func newKafkaOutcomePublisher(client recordProducer, topic string, timeout time.Duration, logger *zap.Logger) *KafkaOutcomePublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &KafkaOutcomePublisher{client: client, topic: topic, timeout: timeout, logger: logger}
}

// Publish writes one record and waits for the broker acknowledgement, at most
// the configured publish timeout
func (p *KafkaOutcomePublisher) Publish(ctx context.Context, record app.OutcomeRecord) error {
	ctx, span := telemetry.StartSpan(ctx, "kafka.publish_outcome",
		telemetry.WithSpanKind(trace.SpanKindProducer),
		telemetry.WithAttribute("messaging.destination", p.topic),
		telemetry.WithAttribute("order.id", record.OrderID))
	defer span.End()

	value, err := json.Marshal(record)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to encode outcome record: %w", err)
	}

	key := record.OrderID
	if key == "" {
		key = record.EventID
	}

	rec := &kgo.Record{
		Topic:   p.topic,
		Key:     []byte(key),
		Value:   value,
		Headers: traceHeaders(ctx),
	}
	rec.Headers = append(rec.Headers,
		kgo.RecordHeader{Key: "event_id", Value: []byte(record.EventID)},
		kgo.RecordHeader{Key: "outcome", Value: []byte(record.Outcome)},
	)

	produceCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.client.ProduceSync(produceCtx, rec).FirstErr(); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to publish outcome to %s: %w", p.topic, err)
	}

	p.logger.Debug("Outcome published",
		zap.String("topic", p.topic),
		zap.String("event_id", record.EventID),
		zap.String("outcome", string(record.Outcome)))
	return nil
}

// Close flushes and closes the producer
func (p *KafkaOutcomePublisher) Close() {
	p.client.Close()
}

// traceHeaders injects the active trace context into record headers
func traceHeaders(ctx context.Context) []kgo.RecordHeader {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	keys := carrier.Keys()
	sort.Strings(keys)
	headers := make([]kgo.RecordHeader, 0, len(keys))
	for _, k := range keys {
		headers = append(headers, kgo.RecordHeader{Key: k, Value: []byte(carrier.Get(k))})
	}
	return headers
}
