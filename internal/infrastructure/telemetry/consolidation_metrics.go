package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/metric"
)

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

// ConsolidationMetrics tracks webhook outcomes, external writes and poll
// behaviour. A nil *ConsolidationMetrics is valid and records nothing.
type ConsolidationMetrics struct {
	webhookTotal *Counter
	writeTotal   *Counter
	pollAttempts *Histogram
}

// NewConsolidationMetrics registers the consolidation instruments on meter.
func NewConsolidationMetrics(meter metric.Meter) (*ConsolidationMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	m := &ConsolidationMetrics{}
	var err error

	m.webhookTotal, err = NewCounter(
		meter,
		"shipmerge_webhook_total",
		"Webhook events handled, by topic and outcome",
		"{events}",
	)
	if err != nil {
		return nil, err
	}

	m.writeTotal, err = NewCounter(
		meter,
		"shipmerge_platform_write_total",
		"Writes routed to the commerce platform, by operation and dry-run skip",
		"{writes}",
	)
	if err != nil {
		return nil, err
	}

	m.pollAttempts, err = NewHistogram(meter, HistogramOpts{
		Name:        "shipmerge_poll_attempts",
		Description: "Read attempts needed before fulfillment units became visible",
		Unit:        "{attempts}",
		Boundaries:  PollAttemptBuckets,
	})
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordWebhook counts one handled webhook
func (m *ConsolidationMetrics) RecordWebhook(ctx context.Context, topic, outcome string, processed bool) {
	if m == nil {
		return
	}
	m.webhookTotal.Inc(ctx,
		AttrTopic.String(topic),
		AttrOutcome.String(outcome),
		AttrProcessed.Bool(processed),
	)
}

// RecordWrite counts one platform write, skipped or performed
func (m *ConsolidationMetrics) RecordWrite(ctx context.Context, operation string, skipped bool) {
	if m == nil {
		return
	}
	m.writeTotal.Inc(ctx, AttrOperation.String(operation), AttrSkipped.Bool(skipped))
}

// RecordPollAttempts records how many reads a poll took
func (m *ConsolidationMetrics) RecordPollAttempts(ctx context.Context, attempts int, found bool) {
	if m == nil {
		return
	}
	m.pollAttempts.Record(ctx, float64(attempts), AttrFound.Bool(found))
}
