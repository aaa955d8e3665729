package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "voiceforge"

// Metrics holds the engine's metric instruments.
type Metrics struct {
	ExecutionsStarted   metric.Int64Counter
	ExecutionsCompleted metric.Int64Counter
	ExecutionsFailed    metric.Int64Counter
	Decisions           metric.Int64Counter
	QueueEnqueued       metric.Int64Counter
	DefectsFiled        metric.Int64Counter
	SpeechLatency       metric.Float64Histogram
	JudgeLatency        metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFrom(otel.Meter(meterName))
}

// NewMetricsFrom creates the instruments on meter.
func NewMetricsFrom(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.ExecutionsStarted, err = meter.Int64Counter("voiceforge.executions.started",
		metric.WithDescription("Scenario executions started")); err != nil {
		return nil, err
	}
	if m.ExecutionsCompleted, err = meter.Int64Counter("voiceforge.executions.completed",
		metric.WithDescription("Scenario executions that ran every step")); err != nil {
		return nil, err
	}
	if m.ExecutionsFailed, err = meter.Int64Counter("voiceforge.executions.failed",
		metric.WithDescription("Scenario executions halted or aborted")); err != nil {
		return nil, err
	}
	if m.Decisions, err = meter.Int64Counter("voiceforge.decisions",
		metric.WithDescription("Validation records by final decision and review status")); err != nil {
		return nil, err
	}
	if m.QueueEnqueued, err = meter.Int64Counter("voiceforge.review.enqueued",
		metric.WithDescription("Review queue items created")); err != nil {
		return nil, err
	}
	if m.DefectsFiled, err = meter.Int64Counter("voiceforge.defects.filed",
		metric.WithDescription("Defects filed from failure streaks")); err != nil {
		return nil, err
	}
	if m.SpeechLatency, err = meter.Float64Histogram("voiceforge.speech.latency_seconds",
		metric.WithDescription("Speech platform query latency"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.JudgeLatency, err = meter.Float64Histogram("voiceforge.judge.latency_seconds",
		metric.WithDescription("Judge evaluation latency"), metric.WithUnit("s")); err != nil {
		return nil, err
	}

	return m, nil
}
