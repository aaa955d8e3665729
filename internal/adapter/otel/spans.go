package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "voiceforge"

// StartExecutionSpan starts a span covering a scenario execution.
func StartExecutionSpan(ctx context.Context, executionID, scenarioID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "execution",
		trace.WithAttributes(
			attribute.String("execution.id", executionID),
			attribute.String("scenario.id", scenarioID),
		),
	)
}

// StartTurnSpan starts a span for one (step, language) turn.
func StartTurnSpan(ctx context.Context, step int, language string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "turn",
		trace.WithAttributes(
			attribute.Int("step.position", step),
			attribute.String("step.language", language),
		),
	)
}

// StartJudgeSpan starts a span for a single judge evaluation.
func StartJudgeSpan(ctx context.Context, judge string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "judge",
		trace.WithAttributes(attribute.String("judge.name", judge)),
	)
}
