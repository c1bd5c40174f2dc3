package observe

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel"
)

func TestCorrelationID_NoSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without span = %q, want empty", got)
	}
}

func TestCorrelationID_WithSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	otel.SetTracerProvider(tp)

	ctx, span := StartSpan(context.Background(), "test-span")
	defer span.End()

	if got := CorrelationID(ctx); got == "" {
		t.Error("CorrelationID with active span should not be empty")
	}
}

func TestLogger_NeverNil(t *testing.T) {
	if Logger(context.Background()) == nil {
		t.Error("Logger should never return nil")
	}
}
