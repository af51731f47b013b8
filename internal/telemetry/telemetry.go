// Package telemetry sets up OpenTelemetry tracing and provides the event
// emitter the core uses for operational signals (dead letters, guardrail
// blocks, budget denials).
package telemetry

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/plinthworks/plinth/internal/config"
)

// Init sets up OpenTelemetry tracing with an OTLP gRPC exporter.
// Returns a shutdown function to call on graceful shutdown.
func Init(cfg config.TelemetryConfig) (func(context.Context) error, error) {
	if !cfg.Enabled || cfg.OTLPEndpoint == "" {
		log.Info().Msg("OpenTelemetry disabled")
		return func(ctx context.Context) error { return nil }, nil
	}

	ctx := context.Background()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().
		Str("endpoint", cfg.OTLPEndpoint).
		Str("service", cfg.ServiceName).
		Msg("OpenTelemetry tracing initialized")

	return tp.Shutdown, nil
}

// Emitter records platform events as span events on the active tracer and
// mirrors them to the structured log. Implements contracts.EventEmitter.
type Emitter struct {
	tracer trace.Tracer
}

// NewEmitter creates the default event emitter.
func NewEmitter() *Emitter {
	return &Emitter{tracer: otel.Tracer("plinth/events")}
}

// Emit records one event. Never blocks on the telemetry sink.
func (e *Emitter) Emit(event string, fields map[string]any) {
	_, span := e.tracer.Start(context.Background(), event)
	attrs := make([]attribute.KeyValue, 0, len(fields))
	ev := log.Info().Str("event", event)
	for k, v := range fields {
		attrs = append(attrs, attribute.String(k, fmt.Sprint(v)))
		ev = ev.Interface(k, v)
	}
	span.SetAttributes(attrs...)
	span.End()
	ev.Msg("platform event")
}
