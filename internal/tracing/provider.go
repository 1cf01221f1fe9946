package tracing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "postoffice"

// Setup initializes the OpenTelemetry tracing pipeline:
// - Creates logs/otel/ directory
// - Opens a JSONL file for the session
// - Configures BatchSpanProcessor + TracerProvider
// - Sets the global TracerProvider
//
// role is "root" or "worker" (process.Role.String()); it's attached to
// every span emitted by this process so a JSONL log merged from several
// processes can still be split back apart.
//
// Returns a shutdown function that flushes and closes the exporter.
func Setup(sessionTS, role string) (shutdown func(context.Context), err error) {
	dir := filepath.Join("logs", "otel")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create otel log dir: %w", err)
	}

	path := filepath.Join(dir, sessionTS+".jsonl")
	exporter, err := NewJSONLExporter(path)
	if err != nil {
		return nil, err
	}

	bsp := sdktrace.NewBatchSpanProcessor(exporter,
		sdktrace.WithBatchTimeout(2*time.Second),
	)

	res := resource.NewSchemaless(
		attribute.String("service.name", "postoffice"),
		attribute.String("postoffice.role", role),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(bsp),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)

	return func(ctx context.Context) {
		_ = tp.Shutdown(ctx)
	}, nil
}

// Tracer returns the package tracer for manual span creation.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
