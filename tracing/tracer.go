// Package tracing provides the otel tracer handle and panic-recovery
// helpers used by executor and profiler. Unlike the teacher's
// tracing/main.go (which owned OTLP/stdout exporter setup, EC2 resource
// detection, and Sentry wiring), this package deliberately stops at
// `Tracer()`: exporter and SDK configuration is the hosting process's job,
// not a core engine responsibility.
package tracing

import (
	"context"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/florajs/flora-go"

var tracer = otel.GetTracerProvider().Tracer(instrumentationName)

// Tracer returns the engine's otel tracer. Call otel.SetTracerProvider
// before engine startup to wire a real exporter; with no provider set this
// falls back to a no-op tracer. profiler.Node.Start does not use it: it
// takes its tracer from the span already in ctx.
func Tracer() trace.Tracer {
	return tracer
}

// LogRecoverToReturn recovers a panic raised inside a goroutine spawned by
// the executor's node walk (subFilters/subRequests fan-out), logs it,
// records it on the active span, and lets the goroutine return instead of
// crashing the process. It does nothing when there is no panic.
func LogRecoverToReturn(ctx context.Context, loc string) {
	r := recover()
	if r == nil {
		return
	}

	stack := string(debug.Stack())
	log.WithFields(log.Fields{"loc": loc, "stack": stack}).Errorf("recovered panic in %s: %v", loc, r)

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("flora.panic.loc", loc),
	)
	span.RecordError(panicError{loc: loc, value: r})
}

type panicError struct {
	loc   string
	value any
}

func (p panicError) Error() string {
	return "panic in " + p.loc
}
