package otelx

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
)

// Outbox rows store W3C headers in dedicated columns, so these helpers use the
// TraceContext format directly rather than whatever global propagator is installed.
var w3c = propagation.TraceContext{}

// TraceContextStrings returns the traceparent and tracestate of the span in ctx, or
// empty strings when ctx carries no valid span.
func TraceContextStrings(ctx context.Context) (traceparent string, tracestate string) {
	carrier := propagation.MapCarrier{}
	w3c.Inject(ctx, carrier)
	return carrier.Get("traceparent"), carrier.Get("tracestate")
}

// ContextWithTraceContext makes a stored trace the remote parent of ctx, so the publish
// span links back to the request that wrote the outbox row.
func ContextWithTraceContext(ctx context.Context, traceparent string, tracestate string) context.Context {
	if traceparent == "" {
		return ctx
	}
	return w3c.Extract(ctx, propagation.MapCarrier{
		"traceparent": traceparent,
		"tracestate":  tracestate,
	})
}
