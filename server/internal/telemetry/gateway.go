package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// GatewayInstruments publishes one counter sample, one duration sample and
// one span per remote protocol call.
type GatewayInstruments struct {
	calls    metric.Int64Counter
	duration metric.Int64Histogram
	tracer   trace.Tracer
}

// CallHandle tracks one in-flight call.
type CallHandle struct {
	ctx   context.Context
	span  trace.Span
	start time.Time
	attrs []attribute.KeyValue
}

func newGatewayInstruments(meter metric.Meter, tracer trace.Tracer) *GatewayInstruments {
	g := &GatewayInstruments{tracer: tracer}
	if meter != nil {
		g.calls, _ = meter.Int64Counter(
			"fleetdeck.gateway.calls",
			metric.WithDescription("Number of remote protocol calls"),
		)
		g.duration, _ = meter.Int64Histogram(
			"fleetdeck.gateway.duration",
			metric.WithDescription("Duration of remote protocol calls in milliseconds"),
			metric.WithUnit("ms"),
		)
	}
	return g
}

// Start opens a span for protocol/op against addr when tracing is enabled.
func (g *GatewayInstruments) Start(parent context.Context, protocol, op, addr string) (*CallHandle, context.Context) {
	if g == nil {
		return nil, parent
	}
	h := &CallHandle{
		ctx:   parent,
		start: time.Now(),
		attrs: []attribute.KeyValue{
			attribute.String("protocol", protocol),
			attribute.String("op", op),
		},
	}
	if g.tracer != nil {
		ctx, span := g.tracer.Start(parent, protocol+"."+op,
			trace.WithAttributes(append(h.attrs, attribute.String("net.peer.addr", addr))...))
		h.ctx = ctx
		h.span = span
	}
	return h, h.ctx
}

// Finish records the outcome of the call.
func (g *GatewayInstruments) Finish(h *CallHandle, err error) {
	if g == nil || h == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	attrs := append(append([]attribute.KeyValue{}, h.attrs...), attribute.String("result", result))

	if g.calls != nil {
		g.calls.Add(h.ctx, 1, metric.WithAttributes(attrs...))
	}
	if g.duration != nil {
		g.duration.Record(h.ctx, time.Since(h.start).Milliseconds(), metric.WithAttributes(attrs...))
	}
	if h.span != nil {
		if err != nil {
			h.span.SetStatus(codes.Error, err.Error())
		}
		h.span.End()
	}
}
