package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestSetup_Disabled(t *testing.T) {
	p, err := Setup(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	if p.Gateway() != nil {
		t.Error("disabled provider should have no instruments")
	}

	// Nil instruments are no-ops.
	h, ctx := p.Gateway().Start(context.Background(), "ssh", "exec", "h:22")
	if h != nil || ctx == nil {
		t.Error("nil instruments should return the parent context")
	}
	p.Gateway().Finish(h, nil)

	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error: %v", err)
	}
}

func TestGatewayInstruments_RecordsCalls(t *testing.T) {
	ctx := context.Background()
	p, err := Setup(ctx, Config{EnableMetrics: true})
	if err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	defer p.Shutdown(ctx)

	g := p.Gateway()
	h, _ := g.Start(ctx, "ftp", "list", "files:21")
	g.Finish(h, nil)
	h, _ = g.Start(ctx, "ftp", "list", "files:21")
	g.Finish(h, errors.New("boom"))

	var rm metricdata.ResourceMetrics
	if err := p.Reader().Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect() error: %v", err)
	}

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "fleetdeck.gateway.calls" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data type %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	if total != 2 {
		t.Errorf("recorded %d calls, want 2", total)
	}
}
