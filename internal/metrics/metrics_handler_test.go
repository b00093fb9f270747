package metrics

import (
	"testing"

	"liqflow/logger"
)

func TestRegisterMetricHandlerReceivesMetrics(t *testing.T) {
	var got []Metric
	id := RegisterMetricHandler(func(m Metric) {
		got = append(got, m)
	})
	defer UnregisterMetricHandler(id)

	EmitMetric(logger.GetLogger(), "test_component", "test_metric", 3, "counter", logger.Fields{"exchange": "binance"})

	if len(got) != 1 {
		t.Fatalf("expected 1 dispatched metric, got %d", len(got))
	}
	if got[0].Name != "test_metric" || got[0].Component != "test_component" {
		t.Fatalf("unexpected metric: %+v", got[0])
	}
	if got[0].Fields["exchange"] != "binance" {
		t.Fatalf("expected exchange field to survive, got %v", got[0].Fields)
	}
}

func TestEmitMetricIgnoresEmptyName(t *testing.T) {
	var count int
	id := RegisterMetricHandler(func(Metric) { count++ })
	defer UnregisterMetricHandler(id)

	EmitMetric(logger.GetLogger(), "test_component", "", 1, "counter", nil)

	if count != 0 {
		t.Fatalf("expected no dispatch for empty metric name, got %d", count)
	}
}

func TestRegisterNilHandler(t *testing.T) {
	if id := RegisterMetricHandler(nil); id != 0 {
		t.Fatalf("expected zero id for nil handler, got %d", id)
	}
}
