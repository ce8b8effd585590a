package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func resetForTest() {
	globalMu.Lock()
	global = nil
	globalMu.Unlock()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestRecordersNoopBeforeInit(t *testing.T) {
	resetForTest()

	RecordOperation("draw", ResultApplied, time.Millisecond)
	RecordQueued("DRAW_STROKE", 3)
	RecordDroppedSends(1)
	RecordRateLimited()
	RecordConnect()
	RecordDisconnect()
	SetActiveStrokes("default", 4)
}

func TestRecorders(t *testing.T) {
	resetForTest()
	defer resetForTest()

	reg := prometheus.NewRegistry()
	Init(WithRegistry(reg), WithNamespace("test"))
	m := current()
	if m == nil {
		t.Fatal("Init should set the collectors")
	}

	RecordOperation("draw", ResultApplied, time.Millisecond)
	RecordOperation("draw", ResultApplied, time.Millisecond)
	RecordOperation("undo", ResultNoop, time.Millisecond)
	if got := counterValue(t, m.operationsTotal.WithLabelValues("draw", ResultApplied)); got != 2 {
		t.Errorf("operations_total(draw, applied)=%v, want 2", got)
	}
	if got := counterValue(t, m.operationsTotal.WithLabelValues("undo", ResultNoop)); got != 1 {
		t.Errorf("operations_total(undo, noop)=%v, want 1", got)
	}

	RecordQueued("LOAD_HISTORY", 3)
	RecordQueued("LOAD_HISTORY", 0)
	if got := counterValue(t, m.broadcastsTotal.WithLabelValues("LOAD_HISTORY")); got != 3 {
		t.Errorf("messages_queued_total=%v, want 3", got)
	}

	RecordDroppedSends(2)
	if got := counterValue(t, m.droppedSends); got != 2 {
		t.Errorf("dropped_sends_total=%v, want 2", got)
	}

	RecordConnect()
	RecordConnect()
	RecordDisconnect()
	if got := gaugeValue(t, m.activeConnections); got != 1 {
		t.Errorf("active_connections=%v, want 1", got)
	}

	SetActiveStrokes("room-a", 5)
	if got := gaugeValue(t, m.activeStrokes.WithLabelValues("room-a")); got != 5 {
		t.Errorf("active_strokes=%v, want 5", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "test_operations_total" {
			found = true
		}
	}
	if !found {
		t.Error("Expected test_operations_total in registry")
	}
}

func TestInitOnlyOnce(t *testing.T) {
	resetForTest()
	defer resetForTest()

	Init(WithRegistry(prometheus.NewRegistry()))
	first := current()
	Init(WithRegistry(prometheus.NewRegistry()))
	if current() != first {
		t.Error("Second Init should keep the existing collectors")
	}
}
