package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/leaudio/bapd/internal/setup"
)

func gaugeValue(t *testing.T, g *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := g.WithLabelValues(labels...).Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestObserveStateIncrementsAndDecrements(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveState(setup.StateIdle, setup.StateConfig)
	if v := gaugeValue(t, m.StreamsByState, "CONFIG"); v != 1 {
		t.Fatalf("expected CONFIG gauge at 1, got %v", v)
	}
	m.ObserveState(setup.StateConfig, setup.StateQoS)
	if v := gaugeValue(t, m.StreamsByState, "CONFIG"); v != 0 {
		t.Fatalf("expected CONFIG gauge back at 0, got %v", v)
	}
	if v := gaugeValue(t, m.StreamsByState, "QOS"); v != 1 {
		t.Fatalf("expected QOS gauge at 1, got %v", v)
	}
}

func TestObserveStateNoOpOnSameState(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveState(setup.StateStreaming, setup.StateStreaming)
	if v := gaugeValue(t, m.StreamsByState, "STREAMING"); v != 0 {
		t.Fatalf("expected no change for same-state observation, got %v", v)
	}
}

func TestObserveTeardownIncrementsReasonCounter(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveTeardown(ReasonQoSFailed)
	m.ObserveTeardown(ReasonQoSFailed)

	out := &dto.Metric{}
	if err := m.SetupTeardowns.WithLabelValues(string(ReasonQoSFailed)).Write(out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if out.GetCounter().GetValue() != 2 {
		t.Fatalf("expected counter at 2, got %v", out.GetCounter().GetValue())
	}
}
