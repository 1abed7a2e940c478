package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// sample returns the value of the series name{label=value}.
func sample(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := label == ""
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					match = true
				}
			}
			if !match {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("series %s{%s=%q} not found", name, label, value)
	return 0
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ConnectAttempt(nil)
	m.ConnectAttempt(errors.New("refused"))
	m.ConnectAttempt(errors.New("refused"))
	m.Frame("title")
	m.Update("publish", nil)
	m.TransportError("timeout")
	m.ResolveMiss()

	if got := sample(t, reg, "presence_bridge_connect_attempts_total", "result", "error"); got != 2 {
		t.Fatalf("connect errors=%v", got)
	}
	if got := sample(t, reg, "presence_bridge_frames_total", "kind", "title"); got != 1 {
		t.Fatalf("frames=%v", got)
	}
	if got := sample(t, reg, "presence_bridge_resolve_misses_total", "", ""); got != 1 {
		t.Fatalf("resolve misses=%v", got)
	}
}

func TestMetrics_SetPhase(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	all := []string{"idle", "listening", "backoff"}
	m.SetPhase("listening", all)
	m.SetPhase("backoff", all)
	if got := sample(t, reg, "presence_bridge_session_phase", "phase", "listening"); got != 0 {
		t.Fatalf("listening=%v", got)
	}
	if got := sample(t, reg, "presence_bridge_session_phase", "phase", "backoff"); got != 1 {
		t.Fatalf("backoff=%v", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ConnectAttempt(nil)
	m.Frame("terminate")
	m.Update("clear", nil)
	m.TransportError("reset")
	m.ResolveMiss()
	m.SetPhase("idle", []string{"idle"})
}
