package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestSyncMetricsExportsPassesAndGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewSyncMetrics(reg)

	metrics.ObservePass(TriggerPoll, 40*time.Millisecond)
	metrics.ObservePass(TriggerNotify, 5*time.Millisecond)
	metrics.AddMerged(3)
	metrics.SetDegraded(true)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "reconcile_passes_total", "trigger", TriggerPoll); err != nil {
		t.Fatalf("fetch poll passes: %v", err)
	} else if got != 1 {
		t.Fatalf("expected poll passes=1, got %f", got)
	}

	merged := findMetricFamily(mfs, "reconcile_merged_envelopes_total")
	if merged == nil {
		t.Fatal("merged counter not exported")
	}
	if got := merged.GetMetric()[0].GetCounter().GetValue(); got != 3 {
		t.Fatalf("expected merged=3, got %f", got)
	}

	degraded := findMetricFamily(mfs, "bus_degraded")
	if degraded == nil {
		t.Fatal("degraded gauge not exported")
	}
	if got := degraded.GetMetric()[0].GetGauge().GetValue(); got != 1 {
		t.Fatalf("expected degraded=1, got %f", got)
	}
}

func TestSyncMetricsUnknownTriggerNormalized(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewSyncMetrics(reg)
	metrics.ObservePass("whatever", time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "reconcile_passes_total", "trigger", "unknown"); err != nil {
		t.Fatalf("fetch normalized passes: %v", err)
	} else if got != 1 {
		t.Fatalf("expected unknown passes=1, got %f", got)
	}
}

func TestSyncMetricsNilReceiverSafe(t *testing.T) {
	var metrics *SyncMetrics
	metrics.ObservePass(TriggerStart, time.Second)
	metrics.AddMerged(1)
	metrics.SetDegraded(true)

	empty := NewSyncMetrics(nil)
	empty.ObservePass(TriggerStart, time.Second)
	empty.SetDegraded(false)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
