package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics records reconciliation activity for one synchronizer.
type SyncMetrics struct {
	passes   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	merged   prometheus.Counter
	degraded prometheus.Gauge
}

// Trigger labels for reconciliation passes.
const (
	TriggerNotify = "notify"
	TriggerFocus  = "focus"
	TriggerPoll   = "poll"
	TriggerStart  = "start"
)

// NewSyncMetrics registers the synchronizer metrics on the provided registerer.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	passes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_passes_total",
		Help: "Reconciliation passes by wake-up trigger.",
	}, []string{"trigger"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reconcile_duration_seconds",
		Help:    "Duration of reconciliation passes in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"trigger"})
	merged := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconcile_merged_envelopes_total",
		Help: "Envelopes adopted from the persisted feed during reconciliation.",
	})
	degraded := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bus_degraded",
		Help: "1 when the persistence medium stopped accepting writes.",
	})
	reg.MustRegister(passes, duration, merged, degraded)
	return &SyncMetrics{
		passes:   passes,
		duration: duration,
		merged:   merged,
		degraded: degraded,
	}
}

// ObservePass records a reconciliation pass for the given trigger.
func (m *SyncMetrics) ObservePass(trigger string, duration time.Duration) {
	if m == nil || m.passes == nil {
		return
	}
	label := normalizeTrigger(trigger)
	m.passes.WithLabelValues(label).Inc()
	m.duration.WithLabelValues(label).Observe(duration.Seconds())
}

// AddMerged counts envelopes adopted from the persisted copy.
func (m *SyncMetrics) AddMerged(count int) {
	if m == nil || m.merged == nil || count <= 0 {
		return
	}
	m.merged.Add(float64(count))
}

// SetDegraded flips the degraded-mode gauge.
func (m *SyncMetrics) SetDegraded(degraded bool) {
	if m == nil || m.degraded == nil {
		return
	}
	if degraded {
		m.degraded.Set(1)
		return
	}
	m.degraded.Set(0)
}

func normalizeTrigger(trigger string) string {
	switch trigger {
	case TriggerNotify, TriggerFocus, TriggerPoll, TriggerStart:
		return trigger
	}
	return "unknown"
}
