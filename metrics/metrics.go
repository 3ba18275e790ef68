// Package metrics holds the Prometheus collectors of the update engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Metrics counts update runs and the artifacts they produced. A nil
// *Metrics records nothing.
type Metrics struct {
	UpdateRuns         *prometheus.CounterVec
	UpdateDuration     *prometheus.HistogramVec
	ZonesWritten       prometheus.Counter
	ZonesSigned        prometheus.Counter
	ConfigWrites       *prometheus.CounterVec
	RemoteSyncFailures prometheus.Counter
}

// New creates the collectors and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UpdateRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boxdns_update_runs_total",
				Help: "Number of DNS update runs by result",
			},
			[]string{"result"},
		),
		UpdateDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "boxdns_update_duration_seconds",
				Help:    "Duration of DNS update runs",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		ZonesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boxdns_zones_written_total",
			Help: "Number of zone files written",
		}),
		ZonesSigned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boxdns_zones_signed_total",
			Help: "Number of zones signed",
		}),
		ConfigWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boxdns_config_writes_total",
				Help: "Number of derived configuration files written",
			},
			[]string{"file"},
		),
		RemoteSyncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boxdns_remote_sync_failures_total",
			Help: "Number of failed remote record pushes",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.UpdateRuns, m.UpdateDuration, m.ZonesWritten, m.ZonesSigned, m.ConfigWrites, m.RemoteSyncFailures,
		} {
			if err := reg.Register(c); err != nil {
				logrus.WithFields(logrus.Fields{"error": err}).Warn("Failed to register metric")
			}
		}
	}
	return m
}

// RunFinished records an update run.
func (m *Metrics) RunFinished(result string, seconds float64) {
	if m == nil {
		return
	}
	m.UpdateRuns.WithLabelValues(result).Inc()
	m.UpdateDuration.WithLabelValues(result).Observe(seconds)
}

// ZoneWritten records a zone file write.
func (m *Metrics) ZoneWritten() {
	if m != nil {
		m.ZonesWritten.Inc()
	}
}

// ZoneSigned records a zone signing.
func (m *Metrics) ZoneSigned() {
	if m != nil {
		m.ZonesSigned.Inc()
	}
}

// ConfigWritten records a derived configuration write.
func (m *Metrics) ConfigWritten(file string) {
	if m != nil {
		m.ConfigWrites.WithLabelValues(file).Inc()
	}
}

// RemoteSyncFailed records a failed remote push.
func (m *Metrics) RemoteSyncFailed() {
	if m != nil {
		m.RemoteSyncFailures.Inc()
	}
}
