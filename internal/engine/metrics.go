package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

var stateNames = []string{"IDLE", "RUNNING", "PAUSED", "COMPLETED", "FAILED"}

// Metrics are the engine's prometheus instruments
type Metrics struct {
	state          *prometheus.GaugeVec
	samplesTotal   *prometheus.CounterVec
	samplesDropped prometheus.Counter
	testsTotal     *prometheus.CounterVec
	tickDuration   prometheus.Histogram
	alertsTotal    *prometheus.CounterVec
	currentPower   prometheus.Gauge
}

// NewMetrics creates the instruments and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ftptest_state",
			Help: "1 for the engine's current state, 0 for the others.",
		}, []string{"state"}),
		samplesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ftptest_samples_total",
			Help: "Telemetry samples accepted while a test was running, by metric.",
		}, []string{"metric"}),
		samplesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ftptest_samples_dropped_total",
			Help: "Power samples dropped because the sample buffer was full.",
		}),
		testsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ftptest_tests_total",
			Help: "Finished tests by outcome (COMPLETED or a failure reason).",
		}, []string{"outcome"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ftptest_tick_duration_seconds",
			Help:    "Time spent in one periodic re-evaluation.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ftptest_alerts_total",
			Help: "Alerts emitted by id.",
		}, []string{"id"}),
		currentPower: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ftptest_current_power_watts",
			Help: "Most recent power reading.",
		}),
	}

	reg.MustRegister(
		m.state,
		m.samplesTotal,
		m.samplesDropped,
		m.testsTotal,
		m.tickDuration,
		m.alertsTotal,
		m.currentPower,
	)

	m.setState("IDLE")
	return m
}

func (m *Metrics) setState(name string) {
	for _, s := range stateNames {
		if s == name {
			m.state.WithLabelValues(s).Set(1)
		} else {
			m.state.WithLabelValues(s).Set(0)
		}
	}
}
