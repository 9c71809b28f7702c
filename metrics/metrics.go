// Package metrics exposes the results of a run as Prometheus metrics, written
// to a textfile for node_exporter's textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/perfgo/runtests/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "run_tests"

// Metrics holds the collectors of one run. Each instance has its own registry.
type Metrics struct {
	registry *prometheus.Registry

	testsTotal   *prometheus.CounterVec
	testDuration *prometheus.GaugeVec
	testExitCode *prometheus.GaugeVec
	runDuration  prometheus.Gauge
	runExitCode  prometheus.Gauge
	runTimestamp prometheus.Gauge
}

func New(target model.Target) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{
		"target": target.Kind.String(),
		"device": target.Identifier,
	}

	return &Metrics{
		registry: reg,
		testsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "tests_total",
			Help:        "Number of tests by outcome",
			ConstLabels: labels,
		}, []string{"outcome"}),
		testDuration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "test_duration_seconds",
			Help:        "Duration of each test",
			ConstLabels: labels,
		}, []string{"test", "outcome"}),
		testExitCode: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "test_exit_code",
			Help:        "Exit code of each failed test, 0 when unknown",
			ConstLabels: labels,
		}, []string{"test"}),
		runDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "run_duration_seconds",
			Help:        "Duration of the whole run",
			ConstLabels: labels,
		}),
		runExitCode: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "run_exit_code",
			Help:        "Exit code of the run",
			ConstLabels: labels,
		}),
		runTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "run_last_completed_timestamp_seconds",
			Help:        "Time the last run completed",
			ConstLabels: labels,
		}),
	}
}

// Registry returns the registry holding all collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordVerdict records the result of one test.
func (m *Metrics) RecordVerdict(v model.Verdict) {
	outcome := v.Outcome.String()
	m.testsTotal.WithLabelValues(outcome).Inc()
	m.testDuration.WithLabelValues(v.Test, outcome).Set(v.Duration.Seconds())
	if v.Failed() {
		m.testExitCode.WithLabelValues(v.Test).Set(float64(v.ExitCode))
	}
}

// RecordRun records the result of the whole run.
func (m *Metrics) RecordRun(exitCode int, duration time.Duration, completed time.Time) {
	m.runExitCode.Set(float64(exitCode))
	m.runDuration.Set(duration.Seconds())
	m.runTimestamp.Set(float64(completed.Unix()))
}

// WriteTextfile writes all metrics to path in the text exposition format.
// The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
