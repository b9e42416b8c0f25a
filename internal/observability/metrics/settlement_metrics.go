package metrics

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics captures batch job health signals.
type SettlementMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	itemsProcessed *prometheus.CounterVec
	paymentsTotal  *prometheus.CounterVec
}

var (
	settlementMetricsOnce sync.Once
	settlementMetrics     *SettlementMetrics
)

// Settlement returns the singleton settlement metrics registry.
func Settlement() *SettlementMetrics {
	return SettlementWithConfig(Config{})
}

// SettlementWithConfig returns the singleton settlement metrics registry using config labels.
func SettlementWithConfig(cfg Config) *SettlementMetrics {
	settlementMetricsOnce.Do(func() {
		settlementMetrics = newSettlementMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return settlementMetrics
}

// ResetSettlementMetricsForTest resets the settlement metrics singleton for tests.
func ResetSettlementMetricsForTest() {
	settlementMetricsOnce = sync.Once{}
	settlementMetrics = nil
}

func newSettlementMetrics(registerer prometheus.Registerer, cfg Config) *SettlementMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "meterwise"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &SettlementMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "meterwise_settlement_job_runs_total",
			Help:        "Settlement job runs by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "meterwise_settlement_job_errors_total",
			Help:        "Settlement job errors by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "meterwise_settlement_job_duration_seconds",
			Help:        "Settlement job wall-clock duration.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"job"}),
		itemsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "meterwise_settlement_items_processed_total",
			Help:        "Items processed per settlement job.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		paymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "meterwise_settlement_payments_total",
			Help:        "Statement payments by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
	}

	for _, collector := range []prometheus.Collector{
		m.jobRuns, m.jobErrors, m.jobDuration, m.itemsProcessed, m.paymentsTotal,
	} {
		if err := registerer.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				panic(err)
			}
		}
	}

	return m
}

func (m *SettlementMetrics) IncJobRun(job string) {
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SettlementMetrics) IncJobError(job string) {
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *SettlementMetrics) ObserveJobDuration(job string, d time.Duration) {
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *SettlementMetrics) AddItemsProcessed(job string, count int) {
	if count <= 0 {
		return
	}
	m.itemsProcessed.WithLabelValues(job).Add(float64(count))
}

func (m *SettlementMetrics) IncPayment(outcome string) {
	m.paymentsTotal.WithLabelValues(outcome).Inc()
}
