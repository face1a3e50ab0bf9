package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the issuance pipeline metrics.
type Metrics struct {
	IssuanceTotal  *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	StageFailures  *prometheus.CounterVec
	IssuerConnects prometheus.Counter
	StageRetries   *prometheus.CounterVec
	IssuerReady    prometheus.Gauge
	Verifications  *prometheus.CounterVec
}

// New creates and registers the pipeline metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IssuanceTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kcc_issuance_total",
			Help: "Credential issuance attempts, labeled by outcome",
		}, []string{"outcome"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kcc_stage_duration_seconds",
			Help:    "Duration of each issuance pipeline stage",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"stage"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kcc_stage_failures_total",
			Help: "Issuance pipeline stage failures, labeled by stage",
		}, []string{"stage"}),
		IssuerConnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "kcc_issuer_connects_total",
			Help: "Calls made to the issuer identity provider",
		}),
		StageRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kcc_stage_retries_total",
			Help: "Retried attempts of retryable stages",
		}, []string{"stage"}),
		IssuerReady: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kcc_issuer_ready",
			Help: "1 once the issuer identity is established",
		}),
		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kcc_credential_verifications_total",
			Help: "Credential verification requests, labeled by result",
		}, []string{"result"}),
	}
}

// ObserveStage records a stage's duration and, when err is non-nil, its failure.
func (m *Metrics) ObserveStage(stage string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	if err != nil {
		m.StageFailures.WithLabelValues(stage).Inc()
	}
}

// IncrementIssuance counts a finished issuance by outcome.
func (m *Metrics) IncrementIssuance(outcome string) {
	if m == nil {
		return
	}
	m.IssuanceTotal.WithLabelValues(outcome).Inc()
}

// IncrementConnects counts a call to the identity provider.
func (m *Metrics) IncrementConnects() {
	if m == nil {
		return
	}
	m.IssuerConnects.Inc()
}

// IncrementRetries counts one retried attempt of stage.
func (m *Metrics) IncrementRetries(stage string) {
	if m == nil {
		return
	}
	m.StageRetries.WithLabelValues(stage).Inc()
}

// SetReady flips the readiness gauge.
func (m *Metrics) SetReady(ready bool) {
	if m == nil {
		return
	}
	if ready {
		m.IssuerReady.Set(1)
		return
	}
	m.IssuerReady.Set(0)
}

// IncrementVerifications counts a verification by result ("valid" or "invalid").
func (m *Metrics) IncrementVerifications(result string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(result).Inc()
}
