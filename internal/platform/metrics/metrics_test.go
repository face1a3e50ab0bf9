package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveStage(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveStage("authorize", time.Now(), nil)
	m.ObserveStage("authorize", time.Now(), errors.New("denied"))

	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDuration))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StageFailures.WithLabelValues("authorize")))
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncrementIssuance("success")
	m.IncrementIssuance("success")
	m.IncrementConnects()
	m.IncrementRetries("persist")
	m.SetReady(true)
	m.IncrementVerifications("valid")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.IssuanceTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.IssuerConnects))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StageRetries.WithLabelValues("persist")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.IssuerReady))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Verifications.WithLabelValues("valid")))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveStage("sign", time.Now(), nil)
		m.IncrementIssuance("failure")
		m.IncrementConnects()
		m.IncrementRetries("persist")
		m.SetReady(false)
		m.IncrementVerifications("invalid")
	})
}
