package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	labels := map[string]string{"network": "base-sepolia"}
	r.IncCounter(EventBatchSubmitted, labels)
	r.IncCounter(EventBatchSubmitted, labels)
	r.ObserveLatency(OpSubmit, 150*time.Millisecond, labels)

	p := r.(*PrometheusRecorder)
	assert.Equal(t, 2.0, testutil.ToFloat64(p.counters.WithLabelValues(EventBatchSubmitted, "base-sepolia")))
	assert.Equal(t, 1, testutil.CollectAndCount(p.histogram))

	r.IncCounter(EventCapabilityError, nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.counters.WithLabelValues(EventCapabilityError, "unknown")))

	_, err = NewPrometheusRecorder(reg)
	assert.Error(t, err, "registering twice must fail")
}

func TestOrNoop(t *testing.T) {
	assert.IsType(t, NoopRecorder{}, OrNoop(nil))
}
