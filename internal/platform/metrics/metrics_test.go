package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	dErrors "postage/pkg/domain-errors"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordMessage(100_000, 900_000)
	m.RecordMessage(100_000, 900_000)
	m.RecordWithdrawal(50_000)
	m.ObserveOperation("send_message", time.Now(), dErrors.New(dErrors.CodeTransferFailed, "x"))
	m.ObserveOperation("send_message", time.Now(), errors.New("plain"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesSent))
	assert.Equal(t, 200_000.0, testutil.ToFloat64(m.FeesCollected))
	assert.Equal(t, 1_800_000.0, testutil.ToFloat64(m.DepositsNet))
	assert.Equal(t, 50_000.0, testutil.ToFloat64(m.FeesWithdrawn))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationErrors.WithLabelValues("send_message", "transfer_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationErrors.WithLabelValues("send_message", "internal_error")))
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordMessage(1, 2)
		m.RecordWithdrawal(1)
		m.IncrementUsersRegistered()
		m.ObserveOperation("op", time.Now(), nil)
	})
}
