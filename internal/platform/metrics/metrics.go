package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	dErrors "postage/pkg/domain-errors"
)

// Metrics holds the service-level Prometheus collectors.
type Metrics struct {
	UsersRegistered   prometheus.Counter
	UsersUnregistered prometheus.Counter
	MessagesSent      prometheus.Counter
	FeesCollected     prometheus.Counter
	FeesWithdrawn     prometheus.Counter
	DepositsNet       prometheus.Counter
	OperationDuration *prometheus.HistogramVec
	OperationErrors   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		UsersRegistered: f.NewCounter(prometheus.CounterOpts{
			Name: "postage_users_registered_total",
			Help: "Profiles created",
		}),
		UsersUnregistered: f.NewCounter(prometheus.CounterOpts{
			Name: "postage_users_unregistered_total",
			Help: "Profiles closed",
		}),
		MessagesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "postage_messages_sent_total",
			Help: "Deposit-backed messages recorded",
		}),
		FeesCollected: f.NewCounter(prometheus.CounterOpts{
			Name: "postage_fees_collected_minor_units_total",
			Help: "Admin fees collected from deposits, in minor units",
		}),
		FeesWithdrawn: f.NewCounter(prometheus.CounterOpts{
			Name: "postage_fees_withdrawn_minor_units_total",
			Help: "Admin fees withdrawn, in minor units",
		}),
		DepositsNet: f.NewCounter(prometheus.CounterOpts{
			Name: "postage_deposits_net_minor_units_total",
			Help: "Net deposits moved into the vault, in minor units",
		}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "postage_operation_duration_seconds",
			Help:    "Service operation latency",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}, []string{"operation"}),
		OperationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "postage_operation_errors_total",
			Help: "Service operation failures by error code",
		}, []string{"operation", "code"}),
	}
}

// ObserveOperation records the latency and, on failure, the error code of one
// operation. A nil receiver is a no-op so services can run without metrics.
func (m *Metrics) ObserveOperation(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		m.OperationErrors.WithLabelValues(operation, string(dErrors.GetCode(err))).Inc()
	}
}

func (m *Metrics) IncrementUsersRegistered() {
	if m != nil {
		m.UsersRegistered.Inc()
	}
}

func (m *Metrics) IncrementUsersUnregistered() {
	if m != nil {
		m.UsersUnregistered.Inc()
	}
}

// RecordMessage counts one send and its split.
func (m *Metrics) RecordMessage(fee, net uint64) {
	if m == nil {
		return
	}
	m.MessagesSent.Inc()
	m.FeesCollected.Add(float64(fee))
	m.DepositsNet.Add(float64(net))
}

func (m *Metrics) RecordWithdrawal(amount uint64) {
	if m != nil {
		m.FeesWithdrawn.Add(float64(amount))
	}
}
