package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TxRetries counts transactions re-run after an optimistic or serialization
// conflict, labelled by backend.
var TxRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "postage_ledger_tx_retries_total",
	Help: "Ledger transactions retried after a conflict",
}, []string{"backend"})
