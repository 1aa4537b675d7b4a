package connector

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts connector calls made through the adapter.
type Metrics struct {
	credentialFetches  prometheus.Counter
	credentialFailures prometheus.Counter
	uploads            prometheus.Counter
	uploadFailures     prometheus.Counter
	discarded          prometheus.Counter
}

// NewMetrics creates the connector counters and registers them with reg. A
// nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		credentialFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "localsync_credential_fetches_total",
			Help: "Credential fetches",
		}),
		credentialFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "localsync_credential_failures_total",
			Help: "Failed credential fetches",
		}),
		uploads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "localsync_uploads_total",
			Help: "Upload attempts",
		}),
		uploadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "localsync_upload_failures_total",
			Help: "Failed upload attempts",
		}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "localsync_discarded_transactions_total",
			Help: "Queued transactions rejected by the backend and dropped",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.credentialFetches, m.credentialFailures, m.uploads, m.uploadFailures, m.discarded)
	}

	return m
}
