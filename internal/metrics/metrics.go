// Package metrics defines the Prometheus instruments of the cron service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ojs_cron"

var (
	ServerInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "server_info",
		Help:      "Build information of the running cron service.",
	}, []string{"version", "backend"})

	JobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jobs_active",
		Help:      "Number of jobs with a live timer.",
	})

	FiresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fires_total",
		Help:      "Number of job firings.",
	}, []string{"job"})

	ActionFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "action_failures_total",
		Help:      "Number of failed job actions by kind.",
	}, []string{"action"})

	IndexUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "index_updates_total",
		Help:      "Number of job index deliveries reconciled.",
	})

	ResubscriptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resubscriptions_total",
		Help:      "Number of index resubscriptions after the index record was deleted.",
	})

	InvalidDefinitionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "invalid_definitions_total",
		Help:      "Number of rejected job definitions.",
	})
)

// Init sets the server info metric.
func Init(version, backend string) {
	ServerInfo.WithLabelValues(version, backend).Set(1)
}
