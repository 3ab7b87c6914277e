package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WebhookDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "draftr_webhook_deliveries_total",
		Help: "Inbound webhook deliveries by provider and outcome status code.",
	}, []string{"provider", "status"})

	WorkflowRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "draftr_workflow_runs_total",
		Help: "Workflow runs reaching a terminal or retry state.",
	}, []string{"workflow", "status"})

	registry = prometheus.NewRegistry()
)

func init() {
	registry.MustRegister(WebhookDeliveries, WorkflowRuns)
}

// Handler serves the draftr registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
