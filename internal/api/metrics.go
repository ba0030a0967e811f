package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quantfeed/market-gateway/api/types"
)

// capabilityRequests counts data-plane requests per capability and outcome.
// Echo-level latency and status metrics come from the echoprometheus
// middleware; this one adds the capability dimension the route path hides.
var capabilityRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "market_gateway",
	Name:      "capability_requests_total",
	Help:      "Data-plane requests by capability and outcome.",
}, []string{"capability", "outcome"})

func countRequest(capability types.Capability, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	capabilityRequests.WithLabelValues(string(capability), outcome).Inc()
}
