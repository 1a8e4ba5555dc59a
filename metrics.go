package ddns

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "ddns"

var cycleCount = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Name:      "cycles_total",
	Help:      "Counter of completed update cycles.",
})

var lastCycleTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: metricsNamespace,
	Name:      "last_cycle_timestamp_seconds",
	Help:      "Unix time at which the last update cycle finished.",
})

var resolverFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Name:      "resolver_failures_total",
	Help:      "Counter of resolver calls that failed or named an unknown resolver.",
}, []string{"resolver"})

var unresolvedFamilies = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Name:      "unresolved_families_total",
	Help:      "Counter of needed address families left without an answer after a resolution.",
}, []string{"family"})

var dispatchCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Name:      "dispatch_total",
	Help:      "Counter of record updates handed to providers, by outcome.",
}, []string{"provider", "result"})
