// Package metrics holds the Prometheus collectors shared by the server
// packages.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Commits = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "stagehand",
	Subsystem: "room",
	Name:      "commits",
}, []string{"room"})

var CommittedProps = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "stagehand",
	Subsystem: "room",
	Name:      "committed_props",
}, []string{"room", "change"})

var Members = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "stagehand",
	Subsystem: "room",
	Name:      "members",
}, []string{"room"})

var CommitDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "stagehand",
	Subsystem: "room",
	Name:      "commit_duration_seconds",
	Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
}, []string{"room"})

var Frames = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "stagehand",
	Subsystem: "fanout",
	Name:      "frames",
}, []string{"transport", "kind"})

var Dropped = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "stagehand",
	Subsystem: "fanout",
	Name:      "dropped",
}, []string{"transport"})

var Clients = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "stagehand",
	Subsystem: "fanout",
	Name:      "clients",
}, []string{"transport"})

var Journal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "stagehand",
	Subsystem: "repository",
	Name:      "writes",
}, []string{"table", "result"})

// Collectors lists every collector of this package
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		Commits,
		CommittedProps,
		Members,
		CommitDuration,
		Frames,
		Dropped,
		Clients,
		Journal,
	}
}

// NewRegistry returns a registry holding the package collectors plus the
// Go runtime and process collectors
func NewRegistry() (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	cs := append(Collectors(),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Handler serves reg in the Prometheus text format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
