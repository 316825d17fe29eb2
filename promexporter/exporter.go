package promexporter

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter owns a registry holding the memdoc collector and the Go runtime
// collectors.
type Exporter struct {
	registry *prometheus.Registry
}

// NewExporter creates an exporter for source.
func NewExporter(source Source) *Exporter {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		NewCollector(source, nil),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Exporter{registry: registry}
}

// Registry returns the underlying registry, to register more collectors.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler returns an HTTP handler for the /metrics endpoint
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
