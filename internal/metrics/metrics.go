package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// OverpassRequests counts upstream geodata calls by endpoint and outcome
	OverpassRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "overpass_requests_total", Help: "Overpass API calls by endpoint and outcome."},
		[]string{"endpoint", "outcome"},
	)
	// OverpassRetries counts retry attempts across all endpoints
	OverpassRetries = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "overpass_retries_total", Help: "Overpass API retry attempts."},
	)
	// MalformedElements counts upstream elements skipped during parsing
	MalformedElements = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "overpass_malformed_elements_total", Help: "Upstream elements skipped as malformed."},
	)

	// POIsClassified counts candidates accepted per category
	POIsClassified = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pois_classified_total", Help: "Candidates accepted within the deviation threshold, by category."},
		[]string{"category"},
	)
	// DiscoveryRequests counts discovery streams by terminal outcome
	DiscoveryRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "discovery_requests_total", Help: "Discovery requests by terminal outcome."},
		[]string{"outcome"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(OverpassRequests)
		Registry.MustRegister(OverpassRetries)
		Registry.MustRegister(MalformedElements)
		Registry.MustRegister(POIsClassified)
		Registry.MustRegister(DiscoveryRequests)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
