package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors are package globals registered through promauto on the default
// registry, which is what the /metrics endpoint serves.

var (
	// HTTP requests, labeled by method, route pattern and status code.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wayfinder_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wayfinder_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	// Route computations by outcome: found, unreachable, error.
	RoutesComputed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wayfinder_routes_computed_total",
			Help: "Shortest path computations by outcome",
		},
		[]string{"outcome"},
	)

	Reroutes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wayfinder_reroutes_total",
			Help: "Anchor-driven path recomputations",
		},
	)

	// Anchor scans by result: known, unknown.
	AnchorScans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wayfinder_anchor_scans_total",
			Help: "QR anchor scans processed by navigation sessions",
		},
		[]string{"result"},
	)

	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wayfinder_session_transitions_total",
			Help: "Navigation session state transitions",
		},
		[]string{"from", "to"},
	)

	PositionUnavailable = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wayfinder_position_unavailable_total",
			Help: "Failed attempts to acquire a position while routing",
		},
	)

	DwellMinutes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wayfinder_engagement_dwell_minutes",
			Help:    "Dwell time of finished engagement sessions",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)

	// Scan log events by result: emitted, duplicate, failed.
	ScanEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wayfinder_scan_events_total",
			Help: "Anonymous scan log events",
		},
		[]string{"result"},
	)

	ManifestsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wayfinder_manifests_published_total",
			Help: "Manifests published per venue",
		},
		[]string{"venue_id"},
	)

	// Size of the editor working graph.
	GraphNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wayfinder_graph_nodes",
			Help: "Number of nodes in the editor working graph",
		},
	)
)
