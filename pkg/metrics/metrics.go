// Package metrics exposes the Prometheus instrumentation for the PVN
// control and data planes: active-PVN counts by status, provisioning
// latency, and the agent's flow install/uninstall activity. Grounded on
// the teacher's pkg/metrics/metrics.go (variable declarations registered
// in a single init(), a Handler() wrapping promhttp, and the domain-agnostic
// Timer helper, kept verbatim).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PVN lifecycle metrics
	PVNsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pvn_total",
			Help: "Total number of PVNs by status",
		},
		[]string{"status"},
	)

	PVNProvisioningDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pvn_provisioning_duration_seconds",
			Help:    "Time from initialize to ACTIVE for a PVN",
			Buckets: prometheus.DefBuckets,
		},
	)

	PVNProvisioningFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvn_provisioning_failures_total",
			Help: "Total number of PVNs that failed provisioning and were torn down, by stage",
		},
		[]string{"stage"},
	)

	PVNTeardownDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pvn_teardown_duration_seconds",
			Help:    "Time to tear down a PVN's resources",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Resource gauges, derived from a PVNModel snapshot
	PortsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pvn_ports_total",
			Help: "Total number of neutron-style ports held by non-deleted PVNs",
		},
	)

	ContainersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pvn_containers_total",
			Help: "Total number of app containers held by non-deleted PVNs",
		},
	)

	SteeringRulesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pvn_steering_rules_total",
			Help: "Total number of steering rules held by non-deleted PVNs",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvn_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pvn_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Steering store/bus metrics
	SteeringCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pvn_steering_create_duration_seconds",
			Help:    "Time taken to create a steering rule in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SteeringNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvn_steering_notifications_total",
			Help: "Total number of notifications published on the steering bus, by kind",
		},
		[]string{"kind"},
	)

	SteeringNotificationsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvn_steering_notifications_dropped_total",
			Help: "Total number of notifications dropped because a subscriber's channel was full",
		},
		[]string{"kind"},
	)

	// Agent flow metrics
	TrackedPortsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pvn_agent_tracked_ports_total",
			Help: "Total number of ports currently tracked by this host's agent",
		},
	)

	FlowInstallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvn_agent_flow_installs_total",
			Help: "Total number of OpenFlow flow installs attempted by the agent, by action and result",
		},
		[]string{"action", "result"},
	)

	FlowUninstallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvn_agent_flow_uninstalls_total",
			Help: "Total number of OpenFlow flow uninstalls attempted by the agent, by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(PVNsTotal)
	prometheus.MustRegister(PVNProvisioningDuration)
	prometheus.MustRegister(PVNProvisioningFailuresTotal)
	prometheus.MustRegister(PVNTeardownDuration)
	prometheus.MustRegister(PortsTotal)
	prometheus.MustRegister(ContainersTotal)
	prometheus.MustRegister(SteeringRulesTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(SteeringCreateDuration)
	prometheus.MustRegister(SteeringNotificationsTotal)
	prometheus.MustRegister(SteeringNotificationsDroppedTotal)
	prometheus.MustRegister(TrackedPortsTotal)
	prometheus.MustRegister(FlowInstallsTotal)
	prometheus.MustRegister(FlowUninstallsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
