package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Gateway call outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeTimeout      = "timeout"
	OutcomeInvalidToken = "invalid_token"
	OutcomeError        = "error"
)

// Reconciler results per integration.
const (
	ReconcileUnchanged = "unchanged"
	ReconcileUpdated   = "updated"
	ReconcileFailed    = "failed"
)

// ConnectionMetrics captures gateway and connection lifecycle signals.
type ConnectionMetrics struct {
	gatewayRequests   *prometheus.CounterVec
	gatewayDuration   *prometheus.HistogramVec
	statusTransitions *prometheus.CounterVec
	pairingDenied     *prometheus.CounterVec
	reconcileRuns     *prometheus.CounterVec
	reconciled        *prometheus.CounterVec
	reconcileDuration prometheus.Observer
}

var (
	connectionMetricsOnce sync.Once
	connectionMetrics     *ConnectionMetrics
)

// Connection returns the process-wide connection metrics registry.
func Connection() *ConnectionMetrics {
	return ConnectionWithConfig(Config{})
}

// ConnectionWithConfig returns the process-wide registry using config labels.
func ConnectionWithConfig(cfg Config) *ConnectionMetrics {
	connectionMetricsOnce.Do(func() {
		connectionMetrics = NewConnectionMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return connectionMetrics
}

// NewConnectionMetrics registers a fresh set of collectors on registerer.
func NewConnectionMetrics(registerer prometheus.Registerer, cfg Config) *ConnectionMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "mordomozap"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &ConnectionMetrics{
		gatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "mordomozap_gateway_requests_total",
			Help:        "Messaging gateway calls by operation and outcome.",
			ConstLabels: constLabels,
		}, []string{"operation", "outcome"}),
		gatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "mordomozap_gateway_request_duration_seconds",
			Help:        "Messaging gateway call latency.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
			ConstLabels: constLabels,
		}, []string{"operation"}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "mordomozap_integration_status_transitions_total",
			Help:        "Persisted integration status changes.",
			ConstLabels: constLabels,
		}, []string{"from", "to"}),
		pairingDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "mordomozap_pairing_denied_total",
			Help:        "Pairing attempts rejected before reaching the gateway.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		reconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "mordomozap_reconciler_runs_total",
			Help:        "Reconciler sweeps by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "mordomozap_reconciler_integrations_total",
			Help:        "Integrations checked by the reconciler, by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
	}
	sweep := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "mordomozap_reconciler_sweep_duration_seconds",
		Help:        "Wall time of one reconciler sweep.",
		Buckets:     prometheus.ExponentialBuckets(0.05, 2, 12),
		ConstLabels: constLabels,
	})
	m.reconcileDuration = sweep

	registerer.MustRegister(
		m.gatewayRequests,
		m.gatewayDuration,
		m.statusTransitions,
		m.pairingDenied,
		m.reconcileRuns,
		m.reconciled,
		sweep,
	)
	return m
}

func (m *ConnectionMetrics) ObserveGatewayRequest(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	operation = labelOrUnknown(operation)
	m.gatewayRequests.WithLabelValues(operation, labelOrUnknown(outcome)).Inc()
	m.gatewayDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *ConnectionMetrics) RecordStatusTransition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.statusTransitions.WithLabelValues(labelOrUnknown(from), labelOrUnknown(to)).Inc()
}

func (m *ConnectionMetrics) RecordPairingDenied(reason string) {
	if m == nil {
		return
	}
	m.pairingDenied.WithLabelValues(labelOrUnknown(reason)).Inc()
}

func (m *ConnectionMetrics) RecordReconcileRun(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.reconcileRuns.WithLabelValues(labelOrUnknown(outcome)).Inc()
	m.reconcileDuration.Observe(elapsed.Seconds())
}

func (m *ConnectionMetrics) AddReconciled(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reconciled.WithLabelValues(labelOrUnknown(result)).Add(float64(n))
}

func labelOrUnknown(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
