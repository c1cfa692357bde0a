package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		buildInfo,
		turnsTotal,
		messagesStored,
		storeErrors,
		maintenanceRuns,
		backendLatency,
		humorDecisions,
		activeChats,
	)
}

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kioku_build_info",
			Help: "A constant metric with labels for version and commit hash.",
		},
		[]string{"version", "commit"},
	)

	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioku_turns_total",
			Help: "Inbound messages handled, by outcome.",
		},
		[]string{"outcome"}, // replied, rejected, no_reply, error
	)

	messagesStored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioku_messages_stored_total",
			Help: "Messages written to the store, by role.",
		},
		[]string{"role"},
	)

	storeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioku_store_errors_total",
			Help: "Failed store operations, by operation.",
		},
		[]string{"op"},
	)

	maintenanceRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioku_maintenance_runs_total",
			Help: "Maintenance steps executed, by step and result.",
		},
		[]string{"step", "result"},
	)

	backendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kioku_backend_latency_seconds",
			Help:    "Generation backend call latency.",
			Buckets: []float64{.1, .25, .5, 1, 2, 4, 8, 15, 30, 60},
		},
		[]string{"backend", "success"},
	)

	humorDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioku_humor_decisions_total",
			Help: "Humor gate decisions, by mode and result.",
		},
		[]string{"mode", "result"},
	)

	activeChats = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kioku_active_chats",
			Help: "Chats with session state in this process.",
		},
	)
)

// SetBuildInfo publishes the running version.
func SetBuildInfo(version, commit string) {
	buildInfo.WithLabelValues(norm(version), norm(commit)).Set(1)
}

// TurnHandled counts one inbound message by outcome.
func TurnHandled(outcome string) {
	turnsTotal.WithLabelValues(norm(outcome)).Inc()
}

// MessageStored counts one persisted message.
func MessageStored(role string) {
	messagesStored.WithLabelValues(norm(role)).Inc()
}

// StoreError counts one failed store operation.
func StoreError(op string) {
	storeErrors.WithLabelValues(norm(op)).Inc()
}

// MaintenanceRun counts one executed maintenance step.
func MaintenanceRun(step string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	maintenanceRuns.WithLabelValues(norm(step), result).Inc()
}

// ObserveBackendCall records the latency of one generation call.
func ObserveBackendCall(backend string, d time.Duration, success bool) {
	backendLatency.WithLabelValues(norm(backend), strconv.FormatBool(success)).
		Observe(d.Seconds())
}

// HumorDecision counts one gate decision.
func HumorDecision(mode string, fired bool) {
	result := "skip"
	if fired {
		result = "fire"
	}
	humorDecisions.WithLabelValues(norm(mode), result).Inc()
}

// SetActiveChats publishes the session registry size.
func SetActiveChats(n int) {
	activeChats.Set(float64(n))
}
