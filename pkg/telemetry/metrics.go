package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Agent worker ────────────────────────────────────────────────────────────

	AgentTasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentq",
		Subsystem: "agent",
		Name:      "tasks_processed_total",
		Help:      "Total tasks processed, labelled by agent_type and terminal status.",
	}, []string{"agent_type", "status"})

	AgentTasksInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "agentq",
		Subsystem: "agent",
		Name:      "tasks_inflight",
		Help:      "Tasks currently inside the handler.",
	}, []string{"agent_type"})

	AgentTaskDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentq",
		Subsystem: "agent",
		Name:      "task_duration_seconds",
		Help:      "Handler execution time in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
	}, []string{"agent_type"})

	AgentPollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentq",
		Subsystem: "agent",
		Name:      "polls_total",
		Help:      "Blocking dequeue cycles, labelled by outcome (task | empty).",
	}, []string{"agent_type", "outcome"})

	AgentPollErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentq",
		Subsystem: "agent",
		Name:      "poll_errors_total",
		Help:      "Loop iterations aborted by a broker error.",
	}, []string{"agent_type"})

	AgentMalformedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentq",
		Subsystem: "agent",
		Name:      "malformed_entries_total",
		Help:      "Queue entries that could not be decoded.",
	}, []string{"agent_type"})

	AgentLastSeenTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "agentq",
		Subsystem: "agent",
		Name:      "last_seen_timestamp_seconds",
		Help:      "Unix time of the last successful heartbeat.",
	}, []string{"agent_type"})

	AgentNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentq",
		Subsystem: "agent",
		Name:      "notifications_received_total",
		Help:      "Task-enqueued notifications received.",
	}, []string{"agent_type"})

	AgentSinkErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentq",
		Subsystem: "agent",
		Name:      "sink_errors_total",
		Help:      "Failed deliveries to secondary result sinks.",
	}, []string{"sink"})
)
