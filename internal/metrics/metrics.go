package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/runlater/core/internal/health"
)

var (
	// Execution pipeline

	ExecutionPickupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "runlater",
		Name:      "execution_pickup_latency_seconds",
		Help:      "Time from scheduled_for to a worker claiming the execution.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	ExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "runlater",
		Name:      "execution_duration_seconds",
		Help:      "Duration of an execution's outbound HTTP call.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"outcome"})

	ExecutionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "runlater",
		Name:      "executions_in_flight",
		Help:      "Number of executions currently being run across all workers on this node.",
	})

	ExecutionsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runlater",
		Name:      "executions_completed_total",
		Help:      "Total executions finished, by terminal status.",
	}, []string{"status"})

	// Scheduler

	ScheduledFiresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runlater",
		Name:      "scheduled_fires_total",
		Help:      "Total task fires the scheduler turned into executions, by outcome.",
	}, []string{"outcome"}) // pending, missed, skipped_over_quota

	SchedulerTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "runlater",
		Name:      "scheduler_tick_duration_seconds",
		Help:      "Time taken for one scheduler tick, including ticks that lose the leader lock.",
		Buckets:   prometheus.DefBuckets,
	})

	// Host blocker

	HostBlockEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runlater",
		Name:      "host_block_events_total",
		Help:      "Total times a (organization, host) pair tripped the circuit breaker, by reason.",
	}, []string{"reason"})

	// Cleanup

	CleanupPurgedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runlater",
		Name:      "cleanup_purged_total",
		Help:      "Total rows purged by the retention sweep, by kind.",
	}, []string{"kind"}) // executions, tasks, monitor_pings, idempotency_keys, email_logs, audit_logs

	CleanupRecoveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "runlater",
		Name:      "cleanup_recovered_total",
		Help:      "Total executions recovered from a stuck running state.",
	})

	// Monitor checker

	MonitorTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runlater",
		Name:      "monitor_transitions_total",
		Help:      "Total monitor status transitions, by direction.",
	}, []string{"direction"}) // down, recovered

	// Worker lifecycle

	WorkerStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "runlater",
		Name:      "worker_start_time_seconds",
		Help:      "Unix timestamp when this process started.",
	})

	WorkerPoolActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "runlater",
		Name:      "worker_pool_active",
		Help:      "Number of live worker loops on this node.",
	})

	// HTTP

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "runlater",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runlater",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		ExecutionPickupLatency,
		ExecutionDuration,
		ExecutionsInFlight,
		ExecutionsCompletedTotal,
		ScheduledFiresTotal,
		SchedulerTickDuration,
		HostBlockEventsTotal,
		CleanupPurgedTotal,
		CleanupRecoveredTotal,
		MonitorTransitionsTotal,
		WorkerStartTime,
		WorkerPoolActive,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// NewServer builds the process-internal metrics/health server: Prometheus
// scrape target plus liveness/readiness probes, all on one unexposed port.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		writeHealthResult(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		result := checker.Readiness(r.Context())
		writeHealthResult(w, result)
	})

	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealthResult(w http.ResponseWriter, result health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	if result.Status != "up" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(result)
}
