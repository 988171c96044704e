package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cored_containers_total",
			Help: "Total number of containers by state",
		},
		[]string{"state"},
	)

	PipelineStepFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cored_pipeline_step_failures_total",
			Help: "Total number of pipeline step failures by pipeline and step",
		},
		[]string{"pipeline", "step"},
	)

	ExitMonitorRegistrationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cored_exit_monitor_registrations_total",
			Help: "Total number of exit-fifo registrations with the exit monitor",
		},
	)

	ExitMonitorFallbackTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cored_exit_monitor_fallback_timeouts_total",
			Help: "Total number of times the 3s wait_exit_fifo fallback fired",
		},
	)

	ContainerCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cored_container_create_duration_seconds",
			Help:    "Time taken by runtime_create in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainerStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cored_container_start_duration_seconds",
			Help:    "Time taken by the full start pipeline in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainerStopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cored_container_stop_duration_seconds",
			Help:    "Time taken by the full stop pipeline in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainerDeleteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cored_container_delete_duration_seconds",
			Help:    "Time taken by the full delete pipeline in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ExecDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cored_exec_duration_seconds",
			Help:    "Time taken by the exec pipeline in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainersKilledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cored_containers_killed_total",
			Help: "Total number of kill signals sent, by signal name",
		},
		[]string{"signal"},
	)

	ContainersRestartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cored_containers_restarted_total",
			Help: "Total number of restart-policy-triggered restarts",
		},
	)

	HealthCheckResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cored_health_check_results_total",
			Help: "Total number of health check results by check type and outcome",
		},
		[]string{"type", "healthy"},
	)
)

func init() {
	prometheus.MustRegister(ContainersTotal)
	prometheus.MustRegister(PipelineStepFailuresTotal)
	prometheus.MustRegister(ExitMonitorRegistrationsTotal)
	prometheus.MustRegister(ExitMonitorFallbackTimeoutsTotal)
	prometheus.MustRegister(ContainerCreateDuration)
	prometheus.MustRegister(ContainerStartDuration)
	prometheus.MustRegister(ContainerStopDuration)
	prometheus.MustRegister(ContainerDeleteDuration)
	prometheus.MustRegister(ExecDuration)
	prometheus.MustRegister(ContainersKilledTotal)
	prometheus.MustRegister(ContainersRestartedTotal)
	prometheus.MustRegister(HealthCheckResultsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing pipeline operations.
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

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
