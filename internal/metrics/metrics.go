// Package metrics exposes Prometheus collectors for the HTTP API and the
// batch jobs.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"budget/internal/batch"
)

const namespace = "budget"

// Metrics holds every collector of the process.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	stepItems   *prometheus.CounterVec
	jobsRunning *prometheus.GaugeVec
	deadLetters prometheus.Counter
	syncedItems *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		jobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "job_runs_total",
			Help:      "Finished batch job runs by job and status.",
		}, []string{"job", "status"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "job_duration_seconds",
			Help:      "Batch job wall time.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"job"}),
		stepItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "step_items_total",
			Help:      "Items handled by batch steps, by outcome (read, write, filter, skip).",
		}, []string{"job", "step", "outcome"}),
		jobsRunning: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "jobs_running",
			Help:      "Batch jobs currently running.",
		}, []string{"job"}),
		deadLetters: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "dead_letters_total",
			Help:      "Items written to the dead-letter table.",
		}),
		syncedItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transaction",
			Name:      "synced_total",
			Help:      "Card transactions seen during sync, by outcome (inserted, duplicate).",
		}, []string{"outcome"}),
	}
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveHTTP records a finished request. Routes are labeled by their chi
// pattern so path parameters do not explode cardinality.
func (m *Metrics) ObserveHTTP(r *http.Request, status int, elapsed time.Duration) {
	route := "unmatched"
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			route = p
		}
	}
	m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, r.Method).Observe(elapsed.Seconds())
}

// DeadLettered counts one dead-lettered item.
func (m *Metrics) DeadLettered() { m.deadLetters.Inc() }

// Synced counts sync outcomes.
func (m *Metrics) Synced(inserted, duplicates int) {
	m.syncedItems.WithLabelValues("inserted").Add(float64(inserted))
	m.syncedItems.WithLabelValues("duplicate").Add(float64(duplicates))
}

func (m *Metrics) BeforeJob(_ context.Context, exec *batch.JobExecution) {
	m.jobsRunning.WithLabelValues(exec.JobName).Inc()
}

func (m *Metrics) AfterJob(_ context.Context, exec *batch.JobExecution) {
	m.jobsRunning.WithLabelValues(exec.JobName).Dec()
	m.jobRuns.WithLabelValues(exec.JobName, string(exec.Status)).Inc()
	m.jobDuration.WithLabelValues(exec.JobName).Observe(exec.EndTime.Sub(exec.StartTime).Seconds())
}

func (m *Metrics) BeforeStep(context.Context, *batch.JobExecution, *batch.StepExecution) {}

func (m *Metrics) AfterStep(_ context.Context, job *batch.JobExecution, exec *batch.StepExecution) {
	for outcome, n := range map[string]int{
		"read":   exec.ReadCount,
		"write":  exec.WriteCount,
		"filter": exec.FilterCount,
		"skip":   exec.SkipCount,
	} {
		m.stepItems.WithLabelValues(job.JobName, exec.StepName, outcome).Add(float64(n))
	}
}

var (
	_ batch.JobListener  = (*Metrics)(nil)
	_ batch.StepListener = (*Metrics)(nil)
)
