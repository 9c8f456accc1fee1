// Package metrics provides Prometheus metrics for the page scaler.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagescaler_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagescaler_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Directory cache metrics
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagescaler_dircache_lookups_total",
			Help: "Directory cache lookups by result",
		},
		[]string{"result"},
	)

	cacheDirectories = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagescaler_dircache_directories",
			Help: "Number of directories held in the cache",
		},
	)

	cacheFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagescaler_dircache_files",
			Help: "Number of file entries held in populated directories",
		},
	)

	populateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pagescaler_dircache_populate_duration_seconds",
			Help:    "Time to list and index one directory",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Job center metrics
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagescaler_jobs_total",
			Help: "Jobs by final state",
		},
		[]string{"state"},
	)

	jobsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagescaler_jobs_rejected_total",
			Help: "Jobs refused because the job center was full",
		},
	)

	jobsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagescaler_jobs_running",
			Help: "Jobs currently executing",
		},
	)

	jobsWaiting = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagescaler_jobs_waiting",
			Help: "Jobs queued but not yet started",
		},
	)

	jobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pagescaler_job_duration_seconds",
			Help:    "Job execution time in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Request outcome metrics
	scaleRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagescaler_scale_requests_total",
			Help: "Scale requests by outcome",
		},
		[]string{"outcome"},
	)

	resultCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagescaler_result_cache_total",
			Help: "Result cache lookups by result",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordCacheLookup records a directory cache hit or miss.
func RecordCacheLookup(hit bool) {
	cacheLookupsTotal.WithLabelValues(hitLabel(hit)).Inc()
}

// SetCacheSize sets the number of cached directories and file entries.
func SetCacheSize(dirs, files int64) {
	cacheDirectories.Set(float64(dirs))
	cacheFiles.Set(float64(files))
}

// RecordPopulate records how long one directory population took.
func RecordPopulate(duration time.Duration) {
	populateDuration.Observe(duration.Seconds())
}

// RecordJob records a finished job.
func RecordJob(state string, duration time.Duration) {
	jobsTotal.WithLabelValues(state).Inc()
	jobDuration.Observe(duration.Seconds())
}

// RecordJobRejected records a job refused with an overload.
func RecordJobRejected() {
	jobsRejected.Inc()
}

// SetJobCounts sets the running and waiting job gauges.
func SetJobCounts(running, waiting int) {
	jobsRunning.Set(float64(running))
	jobsWaiting.Set(float64(waiting))
}

// RecordScaleRequest records the outcome of one scale request.
func RecordScaleRequest(outcome string) {
	scaleRequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordResultCache records a result cache hit or miss.
func RecordResultCache(hit bool) {
	resultCacheTotal.WithLabelValues(hitLabel(hit)).Inc()
}

func hitLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}
