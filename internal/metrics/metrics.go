// Package metrics provides Prometheus metrics for the ClientPix server.
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
			Name: "clientpix_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clientpix_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Ingestion metrics
	ingestBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clientpix_ingest_bytes_total",
			Help: "Total bytes ingested into the content store",
		},
	)

	ingestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clientpix_ingests_total",
			Help: "Total ingestions by kind and outcome",
		},
		[]string{"kind", "status"},
	)

	ingestDuplicatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clientpix_ingest_duplicates_total",
			Help: "Total image ingestions deduplicated by content hash",
		},
	)

	ingestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clientpix_ingest_duration_seconds",
			Help:    "Ingestion duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	variantDerivationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clientpix_variant_derivations_total",
			Help: "Total thumbnail/web variant derivations",
		},
		[]string{"status"},
	)

	// Serving metrics
	filesServedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clientpix_files_served_total",
			Help: "Total files served by variant",
		},
		[]string{"variant"},
	)

	fileBytesServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clientpix_file_bytes_served_total",
			Help: "Total bytes served from the content store",
		},
	)

	// Cleanup metrics
	sweepFilesReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clientpix_sweep_files_reclaimed_total",
			Help: "Total files and directories reclaimed by the sweeper",
		},
	)

	sweepBytesReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clientpix_sweep_bytes_reclaimed_total",
			Help: "Total bytes reclaimed by the sweeper",
		},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clientpix_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	rateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clientpix_rate_limit_hits_total",
			Help: "Total requests rejected by the auth rate limiter",
		},
	)

	// Catalog metrics
	referenceCountGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clientpix_tracked_file_hashes",
			Help: "Number of reference-counted file hash records",
		},
	)

	shareLinksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clientpix_share_links_active",
			Help: "Number of active share links",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordIngest records one completed or failed ingestion.
func RecordIngest(kind string, bytes int64, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	ingestsTotal.WithLabelValues(kind, status).Inc()
	if success {
		ingestBytesTotal.Add(float64(bytes))
		ingestDuration.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// RecordDuplicate records a deduplicated image ingestion.
func RecordDuplicate() {
	ingestDuplicatesTotal.Inc()
}

// RecordVariantDerivation records a variant derivation outcome.
func RecordVariantDerivation(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	variantDerivationsTotal.WithLabelValues(status).Inc()
}

// RecordFileServed records one file served from the content store.
func RecordFileServed(variant string, bytes int64) {
	filesServedTotal.WithLabelValues(variant).Inc()
	fileBytesServed.Add(float64(bytes))
}

// RecordSweep records what a cleanup sweep reclaimed.
func RecordSweep(count int, bytes int64) {
	sweepFilesReclaimed.Add(float64(count))
	sweepBytesReclaimed.Add(float64(bytes))
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordRateLimitHit records a request rejected by the rate limiter.
func RecordRateLimitHit() {
	rateLimitHitsTotal.Inc()
}

// SetTrackedFileHashes sets the current file hash record count.
func SetTrackedFileHashes(count int64) {
	referenceCountGauge.Set(float64(count))
}

// SetShareLinksActive sets the number of active share links.
func SetShareLinksActive(count int64) {
	shareLinksActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
