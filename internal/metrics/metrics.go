// Package metrics exposes Prometheus collectors for the crawl and upload passes.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cafeetl_fetch_total",
			Help: "Total number of outbound fetches, labeled by site, path and outcome.",
		},
		[]string{"site", "path", "outcome"},
	)

	fetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cafeetl_fetch_bytes_total",
			Help: "Total number of bytes fetched, labeled by path.",
		},
		[]string{"path"},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cafeetl_fetch_duration_seconds",
			Help:    "Histogram of fetch latencies, labeled by path.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"path"},
	)

	throttleWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cafeetl_throttle_wait_seconds",
			Help:    "Histogram of time spent waiting for the single request slot.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	targetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cafeetl_targets_total",
			Help: "Total number of crawl targets, labeled by shape and outcome.",
		},
		[]string{"shape", "outcome"},
	)

	uploadRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cafeetl_upload_rows_total",
			Help: "Total number of flat-file rows handled by the upload pass, labeled by table and outcome.",
		},
		[]string{"table", "outcome"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cafeetl_http_requests_total",
			Help: "Total number of status server requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cafeetl_http_request_duration_seconds",
			Help:    "Histogram of status server latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"method", "route"},
	)
)

// Target outcomes.
const (
	TargetDiscovered = "discovered"
	TargetDuplicate  = "duplicate"
	TargetWritten    = "written"
	TargetDropped    = "dropped"
)

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one outbound fetch of rawURL.
func ObserveFetch(rawURL, path, outcome string, duration time.Duration, bytesFetched int) {
	fetchTotal.WithLabelValues(SanitizeSite(rawURL), path, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(path).Observe(duration.Seconds())
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(path).Add(float64(bytesFetched))
	}
}

// ObserveThrottleWait records how long a request waited for its slot.
func ObserveThrottleWait(duration time.Duration) {
	throttleWaitSeconds.Observe(duration.Seconds())
}

// ObserveTarget increments the target counter for shape and outcome.
func ObserveTarget(shape, outcome string) {
	targetsTotal.WithLabelValues(shape, outcome).Inc()
}

// ObserveUploadRow increments the upload row counter.
func ObserveUploadRow(table, outcome string) {
	uploadRowsTotal.WithLabelValues(table, outcome).Inc()
}

// ObserveHTTPRequest increments the status server request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
