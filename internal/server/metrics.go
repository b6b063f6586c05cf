package server

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects Prometheus-compatible metrics.
type Metrics struct {
	totalRequests  sync.Map // "method:status" -> *atomic.Int64
	saoriResponses sync.Map // SAORI status code -> *atomic.Int64
	activeRequests atomic.Int32
	totalBytes     atomic.Int64

	durationBuckets []float64
	durationCounts  []atomic.Int64
	durationSum     atomic.Int64
	durationCount   atomic.Int64

	pool Pool
}

// NewMetrics creates a new metrics collector. p may be nil.
func NewMetrics(p Pool) *Metrics {
	buckets := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}
	return &Metrics{
		pool:            p,
		durationBuckets: buckets,
		durationCounts:  make([]atomic.Int64, len(buckets)),
	}
}

// Middleware returns a middleware that collects metrics and serves the metrics endpoint.
func (m *Metrics) Middleware(metricsPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == metricsPath {
				m.serveMetrics(w)
				return
			}

			start := time.Now()
			m.activeRequests.Add(1)
			defer m.activeRequests.Add(-1)

			rw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			m.observe(r.Method, rw.statusCode, rw.Header().Get(HeaderSaoriStatus), rw.bytesWritten, time.Since(start))
		})
	}
}

func (m *Metrics) observe(method string, status int, saoriStatus string, bytes int, duration time.Duration) {
	counter(&m.totalRequests, fmt.Sprintf("%s:%d", method, status)).Add(1)
	if saoriStatus != "" {
		counter(&m.saoriResponses, saoriStatus).Add(1)
	}

	m.totalBytes.Add(int64(bytes))
	m.durationSum.Add(int64(duration))
	m.durationCount.Add(1)
	sec := duration.Seconds()
	for i, bucket := range m.durationBuckets {
		if sec <= bucket {
			m.durationCounts[i].Add(1)
			break
		}
	}
}

func counter(m *sync.Map, key string) *atomic.Int64 {
	c, _ := m.LoadOrStore(key, &atomic.Int64{})
	return c.(*atomic.Int64)
}

// sortedCounters returns the keys and values of m in key order so the
// exposition is stable between scrapes.
func sortedCounters(m *sync.Map) ([]string, map[string]int64) {
	values := make(map[string]int64)
	m.Range(func(k, v any) bool {
		values[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, values
}

func (m *Metrics) serveMetrics(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	var b strings.Builder

	b.WriteString("# HELP saori_http_requests_total Total number of HTTP requests.\n")
	b.WriteString("# TYPE saori_http_requests_total counter\n")
	keys, values := sortedCounters(&m.totalRequests)
	for _, key := range keys {
		method, status, _ := strings.Cut(key, ":")
		fmt.Fprintf(&b, "saori_http_requests_total{method=%q,status=%q} %d\n", method, status, values[key])
	}

	b.WriteString("# HELP saori_responses_total SAORI responses by status code.\n")
	b.WriteString("# TYPE saori_responses_total counter\n")
	keys, values = sortedCounters(&m.saoriResponses)
	for _, key := range keys {
		fmt.Fprintf(&b, "saori_responses_total{status=%q} %d\n", key, values[key])
	}

	b.WriteString("# HELP saori_http_requests_active Current number of active HTTP requests.\n")
	b.WriteString("# TYPE saori_http_requests_active gauge\n")
	fmt.Fprintf(&b, "saori_http_requests_active %d\n", m.activeRequests.Load())

	b.WriteString("# HELP saori_http_response_bytes_total Total bytes sent in HTTP responses.\n")
	b.WriteString("# TYPE saori_http_response_bytes_total counter\n")
	fmt.Fprintf(&b, "saori_http_response_bytes_total %d\n", m.totalBytes.Load())

	b.WriteString("# HELP saori_http_request_duration_seconds HTTP request duration in seconds.\n")
	b.WriteString("# TYPE saori_http_request_duration_seconds histogram\n")
	var cumulative int64
	totalCount := m.durationCount.Load()
	for i, bucket := range m.durationBuckets {
		cumulative += m.durationCounts[i].Load()
		fmt.Fprintf(&b, "saori_http_request_duration_seconds_bucket{le=\"%g\"} %d\n", bucket, cumulative)
	}
	fmt.Fprintf(&b, "saori_http_request_duration_seconds_bucket{le=\"+Inf\"} %d\n", totalCount)
	fmt.Fprintf(&b, "saori_http_request_duration_seconds_sum %.6f\n", float64(m.durationSum.Load())/float64(time.Second))
	fmt.Fprintf(&b, "saori_http_request_duration_seconds_count %d\n", totalCount)

	if m.pool != nil {
		stats := m.pool.Stats()
		b.WriteString("# HELP saori_workers_total Total number of module workers.\n")
		b.WriteString("# TYPE saori_workers_total gauge\n")
		fmt.Fprintf(&b, "saori_workers_total %d\n", stats.TotalWorkers)

		b.WriteString("# HELP saori_workers_busy Number of busy module workers.\n")
		b.WriteString("# TYPE saori_workers_busy gauge\n")
		fmt.Fprintf(&b, "saori_workers_busy %d\n", stats.BusyWorkers)

		b.WriteString("# HELP saori_workers_idle Number of idle module workers.\n")
		b.WriteString("# TYPE saori_workers_idle gauge\n")
		fmt.Fprintf(&b, "saori_workers_idle %d\n", stats.IdleWorkers)

		b.WriteString("# HELP saori_pool_requests_total Total requests processed by the worker pool.\n")
		b.WriteString("# TYPE saori_pool_requests_total counter\n")
		fmt.Fprintf(&b, "saori_pool_requests_total %d\n", stats.TotalRequests)
	}

	b.WriteString("# HELP saori_go_goroutines Number of goroutines.\n")
	b.WriteString("# TYPE saori_go_goroutines gauge\n")
	fmt.Fprintf(&b, "saori_go_goroutines %d\n", runtime.NumGoroutine())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	b.WriteString("# HELP saori_go_memstats_alloc_bytes Number of bytes allocated.\n")
	b.WriteString("# TYPE saori_go_memstats_alloc_bytes gauge\n")
	fmt.Fprintf(&b, "saori_go_memstats_alloc_bytes %d\n", mem.Alloc)

	w.Write([]byte(b.String()))
}

type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *metricsResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rw.statusCode = http.StatusSwitchingProtocols
	return http.NewResponseController(rw.ResponseWriter).Hijack()
}
