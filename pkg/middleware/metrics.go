// Package middleware provides reusable HTTP middleware for request IDs,
// Prometheus metrics, request timeouts, and CORS.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paperdex/paperdex/pkg/metrics"
)

// Metrics returns middleware that records request count, latency, and
// the in-flight gauge for every request passing through it.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			route := routePattern(r.URL.Path)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.code())).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// statusWriter captures the response status. A zero status means the
// handler never called WriteHeader, which the net/http server treats
// as 200.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	if sw.status == 0 {
		sw.status = code
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	return sw.ResponseWriter.Write(b)
}

func (sw *statusWriter) code() int {
	if sw.status == 0 {
		return http.StatusOK
	}
	return sw.status
}

// routePattern collapses path parameters so the metric label set stays
// bounded no matter how many papers or runs exist.
func routePattern(path string) string {
	const papersPrefix = "/api/v1/papers/"
	if rest, ok := strings.CutPrefix(path, papersPrefix); ok && rest != "" {
		return papersPrefix + "{id}"
	}
	const runsPrefix = "/api/v1/runs/"
	if rest, ok := strings.CutPrefix(path, runsPrefix); ok && rest != "" && rest != "recent" {
		return runsPrefix + "{id}"
	}
	return path
}
