package http

import (
	"fmt"
	"net/http"
)

// handleMetrics writes request, security and session counters in the
// Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	traceMetrics := s.tracer.GetMetrics()
	limitMetrics := s.limiter.GetMetrics()
	securityMetrics := s.detector.GetMetrics()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	metric(w, "http_requests_total", "counter", "Total number of HTTP requests", traceMetrics.TotalRequests)
	metric(w, "http_response_time_microseconds", "gauge", "Smoothed average response time", traceMetrics.AverageResponseTime)
	metric(w, "rate_limit_hits_total", "counter", "Requests rejected by the rate limiter", limitMetrics.TotalHits)
	metric(w, "rate_limit_active_clients", "gauge", "Clients tracked by the rate limiter", limitMetrics.ClientCount)
	metric(w, "suspicious_requests_total", "counter", "Requests flagged as suspicious", securityMetrics.SuspiciousRequests)
	metric(w, "invalid_ip_attempts_total", "counter", "Requests with an unparseable client address", securityMetrics.InvalidIPAttempts)
	metric(w, "ingest_sockets_active", "gauge", "Open /ws/ingest connections", int64(s.ActiveSockets()))
	metric(w, "session_version", "counter", "Number of applied session mutations", int64(s.session.Version()))
}

func metric(w http.ResponseWriter, name, kind, help string, v int64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %d\n\n", name, help, name, kind, name, v)
}
