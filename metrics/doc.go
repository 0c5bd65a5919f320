// Package metrics exposes the binding's activity as Prometheus metrics.
//
// Metrics are opt-in. Build a Recorder, register it, and hand it to the
// sessions that should report:
//
//	rec := metrics.New()
//	rec.MustRegister(prometheus.DefaultRegisterer)
//	session, err := httpcloak.NewSession("chrome-145", httpcloak.WithMetrics(rec))
//
// A nil *Recorder is a valid no-op sink, so call sites record
// unconditionally.
//
// # Metrics
//
//   - httpcloak_requests_total{method,outcome}: completed round trips
//   - httpcloak_request_duration_seconds{method}: engine call latency
//   - httpcloak_response_body_bytes{mode}: body sizes by consumption mode
//   - httpcloak_errors_total{phase,kind}: failures by taxonomy position
//   - httpcloak_sessions_active: open engine sessions
//   - httpcloak_streams_active: open streaming responses
package metrics
