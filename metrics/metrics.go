package metrics

import (
	stderrors "errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sardanioss/httpcloak-go/errors"
)

// Mode labels where a response body surfaced.
const (
	ModeBuffered = "buffered"
	ModeFast     = "fast"
	ModeStream   = "stream"
)

// Recorder aggregates binding activity into Prometheus metrics. A nil
// Recorder is valid and records nothing, so callers never branch on
// whether metrics are enabled.
type Recorder struct {
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	bodyBytes *prometheus.HistogramVec
	errs      *prometheus.CounterVec
	sessions  prometheus.Gauge
	streams   prometheus.Gauge
}

// New builds a Recorder with all metrics under the httpcloak namespace.
// The metrics are unregistered until Register is called.
func New() *Recorder {
	return &Recorder{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "httpcloak",
				Name:      "requests_total",
				Help:      "Completed requests by method and outcome.",
			},
			[]string{"method", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "httpcloak",
				Name:      "request_duration_seconds",
				Help:      "Wall time of engine round trips.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"method"},
		),
		bodyBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "httpcloak",
				Name:      "response_body_bytes",
				Help:      "Response body sizes by consumption mode.",
				Buckets:   prometheus.ExponentialBuckets(256, 4, 12),
			},
			[]string{"mode"},
		),
		errs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "httpcloak",
				Name:      "errors_total",
				Help:      "Failed operations by phase and kind.",
			},
			[]string{"phase", "kind"},
		),
		sessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "httpcloak",
				Name:      "sessions_active",
				Help:      "Engine sessions currently open.",
			},
		),
		streams: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "httpcloak",
				Name:      "streams_active",
				Help:      "Streaming responses currently open.",
			},
		),
	}
}

// Register adds every metric to reg.
func (r *Recorder) Register(reg prometheus.Registerer) error {
	if r == nil {
		return nil
	}
	for _, c := range r.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister is Register but panics on collision, matching the
// prometheus package's own convention.
func (r *Recorder) MustRegister(reg prometheus.Registerer) {
	if err := r.Register(reg); err != nil {
		panic(err)
	}
}

func (r *Recorder) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.requests,
		r.duration,
		r.bodyBytes,
		r.errs,
		r.sessions,
		r.streams,
	}
}

// RecordRequest notes one completed round trip. err is the operation's
// outcome; structured binding errors contribute phase and kind labels.
func (r *Recorder) RecordRequest(method string, d time.Duration, err error) {
	if r == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		r.RecordError(err)
	}
	r.requests.WithLabelValues(method, outcome).Inc()
	r.duration.WithLabelValues(method).Observe(d.Seconds())
}

// RecordBody notes the size of one materialized response body.
func (r *Recorder) RecordBody(mode string, n int) {
	if r == nil || n < 0 {
		return
	}
	r.bodyBytes.WithLabelValues(mode).Observe(float64(n))
}

// RecordError counts one failure under its phase and kind. Errors from
// outside the binding taxonomy count as request/unknown.
func (r *Recorder) RecordError(err error) {
	if r == nil || err == nil {
		return
	}
	phase, kind := string(errors.PhaseRequest), "unknown"
	var e *errors.Error
	if stderrors.As(err, &e) {
		phase, kind = string(e.Phase), string(e.Kind)
	}
	r.errs.WithLabelValues(phase, kind).Inc()
}

// SessionOpened bumps the live session gauge.
func (r *Recorder) SessionOpened() {
	if r == nil {
		return
	}
	r.sessions.Inc()
}

// SessionClosed drops the live session gauge.
func (r *Recorder) SessionClosed() {
	if r == nil {
		return
	}
	r.sessions.Dec()
}

// StreamOpened bumps the live stream gauge.
func (r *Recorder) StreamOpened() {
	if r == nil {
		return
	}
	r.streams.Inc()
}

// StreamClosed drops the live stream gauge.
func (r *Recorder) StreamClosed() {
	if r == nil {
		return
	}
	r.streams.Dec()
}
