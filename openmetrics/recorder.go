// Package openmetrics records drain telemetry with Prometheus.
package openmetrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/velmie/mailer"
)

const (
	namespace = "mailer"
	subsystem = "drain"
	modeLabel = "mode"
)

// ErrPushURLRequired is returned by Push without a gateway URL.
var ErrPushURLRequired = errors.New("mailer openmetrics: pushgateway url is required")

// Recorder implements mailer.Metrics.
type Recorder struct {
	registry   *prometheus.Registry
	duration   *prometheus.HistogramVec
	sent       *prometheus.CounterVec
	deferred   *prometheus.CounterVec
	failed     *prometheus.CounterVec
	lockDenied *prometheus.CounterVec
	queued     *prometheus.GaugeVec
}

// NewRecorder creates the collectors on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "duration_seconds",
				Help:      "Wall-clock time of drains that held the lock",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 1800, 3600},
			},
			[]string{modeLabel},
		),
		sent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sent_total",
				Help:      "Messages delivered and removed from the queue",
			},
			[]string{modeLabel},
		),
		deferred: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "deferred_total",
				Help:      "Messages deferred after a transport failure",
			},
			[]string{modeLabel},
		),
		failed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "failed_total",
				Help:      "Drains aborted by an unexpected error",
			},
			[]string{modeLabel},
		),
		lockDenied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "lock_denied_total",
				Help:      "Drains skipped because another drain held the lock",
			},
			[]string{modeLabel},
		),
		queued: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "messages",
				Help:      "Non-deferred messages left after the last drain",
			},
			[]string{modeLabel},
		),
	}
	r.registry.MustRegister(r.duration, r.sent, r.deferred, r.failed, r.lockDenied, r.queued)

	return r
}

// Registry returns the registry holding the collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveDrainDuration implements mailer.Metrics.
func (r *Recorder) ObserveDrainDuration(mode mailer.Mode, d time.Duration) {
	r.duration.WithLabelValues(mode.String()).Observe(d.Seconds())
}

// AddSent implements mailer.Metrics.
func (r *Recorder) AddSent(mode mailer.Mode, count int) {
	r.sent.WithLabelValues(mode.String()).Add(float64(count))
}

// AddDeferred implements mailer.Metrics.
func (r *Recorder) AddDeferred(mode mailer.Mode, count int) {
	r.deferred.WithLabelValues(mode.String()).Add(float64(count))
}

// AddFailed implements mailer.Metrics.
func (r *Recorder) AddFailed(mode mailer.Mode, count int) {
	r.failed.WithLabelValues(mode.String()).Add(float64(count))
}

// AddLockDenied implements mailer.Metrics.
func (r *Recorder) AddLockDenied(mode mailer.Mode) {
	r.lockDenied.WithLabelValues(mode.String()).Inc()
}

// SetQueued implements mailer.Metrics.
func (r *Recorder) SetQueued(mode mailer.Mode, count int) {
	r.queued.WithLabelValues(mode.String()).Set(float64(count))
}

// Push sends the collected metrics to a Pushgateway under job.
// Cron-style runs exit before a scraper could collect them.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return ErrPushURLRequired
	}
	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("mailer openmetrics: push failed: %w", err)
	}

	return nil
}

var _ mailer.Metrics = (*Recorder)(nil)
