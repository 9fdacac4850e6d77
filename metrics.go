package mailer

import "time"

// Metrics captures drain-level telemetry.
type Metrics interface {
	// ObserveDrainDuration records the wall-clock time of a drain that held the lock.
	ObserveDrainDuration(mode Mode, duration time.Duration)
	// AddSent increments the count of sent messages.
	AddSent(mode Mode, count int)
	// AddDeferred increments the count of deferred messages.
	AddDeferred(mode Mode, count int)
	// AddFailed increments the count of drains aborted by an unexpected error.
	AddFailed(mode Mode, count int)
	// AddLockDenied increments the count of drains skipped because the lock was busy.
	AddLockDenied(mode Mode)
	// SetQueued updates the number of non-deferred messages left in the queue.
	SetQueued(mode Mode, count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveDrainDuration implements Metrics.
func (NopMetrics) ObserveDrainDuration(Mode, time.Duration) {}

// AddSent implements Metrics.
func (NopMetrics) AddSent(Mode, int) {}

// AddDeferred implements Metrics.
func (NopMetrics) AddDeferred(Mode, int) {}

// AddFailed implements Metrics.
func (NopMetrics) AddFailed(Mode, int) {}

// AddLockDenied implements Metrics.
func (NopMetrics) AddLockDenied(Mode) {}

// SetQueued implements Metrics.
func (NopMetrics) SetQueued(Mode, int) {}
