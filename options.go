package mailer

import (
	"errors"
	"fmt"
	"time"
)

const (
	// NoWait makes lock acquisition fail immediately when the lock is held.
	NoWait time.Duration = -1
	// WaitForever makes lock acquisition block until the lock is free.
	WaitForever time.Duration = 0

	defaultLockWait  = NoWait
	defaultHighBatch = 100
)

// MassConfig controls the throttled mass drain.
type MassConfig struct {
	// BatchSize is the number of processed messages (sent or deferred) per batch.
	BatchSize int
	// Interval is the pause between batches.
	Interval time.Duration
	// Attempts is the number of batches a single drain may run.
	Attempts int
	// Credentials authenticate mass connections.
	Credentials *Credentials
}

// Config defines how the Engine drains the queue.
type Config struct {
	// LockWait is the lock acquisition policy, see Locker.Acquire.
	LockWait    time.Duration
	lockWaitSet bool
	// Credentials authenticate normal connections. Nil uses the transport defaults.
	Credentials *Credentials
	Mass        MassConfig
	// HighBatch caps how many high priority messages are fetched per poll.
	HighBatch         int
	Clock             Clock
	Sleep             SleepFunc
	Logger            Logger
	Metrics           Metrics
	FailureClassifier FailureClassifier
}

func (c Config) withDefaults() Config {
	if !c.lockWaitSet {
		c.LockWait = defaultLockWait
	}
	if c.HighBatch <= 0 {
		c.HighBatch = defaultHighBatch
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Sleep == nil {
		c.Sleep = Sleep
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	if c.FailureClassifier == nil {
		c.FailureClassifier = DefaultFailureClassifier
	}

	return c
}

// Validate checks the required mass settings.
func (c Config) Validate() error {
	var errs []error
	if c.Mass.BatchSize <= 0 {
		errs = append(errs, errors.New("mass batch size must be positive"))
	}
	if c.Mass.Interval < 0 {
		errs = append(errs, errors.New("mass interval must be non-negative"))
	}
	if c.Mass.Attempts <= 0 {
		errs = append(errs, errors.New("mass attempts must be positive"))
	}
	if c.Mass.Credentials == nil {
		errs = append(errs, errors.New("mass credentials are required"))
	}
	if len(errs) == 0 {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// Option configures Engine behavior.
type Option func(*Config)

// WithLockWait sets the lock acquisition policy (NoWait, WaitForever or a bound).
func WithLockWait(wait time.Duration) Option {
	return func(c *Config) {
		c.LockWait = wait
		c.lockWaitSet = true
	}
}

// WithCredentials sets the credentials of normal connections.
func WithCredentials(creds *Credentials) Option {
	return func(c *Config) {
		c.Credentials = creds
	}
}

// WithMass sets the mass drain throttle and credentials.
func WithMass(mass MassConfig) Option {
	return func(c *Config) {
		c.Mass = mass
	}
}

// WithHighBatch sets how many high priority messages are fetched per poll.
func WithHighBatch(size int) Option {
	return func(c *Config) {
		c.HighBatch = size
	}
}

// WithClock sets the engine clock.
func WithClock(clock Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithSleep replaces the pause used between mass batches.
func WithSleep(sleep SleepFunc) Option {
	return func(c *Config) {
		c.Sleep = sleep
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMetrics sets the engine metrics recorder.
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}

// WithFailureClassifier overrides which send failures defer a message.
func WithFailureClassifier(classifier FailureClassifier) Option {
	return func(c *Config) {
		c.FailureClassifier = classifier
	}
}
