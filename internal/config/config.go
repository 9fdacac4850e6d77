// Package config loads the mailer command settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/velmie/mailer"
	"github.com/velmie/mailer/internal/logging"
	"github.com/velmie/mailer/smtpconn"
	"github.com/velmie/mailer/sqlstore"
)

// Prefix is prepended to every variable name.
const Prefix = "MAILER_"

// Lock backends.
const (
	LockFile  = "file"
	LockRedis = "redis"
	LockMySQL = "mysql"
)

const (
	defaultLockDirName = "mailer-locks"
	// leaseMargin is the sending time allowed on top of the mass pauses when
	// checking lock expiries.
	leaseMargin = 15 * time.Minute
)

var (
	// ErrInvalid wraps validation failures.
	ErrInvalid = errors.New("mailer config: invalid settings")
	// ErrMassRequired is returned when a drain is configured without mass settings.
	ErrMassRequired = errors.New("mailer config: mass settings are required")
)

// Config is the command configuration.
type Config struct {
	// EmptyQueueSleep is the pause of the send loop while the queue is empty.
	EmptyQueueSleep time.Duration `env:"EMPTY_QUEUE_SLEEP" envDefault:"30s"`
	// LockWaitTimeout is negative for no wait, zero to wait forever.
	LockWaitTimeout WaitTimeout `env:"LOCK_WAIT_TIMEOUT" envDefault:"-1"`
	LockBackend     string      `env:"LOCK_BACKEND" envDefault:"file"`
	LockDir         string      `env:"LOCK_DIR"`
	// LockStaleAfter breaks file locks older than this. Zero never breaks them.
	LockStaleAfter time.Duration `env:"LOCK_STALE_AFTER"`
	RedisURL       string        `env:"REDIS_URL"`
	// RedisLockTTL expires Redis locks. Zero keeps them until released.
	RedisLockTTL   time.Duration `env:"REDIS_LOCK_TTL"`
	EmailBackend   string        `env:"EMAIL_BACKEND" envDefault:"smtp"`
	PauseSend      bool          `env:"PAUSE_SEND"`
	PushgatewayURL string        `env:"PUSHGATEWAY_URL"`
	// PurgeRetention enables log purging in the send loop when positive.
	PurgeRetention time.Duration `env:"PURGE_LOG_RETENTION"`
	PurgeEvery     time.Duration `env:"PURGE_LOG_EVERY" envDefault:"1h"`

	SMTP SMTP `envPrefix:"SMTP_"`
	Mass Mass `envPrefix:"MASS_"`
	DB   DB   `envPrefix:"DB_"`
	Log  Log  `envPrefix:"LOG_"`
}

// WaitTimeout is a lock wait setting. A bare integer is a number of seconds,
// anything else is parsed as a Go duration.
type WaitTimeout time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (w *WaitTimeout) UnmarshalText(text []byte) error {
	value := strings.TrimSpace(string(text))
	if seconds, err := strconv.Atoi(value); err == nil {
		*w = WaitTimeout(time.Duration(seconds) * time.Second)

		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("lock wait timeout %q: %w", value, err)
	}
	*w = WaitTimeout(d)

	return nil
}

// Duration returns the wait as a time.Duration.
func (w WaitTimeout) Duration() time.Duration {
	return time.Duration(w)
}

// SMTP describes the relay used by the smtp backend.
type SMTP struct {
	Host     string        `env:"HOST" envDefault:"localhost"`
	Port     int           `env:"PORT" envDefault:"25"`
	Username string        `env:"USERNAME"`
	Password string        `env:"PASSWORD"`
	TLS      string        `env:"TLS" envDefault:"none"`
	HELO     string        `env:"HELO"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

// Mass holds the throttled drain settings.
type Mass struct {
	Username  string `env:"USERNAME"`
	Password  string `env:"PASSWORD"`
	QueueSize int    `env:"QUEUE_SIZE"`
	// QueueInterval is the pause between batches in minutes.
	QueueInterval int `env:"QUEUE_INTERVAL"`
	QueueAttempts int `env:"QUEUE_ATTEMPTS"`
}

// DB selects the queue database.
type DB struct {
	Driver string `env:"DRIVER" envDefault:"mysql"`
	DSN    string `env:"DSN"`
	Table  string `env:"TABLE" envDefault:"mailer_message"`
}

// Log configures the command logger.
type Log struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"text"`
}

// Load reads dotenv files, then parses the process environment. Without
// files a missing ./.env is ignored. Variables already set win over files.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("mailer config: load .env: %w", err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return Config{}, fmt.Errorf("mailer config: load env files: %w", err)
	}

	return parse(env.Options{Prefix: Prefix})
}

// Parse reads the configuration from environ instead of the process environment.
func Parse(environ map[string]string) (Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("mailer config: parse: %w", err)
	}
	if cfg.LockDir == "" {
		cfg.LockDir = filepath.Join(os.TempDir(), defaultLockDirName)
	}
	cfg.LockBackend = strings.ToLower(strings.TrimSpace(cfg.LockBackend))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the settings every command needs.
func (c Config) Validate() error {
	var errs []error
	if _, err := sqlstore.ParseDialect(c.DB.Driver); err != nil {
		errs = append(errs, err)
	}
	if c.DB.DSN == "" {
		errs = append(errs, errors.New(Prefix+"DB_DSN is required"))
	}
	switch c.LockBackend {
	case LockFile:
	case LockRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New(Prefix+"REDIS_URL is required for the redis lock backend"))
		}
	case LockMySQL:
		if dialect, _ := sqlstore.ParseDialect(c.DB.Driver); dialect != sqlstore.DialectMySQL {
			errs = append(errs, errors.New("the mysql lock backend needs the mysql database driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown lock backend %q", c.LockBackend))
	}
	if c.EmptyQueueSleep <= 0 {
		errs = append(errs, errors.New(Prefix+"EMPTY_QUEUE_SLEEP must be positive"))
	}
	if _, err := smtpconn.ParseTLSMode(c.SMTP.TLS); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// MassConfig returns the throttle settings. Drains refuse to start without
// them, even normal ones, so a half-configured deployment fails early.
func (c Config) MassConfig() (mailer.MassConfig, error) {
	var missing []string
	if c.Mass.Username == "" {
		missing = append(missing, Prefix+"MASS_USERNAME")
	}
	if c.Mass.Password == "" {
		missing = append(missing, Prefix+"MASS_PASSWORD")
	}
	if c.Mass.QueueSize <= 0 {
		missing = append(missing, Prefix+"MASS_QUEUE_SIZE")
	}
	if c.Mass.QueueInterval < 0 {
		missing = append(missing, Prefix+"MASS_QUEUE_INTERVAL")
	}
	if c.Mass.QueueAttempts <= 0 {
		missing = append(missing, Prefix+"MASS_QUEUE_ATTEMPTS")
	}
	if len(missing) > 0 {
		return mailer.MassConfig{}, fmt.Errorf("%w: set %s", ErrMassRequired, strings.Join(missing, ", "))
	}

	return mailer.MassConfig{
		BatchSize: c.Mass.QueueSize,
		Interval:  time.Duration(c.Mass.QueueInterval) * time.Minute,
		Attempts:  c.Mass.QueueAttempts,
		Credentials: &mailer.Credentials{
			Username: c.Mass.Username,
			Password: c.Mass.Password,
		},
	}, nil
}

// EngineOptions converts the drain settings into engine options.
func (c Config) EngineOptions(logger mailer.Logger, metrics mailer.Metrics) ([]mailer.Option, error) {
	mass, err := c.MassConfig()
	if err != nil {
		return nil, err
	}
	if err := c.checkLease(mass); err != nil {
		return nil, err
	}

	return []mailer.Option{
		mailer.WithLockWait(c.LockWaitTimeout.Duration()),
		mailer.WithMass(mass),
		mailer.WithLogger(logger),
		mailer.WithMetrics(metrics),
	}, nil
}

// checkLease rejects lock expiries that can lapse while a mass drain is
// still sleeping between batches.
func (c Config) checkLease(mass mailer.MassConfig) error {
	var (
		name  string
		lease time.Duration
	)
	switch c.LockBackend {
	case LockRedis:
		name, lease = Prefix+"REDIS_LOCK_TTL", c.RedisLockTTL
	case LockFile:
		name, lease = Prefix+"LOCK_STALE_AFTER", c.LockStaleAfter
	default:
		return nil
	}
	if lease <= 0 {
		return nil
	}

	pauses := mass.Interval * time.Duration(mass.Attempts-1)
	if lease <= pauses+leaseMargin {
		return fmt.Errorf("%w: %s (%s) must exceed the mass batch pauses (%s) by more than %s",
			ErrInvalid, name, lease, pauses, leaseMargin)
	}

	return nil
}

// SMTPConfig returns the relay settings for the smtp backend.
func (c Config) SMTPConfig(logger mailer.Logger) smtpconn.Config {
	mode, _ := smtpconn.ParseTLSMode(c.SMTP.TLS)
	cfg := smtpconn.Config{
		Host:           c.SMTP.Host,
		Port:           c.SMTP.Port,
		TLS:            mode,
		HELO:           c.SMTP.HELO,
		ConnectTimeout: c.SMTP.Timeout,
		CommandTimeout: c.SMTP.Timeout,
		Logger:         logger,
	}
	if c.SMTP.Username != "" {
		cfg.Credentials = &mailer.Credentials{Username: c.SMTP.Username, Password: c.SMTP.Password}
	}

	return cfg
}

// StoreOptions returns the sqlstore settings.
func (c Config) StoreOptions(clock mailer.Clock) []sqlstore.Option {
	dialect, _ := sqlstore.ParseDialect(c.DB.Driver)

	return []sqlstore.Option{
		sqlstore.WithDialect(dialect),
		sqlstore.WithTable(c.DB.Table),
		sqlstore.WithClock(clock),
	}
}
