package sqlstore

import "github.com/velmie/mailer"

const defaultTable = "mailer_message"

// Config defines SQL store behavior.
type Config struct {
	// Table is the queue table. The log table is Table + "_log".
	Table     string
	Dialect   Dialect
	Clock     mailer.Clock
	Generator mailer.IDGenerator
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = defaultTable
	}
	if c.Dialect == "" {
		c.Dialect = DialectMySQL
	}
	if c.Clock == nil {
		c.Clock = mailer.SystemClock{}
	}
	if c.Generator == nil {
		c.Generator = mailer.NewUUIDv7Generator()
	}

	return c
}

// Option configures the SQL store.
type Option func(*Config)

// WithTable sets the queue table name.
func WithTable(name string) Option {
	return func(c *Config) {
		c.Table = name
	}
}

// WithDialect sets the SQL dialect.
func WithDialect(dialect Dialect) Option {
	return func(c *Config) {
		c.Dialect = dialect
	}
}

// WithClock sets the time source used by the store.
func WithClock(clock mailer.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithGenerator sets the UUID generator.
func WithGenerator(gen mailer.IDGenerator) Option {
	return func(c *Config) {
		c.Generator = gen
	}
}
