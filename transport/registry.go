package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/velmie/mailer"
	"github.com/velmie/mailer/smtpconn"
)

// Backend names known to a new Registry.
const (
	BackendSMTP    = "smtp"
	BackendConsole = "console"
	BackendDummy   = "dummy"
)

var (
	// ErrUnknownBackend is returned for names without a registered factory.
	ErrUnknownBackend = errors.New("mailer transport: unknown backend")
	// ErrBackendExists is returned when a name is registered twice.
	ErrBackendExists = errors.New("mailer transport: backend already registered")
	// ErrNilFactory is returned when registering a nil factory.
	ErrNilFactory = errors.New("mailer transport: factory is required")
)

// Settings carries what the built-in backends need.
type Settings struct {
	SMTP smtpconn.Config
	// Output receives console backend messages. Defaults to os.Stdout.
	Output io.Writer
	Logger mailer.Logger
}

// Factory builds a transport from settings.
type Factory func(Settings) (mailer.Transport, error)

// Registry maps backend names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the smtp, console and dummy backends.
func NewRegistry() *Registry {
	return &Registry{
		factories: map[string]Factory{
			BackendSMTP:    newSMTP,
			BackendConsole: newConsole,
			BackendDummy:   newDummy,
		},
	}
}

// Register adds a backend.
func (r *Registry) Register(name string, factory Factory) error {
	if factory == nil {
		return ErrNilFactory
	}
	name = normalize(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrBackendExists, name)
	}
	r.factories[name] = factory

	return nil
}

// New builds the transport registered under name.
func (r *Registry) New(name string, settings Settings) (mailer.Transport, error) {
	r.mu.RLock()
	factory, ok := r.factories[normalize(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	if settings.Logger == nil {
		settings.Logger = mailer.NopLogger{}
	}
	if settings.Output == nil {
		settings.Output = os.Stdout
	}

	return factory(settings)
}

// Names returns the registered backend names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// New builds a transport from the default registry.
func New(name string, settings Settings) (mailer.Transport, error) {
	return NewRegistry().New(name, settings)
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func newSMTP(s Settings) (mailer.Transport, error) {
	cfg := s.SMTP
	if cfg.Logger == nil {
		cfg.Logger = s.Logger
	}

	return smtpconn.NewFromConfig(cfg)
}

func newConsole(s Settings) (mailer.Transport, error) {
	return NewConsole(s.Output), nil
}

func newDummy(Settings) (mailer.Transport, error) {
	return Dummy{}, nil
}
