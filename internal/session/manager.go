package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/auto-dns/docker-proxy/internal/directory"
	"github.com/auto-dns/docker-proxy/internal/domain"
	"github.com/auto-dns/docker-proxy/internal/relay"
	"github.com/auto-dns/docker-proxy/internal/resolver"
	"github.com/auto-dns/docker-proxy/internal/route"
	"github.com/rs/zerolog"
)

type State int

const (
	NotStarted State = iota
	Active
	Stopped
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Stopped:
		return "stopped"
	default:
		return "not-started"
	}
}

// Harness brings the relay's container group up and down.
type Harness interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	NetworkName() string
	PortMappings(ctx context.Context) ([]domain.PortMapping, error)
}

// Installer is where the session hooks its resolver and selector in.
type Installer interface {
	CurrentSelector() route.Delegate
	InstallSelector(sel route.Delegate) (restore func())
	InstallResolver(res resolver.Resolver) (restore func())
}

type Config struct {
	Scope           domain.Scope
	RelayPort       uint16
	RefreshInterval time.Duration
	Concurrency     int
}

// Manager ties one relay harness to the process-wide hooks for its
// lifetime.
type Manager struct {
	cfg       Config
	harness   Harness
	runtime   directory.RuntimeClient
	installer Installer
	logger    zerolog.Logger

	mu              sync.Mutex
	state           State
	harnessStarted  bool
	restoreSelector func()
	restoreResolver func()
	dir             *directory.CachingDirectory
	selector        *route.Selector
}

func NewManager(cfg Config, harness Harness, runtime directory.RuntimeClient, installer Installer, logger zerolog.Logger) *Manager {
	if cfg.RelayPort == 0 {
		cfg.RelayPort = relay.DefaultPort
	}
	return &Manager{
		cfg:       cfg,
		harness:   harness,
		runtime:   runtime,
		installer: installer,
		logger:    logger.With().Str("component", "session").Logger(),
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Directory is the cached directory of an active session, nil otherwise.
func (m *Manager) Directory() *directory.CachingDirectory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dir
}

func (m *Manager) Selector() *route.Selector {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selector
}

// Start brings the relay up and installs the resolver and selector. A
// failed Start leaves the manager NotStarted; call Stop to clean up.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != NotStarted {
		return domain.NewConfigurationError(fmt.Sprintf("session cannot start from state %s", m.state), nil)
	}

	previous := m.installer.CurrentSelector()

	m.harnessStarted = true
	if err := m.harness.Start(ctx); err != nil {
		if isExternalNetwork(err) {
			return domain.NewConfigurationError(
				fmt.Sprintf("network %s does not exist yet: start the container group before the proxy session", m.harness.NetworkName()), err)
		}
		return fmt.Errorf("start relay: %w", err)
	}

	scope := m.cfg.Scope.WithNetwork(m.harness.NetworkName())
	scoped := directory.New(m.runtime, scope, m.logger, directory.WithConcurrency(m.cfg.Concurrency))
	cached := directory.NewCaching(scoped, m.logger, directory.WithRefreshInterval(m.cfg.RefreshInterval))

	mappings, err := m.harness.PortMappings(ctx)
	if err != nil {
		return fmt.Errorf("read relay ports: %w", err)
	}
	relayAddr, err := relay.RelayAddress(mappings, m.cfg.RelayPort)
	if err != nil {
		return err
	}

	selector := route.NewSelector(cached, relayAddr, previous, m.logger)
	m.restoreResolver = m.installer.InstallResolver(resolver.New(cached))
	m.restoreSelector = m.installer.InstallSelector(selector)
	m.dir = cached
	m.selector = selector
	m.state = Active

	m.logger.Info().Str("relay", relayAddr).Str("network", scope.NetworkName()).Msg("Proxy session started")
	return nil
}

// Stop undoes Start in reverse order. It is safe to call more than once and
// after a partial Start.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.restoreSelector != nil {
		m.restoreSelector()
		m.restoreSelector = nil
	}
	if m.restoreResolver != nil {
		m.restoreResolver()
		m.restoreResolver = nil
	}
	m.dir = nil
	m.selector = nil

	if m.state == Stopped {
		return nil
	}
	wasActive := m.state == Active
	m.state = Stopped

	if !m.harnessStarted {
		return nil
	}
	m.harnessStarted = false
	if err := m.harness.Stop(ctx); err != nil {
		return fmt.Errorf("stop relay: %w", err)
	}
	if wasActive {
		m.logger.Info().Msg("Proxy session stopped")
	}
	return nil
}

func isExternalNetwork(err error) bool {
	var extErr *relay.ExternalNetworkError
	if errors.As(err, &extErr) {
		return true
	}
	return strings.Contains(err.Error(), "declared as external")
}
