package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/auto-dns/docker-proxy/internal/config"
	"github.com/auto-dns/docker-proxy/internal/directory"
	"github.com/auto-dns/docker-proxy/internal/docker"
	"github.com/auto-dns/docker-proxy/internal/domain"
	"github.com/auto-dns/docker-proxy/internal/event"
	"github.com/auto-dns/docker-proxy/internal/hook"
	"github.com/auto-dns/docker-proxy/internal/registry"
	"github.com/auto-dns/docker-proxy/internal/relay"
	"github.com/auto-dns/docker-proxy/internal/route"
	"github.com/auto-dns/docker-proxy/internal/session"
	dockerCli "github.com/docker/docker/client"
	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const shutdownTimeout = 30 * time.Second

type App struct {
	cfg          *config.Config
	scope        domain.Scope
	dockerClient *dockerCli.Client
	etcdClient   *clientv3.Client
	runtime      directory.RuntimeClient
	logger       zerolog.Logger
}

// New creates a new App by wiring up all dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	scope, err := ScopeFromConfig(&cfg.App)
	if err != nil {
		return nil, err
	}

	// Docker CLI
	dockerClient, err := dockerCli.NewClientWithOpts(dockerCli.FromEnv, dockerCli.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}

	var runtime directory.RuntimeClient
	switch cfg.App.RuntimeDriver {
	case config.RuntimeDriverCLI:
		runtime = docker.NewCLIClient(cfg.App.DockerBinary, cfg.App.QueryTimeout, logger)
	default:
		runtime = docker.NewAPIClient(dockerClient, cfg.App.QueryTimeout, logger)
	}

	// etcd CLI
	var etcdClient *clientv3.Client
	if cfg.Etcd.Enabled {
		etcdClient, err = clientv3.New(clientv3.Config{
			Endpoints:   cfg.Etcd.Endpoints,
			DialTimeout: cfg.Etcd.DialTimeout,
		})
		if err != nil {
			dockerClient.Close()
			return nil, fmt.Errorf("failed to connect to etcd: %w", err)
		}
	}

	hook.Default.SetLogger(logger)

	return &App{
		cfg:          cfg,
		scope:        scope,
		dockerClient: dockerClient,
		etcdClient:   etcdClient,
		runtime:      runtime,
		logger:       logger,
	}, nil
}

var projectNameSanitizer = regexp.MustCompile(`[^a-z0-9_-]`)

// ScopeFromConfig builds the scope to watch. A project scope without a name
// falls back to the current directory's name, like docker compose does.
func ScopeFromConfig(cfg *config.AppConfig) (domain.Scope, error) {
	kind, err := domain.ParseScopeKind(cfg.ScopeKind)
	if err != nil {
		return domain.Scope{}, err
	}
	name := cfg.ScopeName
	if name == "" && kind == domain.ScopeProject {
		wd, err := os.Getwd()
		if err != nil {
			return domain.Scope{}, fmt.Errorf("derive project name: %w", err)
		}
		name = projectNameSanitizer.ReplaceAllString(strings.ToLower(filepath.Base(wd)), "")
	}
	scope := domain.Scope{Kind: kind, Name: name, NetworkOverride: cfg.NetworkOverride}
	if err := scope.Validate(); err != nil {
		return domain.Scope{}, err
	}
	return scope, nil
}

func (a *App) Scope() domain.Scope {
	return a.scope
}

// Directory queries the runtime directly, without caching.
func (a *App) Directory() *directory.ScopedDirectory {
	return directory.New(a.runtime, a.scope, a.logger, directory.WithConcurrency(a.cfg.App.QueryConcurrency))
}

func (a *App) CachedDirectory() *directory.CachingDirectory {
	return directory.NewCaching(a.Directory(), a.logger, directory.WithRefreshInterval(a.cfg.App.RefreshInterval))
}

// Selector decides routes against the live directory for a relay that may
// not be running.
func (a *App) Selector(relayAddr string) *route.Selector {
	return route.NewSelector(a.CachedDirectory(), relayAddr, hook.Default.CurrentSelector(), a.logger)
}

func (a *App) relayOptions() relay.Options {
	return relay.Options{
		Image:        a.cfg.Relay.Image,
		Port:         uint16(a.cfg.Relay.Port),
		NamePrefix:   a.cfg.Relay.ContainerPrefix,
		ReadyTimeout: a.cfg.Relay.ReadyTimeout,
		Pull:         a.cfg.Relay.Pull,
	}
}

// ComposeFile renders the relay as a compose service for the scope's network.
func (a *App) ComposeFile() ([]byte, error) {
	return relay.RenderCompose(a.scope.NetworkName(), a.relayOptions())
}

// withSession runs fn while a proxy session for the scope is active and
// always stops the session afterwards.
func (a *App) withSession(ctx context.Context, fn func(ctx context.Context, mgr *session.Manager) error) error {
	harness := relay.NewHarness(a.dockerClient, a.scope.NetworkName(), a.relayOptions(), a.logger)
	mgr := session.NewManager(session.Config{
		Scope:           a.scope,
		RelayPort:       uint16(a.cfg.Relay.Port),
		RefreshInterval: a.cfg.App.RefreshInterval,
		Concurrency:     a.cfg.App.QueryConcurrency,
	}, harness, a.runtime, hook.Default, a.logger)

	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := mgr.Stop(stopCtx); err != nil {
			a.logger.Error().Err(err).Msg("Failed to stop proxy session")
		}
	}()

	if err := mgr.Start(ctx); err != nil {
		return err
	}
	a.logger.Info().Str("relay", "socks5://"+mgr.Selector().Relay()).Msg("Proxy session active")
	return fn(ctx, mgr)
}

// Run starts a proxy session and keeps it up until ctx is canceled,
// publishing the host index to etcd when enabled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info().Str("scope", a.scope.String()).Msg("Application starting")

	return a.withSession(ctx, func(ctx context.Context, mgr *session.Manager) error {
		changes, err := event.NewDockerWatcher(a.dockerClient, a.scope, a.logger).Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("watch docker events: %w", err)
		}

		var publisher registry.Publisher
		if a.etcdClient != nil {
			publisher = registry.NewEtcdPublisher(a.etcdClient, &a.cfg.Etcd, hostname(), a.scope.NetworkName(), a.logger)
		}
		return a.serve(ctx, mgr.Directory(), changes, a.Directory(), publisher)
	})
}

// Fetch GETs rawURL with the session's hooks installed, so container names
// resolve and route through the relay, and copies the body to out.
func (a *App) Fetch(ctx context.Context, rawURL string, out io.Writer) error {
	return a.withSession(ctx, func(ctx context.Context, _ *session.Manager) error {
		return fetch(ctx, &http.Client{Transport: hook.Default.Transport()}, rawURL, out)
	})
}

func fetch(ctx context.Context, client *http.Client, rawURL string, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("GET %s: %s", rawURL, resp.Status)
	}
	return nil
}

// Dial connects to address through the session's selector and pipes the
// connection to stdio until either side closes.
func (a *App) Dial(ctx context.Context, address string, in io.Reader, out io.Writer) error {
	return a.withSession(ctx, func(ctx context.Context, mgr *session.Manager) error {
		conn, err := route.NewDialer(mgr.Selector()).DialContext(ctx, "tcp", address)
		if err != nil {
			return err
		}
		return pipe(ctx, conn, in, out)
	})
}

func pipe(ctx context.Context, conn net.Conn, in io.Reader, out io.Writer) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	go func() {
		_, _ = io.Copy(conn, in)
		if cw, ok := conn.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		}
	}()

	_, err := io.Copy(out, conn)
	if err != nil && ctx.Err() != nil && errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

type snapshotter interface {
	Snapshot(ctx context.Context) (*domain.HostAddressIndex, error)
}

type invalidator interface {
	InvalidateAll()
}

// serve drops cached answers whenever the scope's membership changes and,
// with a publisher, republishes the index on every change and tick.
func (a *App) serve(ctx context.Context, cache invalidator, changes <-chan event.ContainerEvent, dir snapshotter, publisher registry.Publisher) error {
	var tick <-chan time.Time
	if publisher != nil {
		defer func() {
			withdrawCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := publisher.Withdraw(withdrawCtx); err != nil {
				a.logger.Warn().Err(err).Msg("Failed to withdraw published records")
			}
		}()
		ticker := time.NewTicker(a.cfg.App.PublishInterval)
		defer ticker.Stop()
		tick = ticker.C
		a.publishOnce(ctx, dir, publisher)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-changes:
			if !ok {
				// Without events the cache still refreshes on its own schedule.
				changes = nil
				continue
			}
			a.logger.Debug().Str("container", ev.ContainerID).Str("event", string(ev.Kind)).Msg("Scope membership changed")
			cache.InvalidateAll()
			if publisher != nil {
				a.publishOnce(ctx, dir, publisher)
			}
		case <-tick:
			a.publishOnce(ctx, dir, publisher)
		}
	}
}

func (a *App) publishOnce(ctx context.Context, dir snapshotter, publisher registry.Publisher) {
	idx, err := dir.Snapshot(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			a.logger.Error().Err(err).Msg("Failed to snapshot containers")
		}
		return
	}
	if err := publisher.Publish(ctx, idx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to publish host index")
	}
}

// PublishedEntries reads back what sessions have exported to etcd.
func (a *App) PublishedEntries(ctx context.Context) ([]domain.IndexEntry, error) {
	if a.etcdClient == nil {
		return nil, fmt.Errorf("etcd publishing is disabled")
	}
	publisher := registry.NewEtcdPublisher(a.etcdClient, &a.cfg.Etcd, hostname(), a.scope.NetworkName(), a.logger)
	return publisher.List(ctx)
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}

func (a *App) Close() error {
	var firstErr error
	if a.dockerClient != nil {
		if err := a.dockerClient.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close docker client: %w", err)
		}
	}
	if a.etcdClient != nil {
		if err := a.etcdClient.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close etcd client: %w", err)
		}
	}
	return firstErr
}
