package relay

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/auto-dns/docker-proxy/internal/domain"
	"github.com/cenkalti/backoff/v5"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"
	"golang.org/x/net/proxy"
)

const (
	DefaultImage = "vimagick/dante:latest"
	DefaultPort  = 1080

	// ManagedLabel marks relay containers so leftovers can be found.
	ManagedLabel = "io.auto-dns.docker-proxy.relay"
)

type dockerClient interface {
	NetworkInspect(ctx context.Context, networkID string, options network.InspectOptions) (network.Inspect, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	DaemonHost() string
}

type Options struct {
	Image        string
	Port         uint16
	NamePrefix   string
	ReadyTimeout time.Duration
	Pull         bool
}

func (o Options) withDefaults() Options {
	if o.Image == "" {
		o.Image = DefaultImage
	}
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.NamePrefix == "" {
		o.NamePrefix = "docker-proxy"
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = 30 * time.Second
	}
	return o
}

// Harness runs a SOCKS relay container attached to one network and
// publishes its port on a random host port.
type Harness struct {
	cli     dockerClient
	network string
	opts    Options
	logger  zerolog.Logger
	probe   func(ctx context.Context, addr string) error

	mu          sync.Mutex
	containerID string
	name        string
}

func NewHarness(cli dockerClient, networkName string, opts Options, logger zerolog.Logger) *Harness {
	h := &Harness{
		cli:     cli,
		network: networkName,
		opts:    opts.withDefaults(),
		logger:  logger.With().Str("network", networkName).Logger(),
	}
	h.probe = socksProbe(h.opts.Port)
	return h
}

func (h *Harness) NetworkName() string {
	return h.network
}

func (h *Harness) Port() uint16 {
	return h.opts.Port
}

func (h *Harness) containerPort() nat.Port {
	return nat.Port(fmt.Sprintf("%d/tcp", h.opts.Port))
}

func (h *Harness) Start(ctx context.Context) error {
	if _, err := h.cli.NetworkInspect(ctx, h.network, network.InspectOptions{}); err != nil {
		if errdefs.IsNotFound(err) {
			return NewExternalNetworkError(h.network, err)
		}
		return fmt.Errorf("inspect network %s: %w", h.network, err)
	}

	if h.opts.Pull {
		if err := h.pull(ctx); err != nil {
			return err
		}
	}

	port := h.containerPort()
	name := fmt.Sprintf("%s-%s", h.opts.NamePrefix, uuid.NewString()[:8])
	created, err := h.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        h.opts.Image,
			ExposedPorts: nat.PortSet{port: struct{}{}},
			Labels:       map[string]string{ManagedLabel: h.network},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{port: []nat.PortBinding{{HostIP: "", HostPort: ""}}},
		},
		&network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{h.network: {}},
		},
		nil, name)
	if err != nil {
		return fmt.Errorf("create relay container %s: %w", name, err)
	}

	h.mu.Lock()
	h.containerID = created.ID
	h.name = name
	h.mu.Unlock()
	for _, warning := range created.Warnings {
		h.logger.Warn().Str("container", name).Msg(warning)
	}

	if err := h.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start relay container %s: %w", name, err)
	}
	h.logger.Info().Str("container", name).Str("image", h.opts.Image).Msg("Relay container started")

	return h.waitReady(ctx)
}

func (h *Harness) pull(ctx context.Context) error {
	rc, err := h.cli.ImagePull(ctx, h.opts.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", h.opts.Image, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull %s: %w", h.opts.Image, err)
	}
	return nil
}

// waitReady blocks until the relay answers a SOCKS handshake on its
// published port.
func (h *Harness) waitReady(ctx context.Context) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		mappings, err := h.PortMappings(ctx)
		if err != nil {
			return struct{}{}, err
		}
		addr, err := RelayAddress(mappings, h.opts.Port)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, h.probe(ctx, addr)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(h.opts.ReadyTimeout),
	)
	if err != nil {
		return fmt.Errorf("relay on %s not ready after %s: %w", h.network, h.opts.ReadyTimeout, err)
	}
	return nil
}

// socksProbe asks the relay to connect to its own listener inside the
// container. The published port accepts TCP as soon as the daemon forwards
// it, so only a completed SOCKS exchange means the relay is serving.
func socksProbe(port uint16) func(ctx context.Context, addr string) error {
	target := net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port)))
	return func(ctx context.Context, addr string) error {
		dialer, err := proxy.SOCKS5("tcp", addr, nil, &net.Dialer{Timeout: time.Second})
		if err != nil {
			return err
		}
		cd, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return fmt.Errorf("socks dialer for %s has no context support", addr)
		}
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		conn, err := cd.DialContext(probeCtx, "tcp", target)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

// PortMappings lists the relay's published ports. Wildcard host addresses
// are replaced by the address the daemon is reachable on.
func (h *Harness) PortMappings(ctx context.Context) ([]domain.PortMapping, error) {
	h.mu.Lock()
	id, name := h.containerID, h.name
	h.mu.Unlock()
	if id == "" {
		return nil, nil
	}

	info, err := h.cli.ContainerInspect(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("inspect relay container %s: %w", name, err)
	}
	if info.NetworkSettings == nil {
		return nil, nil
	}

	host := daemonHostIP(h.cli.DaemonHost())
	ports := make([]nat.Port, 0, len(info.NetworkSettings.Ports))
	for port := range info.NetworkSettings.Ports {
		ports = append(ports, port)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })

	var out []domain.PortMapping
	for _, port := range ports {
		for _, binding := range info.NetworkSettings.Ports[port] {
			public, err := strconv.ParseUint(binding.HostPort, 10, 16)
			if err != nil {
				continue
			}
			hostIP := binding.HostIP
			if hostIP == "" || hostIP == "0.0.0.0" || hostIP == "::" {
				hostIP = host
			}
			out = append(out, domain.PortMapping{
				Container:   name,
				PrivatePort: uint16(port.Int()),
				Protocol:    port.Proto(),
				HostIP:      hostIP,
				PublicPort:  uint16(public),
			})
		}
	}
	return out, nil
}

// Stop removes the relay container. Calling it again, or before Start
// created anything, does nothing.
func (h *Harness) Stop(ctx context.Context) error {
	h.mu.Lock()
	id, name := h.containerID, h.name
	h.containerID, h.name = "", ""
	h.mu.Unlock()
	if id == "" {
		return nil
	}

	err := h.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("remove relay container %s: %w", name, err)
	}
	h.logger.Info().Str("container", name).Msg("Relay container removed")
	return nil
}

// RelayAddress picks the host:port that reaches the relay's TCP port.
func RelayAddress(mappings []domain.PortMapping, port uint16) (string, error) {
	for _, m := range mappings {
		if m.PrivatePort == port && m.Protocol == "tcp" {
			return net.JoinHostPort(m.HostIP, strconv.Itoa(int(m.PublicPort))), nil
		}
	}
	return "", fmt.Errorf("relay port %d/tcp is not published", port)
}

func daemonHostIP(daemonHost string) string {
	u, err := url.Parse(daemonHost)
	if err != nil || u.Scheme == "unix" || u.Scheme == "npipe" || u.Hostname() == "" {
		return "127.0.0.1"
	}
	return u.Hostname()
}
