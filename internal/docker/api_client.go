package docker

import (
	"context"
	"net/netip"
	"sort"
	"strings"
	"time"

	"github.com/auto-dns/docker-proxy/internal/domain"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/rs/zerolog"
)

type dockerClient interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	NetworkInspect(ctx context.Context, networkID string, options network.InspectOptions) (network.Inspect, error)
}

// APIClient answers runtime queries through the Docker Engine API.
type APIClient struct {
	cli     dockerClient
	timeout time.Duration
	logger  zerolog.Logger
}

func NewAPIClient(cli dockerClient, timeout time.Duration, logger zerolog.Logger) *APIClient {
	return &APIClient{
		cli:     cli,
		timeout: timeout,
		logger:  logger.With().Str("runtime", "api").Logger(),
	}
}

func (c *APIClient) ListMemberIDs(ctx context.Context, scope domain.Scope) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	switch scope.Kind {
	case domain.ScopeProject:
		opts := container.ListOptions{
			Filters: filters.NewArgs(filters.Arg("label", domain.ComposeProjectLabel+"="+scope.Name)),
		}
		containers, err := c.cli.ContainerList(ctx, opts)
		if err != nil {
			return nil, domain.NewRuntimeQueryError("ps", scope.Name, err)
		}
		ids := make([]string, 0, len(containers))
		for _, ctr := range containers {
			ids = append(ids, ctr.ID)
		}
		return ids, nil
	case domain.ScopeNetwork:
		name := scope.NetworkName()
		nw, err := c.cli.NetworkInspect(ctx, name, network.InspectOptions{})
		if err != nil {
			return nil, domain.NewRuntimeQueryError("network inspect", name, err)
		}
		ids := make([]string, 0, len(nw.Containers))
		for id := range nw.Containers {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return ids, nil
	default:
		return nil, domain.NewRuntimeQueryError("list", scope.Name, scope.Validate())
	}
}

func (c *APIClient) AliasesFor(ctx context.Context, id string) ([]string, error) {
	info, err := c.inspect(ctx, id)
	if err != nil {
		return nil, err
	}

	aliases := []string{id}
	if info.ContainerJSONBase != nil {
		aliases = append(aliases, info.ID, shortID(info.ID), strings.TrimPrefix(info.Name, "/"))
	}
	if info.Config != nil {
		for _, label := range aliasLabels {
			aliases = append(aliases, info.Config.Labels[label])
		}
		aliases = append(aliases, info.Config.Hostname, fqdn(info.Config.Hostname, info.Config.Domainname))
	}
	if info.NetworkSettings != nil {
		for _, name := range sortedNetworkNames(info.NetworkSettings.Networks) {
			endpoint := info.NetworkSettings.Networks[name]
			if endpoint == nil {
				continue
			}
			aliases = append(aliases, endpoint.Aliases...)
			aliases = append(aliases, endpoint.DNSNames...)
		}
	}
	return domain.NormalizeAliases(id, aliases), nil
}

func (c *APIClient) AddressFor(ctx context.Context, id, preferredNetwork string) (netip.Addr, bool, error) {
	info, err := c.inspect(ctx, id)
	if err != nil {
		return netip.Addr{}, false, err
	}
	byNetwork := map[string]string{}
	if info.NetworkSettings != nil {
		for name, endpoint := range info.NetworkSettings.Networks {
			if endpoint != nil {
				byNetwork[name] = endpoint.IPAddress
			}
		}
	}
	addr, ok, err := parseAddress(pickAddress(byNetwork, preferredNetwork))
	if err != nil {
		return netip.Addr{}, false, domain.NewRuntimeQueryError("inspect", id, err)
	}
	if !ok {
		c.logger.Debug().Str("container", id).Msg("Container has no address")
	}
	return addr, ok, nil
}

func (c *APIClient) inspect(ctx context.Context, id string) (container.InspectResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	info, err := c.cli.ContainerInspect(ctx, id)
	if err != nil {
		return container.InspectResponse{}, domain.NewRuntimeQueryError("inspect", id, err)
	}
	return info, nil
}

func sortedNetworkNames[V any](networks map[string]V) []string {
	names := make([]string, 0, len(networks))
	for name := range networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
