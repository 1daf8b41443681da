package directory

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/auto-dns/docker-proxy/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// RuntimeClient runs the three container runtime queries a directory needs.
type RuntimeClient interface {
	ListMemberIDs(ctx context.Context, scope domain.Scope) ([]string, error)
	AliasesFor(ctx context.Context, id string) ([]string, error)
	// AddressFor prefers the address on network; ok is false for a
	// container without an address.
	AddressFor(ctx context.Context, id, network string) (addr netip.Addr, ok bool, err error)
}

// Directory answers hostname/address questions for one scope.
type Directory interface {
	LookupAddressForHost(ctx context.Context, host string) (netip.Addr, bool, error)
	LookupHostForAddress(ctx context.Context, ip string) (string, bool, error)
	NetworkName() string
}

const defaultConcurrency = 4

// ScopedDirectory queries the runtime on every call. It keeps no state
// between calls.
type ScopedDirectory struct {
	client      RuntimeClient
	scope       domain.Scope
	concurrency int
	logger      zerolog.Logger
}

type Option func(*ScopedDirectory)

// WithConcurrency bounds the number of per-container queries in flight.
func WithConcurrency(n int) Option {
	return func(d *ScopedDirectory) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

func New(client RuntimeClient, scope domain.Scope, logger zerolog.Logger, opts ...Option) *ScopedDirectory {
	d := &ScopedDirectory{
		client:      client,
		scope:       scope,
		concurrency: defaultConcurrency,
		logger:      logger.With().Str("scope", scope.String()).Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *ScopedDirectory) NetworkName() string {
	return d.scope.NetworkName()
}

func (d *ScopedDirectory) Scope() domain.Scope {
	return d.scope
}

// Snapshot enumerates the scope and builds a fresh index from it.
func (d *ScopedDirectory) Snapshot(ctx context.Context) (*domain.HostAddressIndex, error) {
	ids, err := d.client.ListMemberIDs(ctx, d.scope)
	if err != nil {
		return nil, fmt.Errorf("list containers in %s: %w", d.scope, err)
	}

	records := make([]domain.ContainerRecord, len(ids))
	network := d.scope.NetworkName()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			aliases, err := d.client.AliasesFor(gctx, id)
			if err != nil {
				return fmt.Errorf("aliases for %s: %w", id, err)
			}
			addr, ok, err := d.client.AddressFor(gctx, id, network)
			if err != nil {
				return fmt.Errorf("address for %s: %w", id, err)
			}
			if !ok {
				addr = netip.Addr{}
			}
			records[i] = domain.NewContainerRecord(id, aliases, addr)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d.logger.Debug().Int("containers", len(records)).Msg("Queried container directory")
	return domain.NewHostAddressIndex(records), nil
}

func (d *ScopedDirectory) LookupAddressForHost(ctx context.Context, host string) (netip.Addr, bool, error) {
	idx, err := d.Snapshot(ctx)
	if err != nil {
		return netip.Addr{}, false, err
	}
	addr, ok := idx.AddressFor(host)
	return addr, ok, nil
}

func (d *ScopedDirectory) LookupHostForAddress(ctx context.Context, ip string) (string, bool, error) {
	// Nothing but an IPv4 literal can be a container address.
	if addr, err := netip.ParseAddr(ip); err != nil || !addr.Is4() {
		return "", false, nil
	}
	idx, err := d.Snapshot(ctx)
	if err != nil {
		return "", false, err
	}
	host, ok := idx.HostFor(ip)
	return host, ok, nil
}
