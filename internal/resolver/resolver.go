package resolver

import (
	"context"
	"net/netip"

	"github.com/auto-dns/docker-proxy/internal/domain"
)

type directory interface {
	LookupAddressForHost(ctx context.Context, host string) (netip.Addr, bool, error)
	LookupHostForAddress(ctx context.Context, ip string) (string, bool, error)
}

// Resolver is what a name resolution hook calls into.
type Resolver interface {
	ResolveHost(ctx context.Context, host string) ([]netip.Addr, error)
	ResolveAddress(ctx context.Context, ip string) (string, error)
}

// AddressResolver turns directory answers into resolution results. A miss
// is a *domain.NotFoundError; runtime failures are returned untouched.
type AddressResolver struct {
	dir directory
}

func New(dir directory) *AddressResolver {
	return &AddressResolver{dir: dir}
}

func (r *AddressResolver) ResolveHost(ctx context.Context, host string) ([]netip.Addr, error) {
	addr, ok, err := r.dir.LookupAddressForHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.NewNotFoundError(host)
	}
	return []netip.Addr{addr}, nil
}

func (r *AddressResolver) ResolveAddress(ctx context.Context, ip string) (string, error) {
	host, ok, err := r.dir.LookupHostForAddress(ctx, ip)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.NewNotFoundError(ip)
	}
	return host, nil
}
