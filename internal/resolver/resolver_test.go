package resolver

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/auto-dns/docker-proxy/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDirectory struct {
	hosts map[string]netip.Addr
	addrs map[string]string
	err   error
}

func (s stubDirectory) LookupAddressForHost(_ context.Context, host string) (netip.Addr, bool, error) {
	if s.err != nil {
		return netip.Addr{}, false, s.err
	}
	addr, ok := s.hosts[host]
	return addr, ok, nil
}

func (s stubDirectory) LookupHostForAddress(_ context.Context, ip string) (string, bool, error) {
	if s.err != nil {
		return "", false, s.err
	}
	host, ok := s.addrs[ip]
	return host, ok, nil
}

func demoDirectory() stubDirectory {
	return stubDirectory{
		hosts: map[string]netip.Addr{"webserver": netip.MustParseAddr("10.0.0.5")},
		addrs: map[string]string{"10.0.0.5": "webserver"},
	}
}

func TestResolveHost(t *testing.T) {
	r := New(demoDirectory())

	addrs, err := r.ResolveHost(context.Background(), "webserver")
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("10.0.0.5")}, addrs)

	_, err = r.ResolveHost(context.Background(), "www.example.com")
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))
}

func TestResolveAddress(t *testing.T) {
	r := New(demoDirectory())

	host, err := r.ResolveAddress(context.Background(), "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, "webserver", host)

	_, err = r.ResolveAddress(context.Background(), "10.0.0.6")
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))
}

func TestResolverKeepsRuntimeFailuresDistinct(t *testing.T) {
	failure := domain.NewRuntimeQueryError("ps", "demo", errors.New("exit status 1"))
	r := New(stubDirectory{err: failure})

	_, err := r.ResolveHost(context.Background(), "webserver")
	require.Error(t, err)
	assert.False(t, domain.IsNotFound(err))
	assert.True(t, domain.IsRuntimeQueryError(err))

	_, err = r.ResolveAddress(context.Background(), "10.0.0.5")
	assert.ErrorIs(t, err, failure)
}
