package route

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"testing"

	"github.com/auto-dns/docker-proxy/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/proxy"
)

type mapDirectory struct {
	hosts map[string]netip.Addr
	err   error
}

func (m mapDirectory) LookupAddressForHost(_ context.Context, host string) (netip.Addr, bool, error) {
	if m.err != nil {
		return netip.Addr{}, false, m.err
	}
	addr, ok := m.hosts[host]
	return addr, ok, nil
}

func (m mapDirectory) LookupHostForAddress(_ context.Context, ip string) (string, bool, error) {
	if m.err != nil {
		return "", false, m.err
	}
	for host, addr := range m.hosts {
		if addr.String() == ip {
			return host, true, nil
		}
	}
	return "", false, nil
}

type failure struct {
	dest, relay string
	cause       error
}

type recordingDelegate struct {
	proxyURL *url.URL
	failures []failure
}

func (r *recordingDelegate) Proxy(*http.Request) (*url.URL, error) {
	return r.proxyURL, nil
}

func (r *recordingDelegate) ConnectFailed(dest, relay string, cause error) error {
	r.failures = append(r.failures, failure{dest, relay, cause})
	return nil
}

const relayAddr = "127.0.0.1:32768"

func demoSelector(delegate Delegate) *Selector {
	dir := mapDirectory{hosts: map[string]netip.Addr{"webserver": netip.MustParseAddr("10.0.0.5")}}
	return NewSelector(dir, relayAddr, delegate, zerolog.Nop())
}

func TestSelectRoute(t *testing.T) {
	s := demoSelector(&recordingDelegate{})
	ctx := context.Background()

	for _, dest := range []string{"webserver", "10.0.0.5"} {
		d, err := s.SelectRoute(ctx, dest)
		require.NoError(t, err)
		assert.Equal(t, Decision{Kind: KindViaRelay, Relay: relayAddr}, d, dest)
	}

	d, err := s.SelectRoute(ctx, "www.palantir.com")
	require.NoError(t, err)
	assert.Equal(t, KindDelegate, d.Kind)
	assert.Empty(t, d.Relay)
}

func TestSelectRoutePropagatesRuntimeFailure(t *testing.T) {
	dir := mapDirectory{err: domain.NewRuntimeQueryError("ps", "demo", errors.New("daemon down"))}
	s := NewSelector(dir, relayAddr, &recordingDelegate{}, zerolog.Nop())

	_, err := s.SelectRoute(context.Background(), "webserver")
	require.Error(t, err)
	assert.True(t, domain.IsRuntimeQueryError(err))
}

func TestProxy(t *testing.T) {
	upstream := &url.URL{Scheme: "http", Host: "corp-proxy:3128"}
	s := demoSelector(&recordingDelegate{proxyURL: upstream})

	req, err := http.NewRequest(http.MethodGet, "http://webserver:8080/health", nil)
	require.NoError(t, err)
	got, err := s.Proxy(req)
	require.NoError(t, err)
	assert.Equal(t, "socks5://"+relayAddr, got.String())

	req, err = http.NewRequest(http.MethodGet, "https://www.palantir.com/", nil)
	require.NoError(t, err)
	got, err = s.Proxy(req)
	require.NoError(t, err)
	assert.Equal(t, upstream, got)
}

func TestConnectFailed(t *testing.T) {
	delegate := &recordingDelegate{}
	s := demoSelector(delegate)
	cause := errors.New("connection refused")

	require.NoError(t, s.ConnectFailed("webserver:8080", relayAddr, cause))
	require.Len(t, delegate.failures, 1)
	assert.Equal(t, failure{"webserver:8080", relayAddr, cause}, delegate.failures[0])

	for _, tc := range []struct {
		dest, relay string
		cause       error
	}{
		{"", relayAddr, cause},
		{"webserver:8080", "", cause},
		{"webserver:8080", relayAddr, nil},
	} {
		err := s.ConnectFailed(tc.dest, tc.relay, tc.cause)
		require.Error(t, err)
		assert.True(t, domain.IsInvalidArgument(err))
	}
	assert.Len(t, delegate.failures, 1)
}

func TestSelectorsStack(t *testing.T) {
	inner := &recordingDelegate{}
	outer := NewSelector(mapDirectory{}, "127.0.0.1:40000", demoSelector(inner), zerolog.Nop())

	req, err := http.NewRequest(http.MethodGet, "http://webserver/", nil)
	require.NoError(t, err)
	got, err := outer.Proxy(req)
	require.NoError(t, err)
	assert.Equal(t, "socks5://"+relayAddr, got.String())

	require.NoError(t, outer.ConnectFailed("webserver:80", relayAddr, errors.New("reset")))
	assert.Len(t, inner.failures, 1)
}

func TestDialerDirectForUnknownDestination(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		if conn, err := ln.Accept(); err == nil {
			conn.Close()
		}
	}()

	d := NewDialer(demoSelector(&recordingDelegate{}))
	d.socks = func(string, proxy.Dialer) (proxy.Dialer, error) {
		t.Fatal("relay must not be used for non-container destinations")
		return nil, nil
	}

	conn, err := d.DialContext(context.Background(), "tcp", ln.Addr().String())
	require.NoError(t, err)
	conn.Close()
}

type refusingDialer struct{}

func (refusingDialer) Dial(string, string) (net.Conn, error) {
	return nil, errors.New("connection refused")
}

func TestDialerReportsRelayFailure(t *testing.T) {
	delegate := &recordingDelegate{}
	d := NewDialer(demoSelector(delegate))
	var usedRelay string
	d.socks = func(relay string, _ proxy.Dialer) (proxy.Dialer, error) {
		usedRelay = relay
		return refusingDialer{}, nil
	}

	_, err := d.DialContext(context.Background(), "tcp", "webserver:8080")
	require.Error(t, err)
	assert.Equal(t, relayAddr, usedRelay)
	require.Len(t, delegate.failures, 1)
	assert.Equal(t, "webserver:8080", delegate.failures[0].dest)
	assert.Equal(t, relayAddr, delegate.failures[0].relay)
}
