package directory

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"

	"github.com/auto-dns/docker-proxy/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeContainer struct {
	aliases []string
	address string
}

type fakeRuntime struct {
	mu         sync.Mutex
	members    map[domain.Scope][]string
	containers map[string]fakeContainer
	listErr    error
	addrErr    error
	listCalls  int
	networks   []string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		members:    make(map[domain.Scope][]string),
		containers: make(map[string]fakeContainer),
	}
}

func (f *fakeRuntime) ListMemberIDs(_ context.Context, scope domain.Scope) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]string(nil), f.members[scope]...), nil
}

func (f *fakeRuntime) AliasesFor(_ context.Context, id string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return nil, domain.NewRuntimeQueryError("inspect", id, errors.New("no such container"))
	}
	return c.aliases, nil
}

func (f *fakeRuntime) AddressFor(_ context.Context, id, network string) (netip.Addr, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks = append(f.networks, network)
	if f.addrErr != nil {
		return netip.Addr{}, false, f.addrErr
	}
	c := f.containers[id]
	if c.address == "" {
		return netip.Addr{}, false, nil
	}
	return netip.MustParseAddr(c.address), true, nil
}

func demoRuntime() (*fakeRuntime, domain.Scope) {
	scope := domain.ProjectScope("demo")
	rt := newFakeRuntime()
	rt.members[scope] = []string{"c1", "c2"}
	rt.containers["c1"] = fakeContainer{aliases: []string{"webserver", "web"}, address: "10.0.0.5"}
	rt.containers["c2"] = fakeContainer{aliases: []string{"db"}}
	return rt, scope
}

func TestScopedDirectoryScenario(t *testing.T) {
	rt, scope := demoRuntime()
	dir := New(rt, scope, zerolog.Nop())
	ctx := context.Background()

	addr, ok, err := dir.LookupAddressForHost(ctx, "webserver")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", addr.String())

	addr, ok, err = dir.LookupAddressForHost(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", addr.String())

	_, ok, err = dir.LookupAddressForHost(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, ok)

	host, ok, err := dir.LookupHostForAddress(ctx, "10.0.0.5")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, []string{"c1", "webserver", "web"}, host)

	assert.Equal(t, "demo_default", dir.NetworkName())
	for _, network := range rt.networks {
		assert.Equal(t, "demo_default", network)
	}
}

func TestScopedDirectoryStoppedContainerIsAbsentNotError(t *testing.T) {
	rt, scope := demoRuntime()
	dir := New(rt, scope, zerolog.Nop())

	_, ok, err := dir.LookupAddressForHost(context.Background(), "db")
	require.NoError(t, err)
	assert.False(t, ok)

	idx, err := dir.Snapshot(context.Background())
	require.NoError(t, err)
	for _, entry := range idx.Entries() {
		assert.NotEqual(t, "db", entry.Host)
		assert.NotEqual(t, "c2", entry.Host)
	}
	assert.Len(t, idx.Records(), 2)
}

func TestScopedDirectoryReverseSkipsNonAddresses(t *testing.T) {
	rt, scope := demoRuntime()
	dir := New(rt, scope, zerolog.Nop())

	_, ok, err := dir.LookupHostForAddress(context.Background(), "www.example.com")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, rt.listCalls)
}

func TestScopedDirectoryPropagatesRuntimeFailures(t *testing.T) {
	rt, scope := demoRuntime()
	rt.listErr = domain.NewRuntimeQueryError("ps", "", errors.New("exit status 1"))
	dir := New(rt, scope, zerolog.Nop())

	_, _, err := dir.LookupAddressForHost(context.Background(), "webserver")
	require.Error(t, err)
	assert.True(t, domain.IsRuntimeQueryError(err))

	rt.listErr = nil
	rt.addrErr = domain.NewRuntimeQueryError("inspect", "c1", context.DeadlineExceeded)
	_, _, err = dir.LookupHostForAddress(context.Background(), "10.0.0.5")
	require.Error(t, err)
	assert.True(t, domain.IsRuntimeQueryError(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScopedDirectoryNetworkScope(t *testing.T) {
	scope := domain.NetworkScope("backend")
	rt := newFakeRuntime()
	rt.members[scope] = []string{"a", "b"}
	rt.containers["a"] = fakeContainer{aliases: []string{"api"}, address: "172.20.0.2"}
	rt.containers["b"] = fakeContainer{aliases: []string{"api-replica"}, address: "172.20.0.2"}

	dir := New(rt, scope, zerolog.Nop(), WithConcurrency(1))
	host, ok, err := dir.LookupHostForAddress(context.Background(), "172.20.0.2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", host)
	assert.Equal(t, "backend", dir.NetworkName())
}
