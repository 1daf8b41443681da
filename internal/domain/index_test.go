package domain

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeNetworkName(t *testing.T) {
	tests := []struct {
		name  string
		scope Scope
		want  string
	}{
		{"project", ProjectScope("demo"), "demo_default"},
		{"network", NetworkScope("backend"), "backend"},
		{"project override", ProjectScope("demo").WithNetwork("shared"), "shared"},
		{"network override", NetworkScope("backend").WithNetwork("other"), "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.scope.NetworkName())
		})
	}
}

func TestScopeValidate(t *testing.T) {
	require.NoError(t, ProjectScope("demo").Validate())
	require.Error(t, ProjectScope(" ").Validate())
	require.Error(t, Scope{Kind: "swarm", Name: "x"}.Validate())

	kind, err := ParseScopeKind(" Network ")
	require.NoError(t, err)
	assert.Equal(t, ScopeNetwork, kind)

	_, err = ParseScopeKind("pod")
	require.Error(t, err)
}

func TestNormalizeAliasesKeepsIDFirst(t *testing.T) {
	got := NormalizeAliases("c1", []string{"/demo-web-1", "web", "", "c1", " web ", "webserver"})
	assert.Equal(t, []string{"c1", "demo-web-1", "web", "webserver"}, got)
}

func TestHostAddressIndexScenario(t *testing.T) {
	addr := netip.MustParseAddr("10.0.0.5")
	idx := NewHostAddressIndex([]ContainerRecord{
		NewContainerRecord("c1", []string{"webserver", "web"}, addr),
	})

	got, ok := idx.AddressFor("webserver")
	require.True(t, ok)
	assert.Equal(t, addr, got)

	got, ok = idx.AddressFor("c1")
	require.True(t, ok)
	assert.Equal(t, addr, got)

	_, ok = idx.AddressFor("unknown")
	assert.False(t, ok)

	host, ok := idx.HostFor("10.0.0.5")
	require.True(t, ok)
	assert.Contains(t, []string{"c1", "webserver", "web"}, host)

	_, ok = idx.HostFor("webserver")
	assert.False(t, ok)
}

func TestHostAddressIndexSkipsStoppedContainers(t *testing.T) {
	idx := NewHostAddressIndex([]ContainerRecord{
		NewContainerRecord("stopped", []string{"db"}, netip.Addr{}),
		NewContainerRecord("running", []string{"db", "cache"}, netip.MustParseAddr("10.0.0.7")),
	})

	addr, ok := idx.AddressFor("db")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.7", addr.String())

	_, ok = idx.AddressFor("stopped")
	assert.False(t, ok)

	for _, entry := range idx.Entries() {
		assert.NotEqual(t, "stopped", entry.Host)
	}
}

func TestHostAddressIndexFirstEnumeratedWins(t *testing.T) {
	shared := netip.MustParseAddr("10.0.0.9")
	idx := NewHostAddressIndex([]ContainerRecord{
		NewContainerRecord("first", []string{"alpha"}, shared),
		NewContainerRecord("second", []string{"beta", "alpha"}, netip.MustParseAddr("10.0.0.10")),
	})

	host, ok := idx.HostFor("10.0.0.9")
	require.True(t, ok)
	assert.Equal(t, "first", host)

	addr, ok := idx.AddressFor("alpha")
	require.True(t, ok)
	assert.Equal(t, shared, addr)

	assert.Equal(t, 4, idx.Len())
	entries := idx.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, "alpha", entries[0].Host)
}

func TestErrorClassification(t *testing.T) {
	runtimeErr := NewRuntimeQueryError("inspect", "c1", assert.AnError)
	assert.True(t, IsRuntimeQueryError(runtimeErr))
	assert.ErrorIs(t, runtimeErr, assert.AnError)
	assert.False(t, IsNotFound(runtimeErr))

	notFound := NewNotFoundError("web")
	assert.True(t, IsNotFound(notFound))
	assert.False(t, IsRuntimeQueryError(notFound))

	cfgErr := NewConfigurationError("start the group first", runtimeErr)
	assert.True(t, IsConfigurationError(cfgErr))
	assert.True(t, IsRuntimeQueryError(cfgErr))

	assert.True(t, IsInvalidArgument(NewInvalidArgumentError("bad")))
}
