package domain

import (
	"net/netip"
	"strings"
)

// ContainerRecord holds the identity facts of one container in scope.
type ContainerRecord struct {
	ID      string
	Aliases []string
	Address netip.Addr // zero value when the container has no address
}

func NewContainerRecord(id string, aliases []string, address netip.Addr) ContainerRecord {
	return ContainerRecord{
		ID:      id,
		Aliases: NormalizeAliases(id, aliases),
		Address: address,
	}
}

func (c ContainerRecord) HasAddress() bool {
	return c.Address.IsValid()
}

func (c ContainerRecord) HasAlias(host string) bool {
	for _, alias := range c.Aliases {
		if alias == host {
			return true
		}
	}
	return false
}

// NormalizeAliases puts the ID first, trims whitespace and leading slashes,
// and drops blanks and duplicates while keeping first-seen order.
func NormalizeAliases(id string, aliases []string) []string {
	out := make([]string, 0, len(aliases)+1)
	seen := make(map[string]struct{}, len(aliases)+1)
	add := func(alias string) {
		alias = strings.TrimLeft(strings.TrimSpace(alias), "/")
		if alias == "" {
			return
		}
		if _, ok := seen[alias]; ok {
			return
		}
		seen[alias] = struct{}{}
		out = append(out, alias)
	}
	add(id)
	for _, alias := range aliases {
		add(alias)
	}
	return out
}

// PortMapping is one published port of a running container.
type PortMapping struct {
	Container   string
	PrivatePort uint16
	Protocol    string
	HostIP      string
	PublicPort  uint16
}
