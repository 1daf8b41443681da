package domain

import (
	"net/netip"
	"sort"
)

// HostAddressIndex is an immutable view of one directory query.
type HostAddressIndex struct {
	records []ContainerRecord
	byHost  map[string]netip.Addr
	byAddr  map[netip.Addr]string
}

type IndexEntry struct {
	Host    string
	Address netip.Addr
}

// NewHostAddressIndex builds both directions from records in enumeration
// order. The first container holding an alias or an address wins.
func NewHostAddressIndex(records []ContainerRecord) *HostAddressIndex {
	idx := &HostAddressIndex{
		records: append([]ContainerRecord(nil), records...),
		byHost:  make(map[string]netip.Addr),
		byAddr:  make(map[netip.Addr]string),
	}
	for _, rec := range idx.records {
		if !rec.HasAddress() {
			continue
		}
		for _, alias := range rec.Aliases {
			if _, taken := idx.byHost[alias]; !taken {
				idx.byHost[alias] = rec.Address
			}
		}
		if _, taken := idx.byAddr[rec.Address]; !taken && len(rec.Aliases) > 0 {
			idx.byAddr[rec.Address] = rec.Aliases[0]
		}
	}
	return idx
}

func (i *HostAddressIndex) AddressFor(host string) (netip.Addr, bool) {
	addr, ok := i.byHost[host]
	return addr, ok
}

// HostFor accepts the textual address; anything that is not an IPv4
// literal is simply absent.
func (i *HostAddressIndex) HostFor(ip string) (string, bool) {
	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Is4() {
		return "", false
	}
	host, ok := i.byAddr[addr]
	return host, ok
}

func (i *HostAddressIndex) Records() []ContainerRecord {
	return append([]ContainerRecord(nil), i.records...)
}

// Entries lists every alias with its address, sorted by alias.
func (i *HostAddressIndex) Entries() []IndexEntry {
	entries := make([]IndexEntry, 0, len(i.byHost))
	for host, addr := range i.byHost {
		entries = append(entries, IndexEntry{Host: host, Address: addr})
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].Host < entries[b].Host })
	return entries
}

func (i *HostAddressIndex) Len() int {
	return len(i.byHost)
}
