package registry

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// etcdRecord is the SkyDNS value CoreDNS's etcd plugin reads. The owner
// fields are ignored by CoreDNS and identify which session wrote the key.
type etcdRecord struct {
	Host             string    `json:"host"`
	TTL              uint32    `json:"ttl,omitempty"`
	OwnerHostname    string    `json:"owner_hostname"`
	OwnerNetwork     string    `json:"owner_network"`
	OwnerContainerID string    `json:"owner_container_id,omitempty"`
	Created          time.Time `json:"created"`
}

func marshalEtcdValue(rec etcdRecord) (string, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalEtcdValue(raw []byte) (etcdRecord, netip.Addr, error) {
	var wire etcdRecord
	if err := json.Unmarshal(raw, &wire); err != nil {
		return etcdRecord{}, netip.Addr{}, fmt.Errorf("decode etcd value: %w", err)
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(wire.Host))
	if err != nil || !addr.Is4() {
		return etcdRecord{}, netip.Addr{}, fmt.Errorf("etcd value host %q is not an IPv4 address", wire.Host)
	}
	return wire, addr, nil
}
