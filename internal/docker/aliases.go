package docker

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"
)

const (
	composeServiceLabel = "com.docker.compose.service"
	hostnameLabel       = "hostname"
	shortIDLength       = 12
)

// aliasLabels are the container labels whose values count as names.
var aliasLabels = []string{composeServiceLabel, hostnameLabel}

func shortID(id string) string {
	if len(id) > shortIDLength {
		return id[:shortIDLength]
	}
	return id
}

// fqdn joins hostname and domain name, or returns "" without a domain.
func fqdn(hostname, domainname string) string {
	hostname = strings.TrimSpace(hostname)
	domainname = strings.Trim(strings.TrimSpace(domainname), ".")
	if hostname == "" || domainname == "" {
		return ""
	}
	return hostname + "." + domainname
}

// parseAddress turns raw runtime output into an optional IPv4 address.
// Blank output means the container has no address.
func parseAddress(raw string) (netip.Addr, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return netip.Addr{}, false, nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil || !addr.Is4() {
		return netip.Addr{}, false, fmt.Errorf("IP address is not valid: %q", raw)
	}
	return addr, true, nil
}

// pickAddress prefers the address on the preferred network, then the first
// non-empty address by network name.
func pickAddress(byNetwork map[string]string, preferred string) string {
	if ip := strings.TrimSpace(byNetwork[preferred]); ip != "" {
		return ip
	}
	names := make([]string, 0, len(byNetwork))
	for name := range byNetwork {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if ip := strings.TrimSpace(byNetwork[name]); ip != "" {
			return ip
		}
	}
	return ""
}
