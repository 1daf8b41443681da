package registry

import (
	"fmt"
	"strings"

	"github.com/auto-dns/docker-proxy/internal/util"
)

// recordSuffix is the SkyDNS leaf under each name; one address per name.
const recordSuffix = "x1"

func keyBaseForFQDN(prefix, fqdn string) string {
	prefix = strings.TrimRight(prefix, "/")
	trimmed := strings.TrimSuffix(strings.TrimSpace(fqdn), ".")
	parts := util.Reverse(strings.Split(trimmed, "."))
	return fmt.Sprintf("%s/%s", prefix, strings.Join(parts, "/"))
}

func keyForFQDN(prefix, fqdn string) string {
	return keyBaseForFQDN(prefix, fqdn) + "/" + recordSuffix
}

// From a full etcd key to FQDN (handles trailing xNN segment)
func fqdnFromKey(prefix, key string) string {
	prefix = strings.TrimRight(prefix, "/")
	path := strings.TrimPrefix(key, prefix)
	path = strings.TrimPrefix(path, "/")
	parts := strings.Split(path, "/")
	if n := len(parts); n > 0 && strings.HasPrefix(parts[n-1], "x") {
		parts = parts[:n-1]
	}
	return strings.Join(util.Reverse(parts), ".")
}
