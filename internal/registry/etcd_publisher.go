package registry

import (
	"context"
	"fmt"
	"net/netip"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/auto-dns/docker-proxy/internal/config"
	"github.com/auto-dns/docker-proxy/internal/domain"
	"github.com/auto-dns/docker-proxy/internal/util"
	"github.com/rs/zerolog"
)

// etcd rejects transactions with more than 128 operations by default.
const maxTxnOps = 64

var labelPattern = regexp.MustCompile(`^[a-z0-9_]([a-z0-9_-]{0,61}[a-z0-9_])?$`)

type etcdClient interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Grant(ctx context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error)
	Txn(ctx context.Context) clientv3.Txn
	Revoke(ctx context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error)
	Close() error
}

// Publisher exports a host index for processes that cannot use the
// in-process hooks.
type Publisher interface {
	Publish(ctx context.Context, idx *domain.HostAddressIndex) error
	List(ctx context.Context) ([]domain.IndexEntry, error)
	Withdraw(ctx context.Context) error
	Close() error
}

// EtcdPublisher writes one SkyDNS record per hostname. Every publish goes
// under a fresh lease and the previous lease is revoked afterwards, which
// drops names that disappeared since the last round.
type EtcdPublisher struct {
	client   etcdClient
	cfg      *config.EtcdConfig
	hostname string
	network  string
	logger   zerolog.Logger

	mu    sync.Mutex
	lease clientv3.LeaseID
}

func NewEtcdPublisher(client etcdClient, cfg *config.EtcdConfig, hostname, network string, logger zerolog.Logger) *EtcdPublisher {
	return &EtcdPublisher{
		client:   client,
		cfg:      cfg,
		hostname: hostname,
		network:  network,
		logger:   logger.With().Str("component", "etcd_publisher").Logger(),
	}
}

func (p *EtcdPublisher) fqdn(host string) string {
	return strings.ToLower(host) + "." + strings.Trim(p.cfg.Domain, ".")
}

func validHostname(host string) bool {
	for _, label := range strings.Split(strings.ToLower(host), ".") {
		if !labelPattern.MatchString(label) {
			return false
		}
	}
	return true
}

func (p *EtcdPublisher) Publish(ctx context.Context, idx *domain.HostAddressIndex) error {
	owners := ownersByAddress(idx)
	entries := util.Filter(idx.Entries(), func(e domain.IndexEntry) bool {
		if validHostname(e.Host) {
			return true
		}
		p.logger.Debug().Str("host", e.Host).Msg("Skipping name that is not a DNS name")
		return false
	})

	lease, err := p.client.Grant(ctx, p.cfg.LeaseTTL)
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}

	now := time.Now().UTC()
	ops := make([]clientv3.Op, 0, len(entries))
	for _, e := range entries {
		value, err := marshalEtcdValue(etcdRecord{
			Host:             e.Address.String(),
			TTL:              uint32(p.cfg.LeaseTTL),
			OwnerHostname:    p.hostname,
			OwnerNetwork:     p.network,
			OwnerContainerID: owners[e.Address],
			Created:          now,
		})
		if err != nil {
			return err
		}
		ops = append(ops, clientv3.OpPut(keyForFQDN(p.cfg.PathPrefix, p.fqdn(e.Host)), value, clientv3.WithLease(lease.ID)))
	}

	for _, chunk := range util.Chunk(ops, maxTxnOps) {
		if _, err := p.client.Txn(ctx).Then(chunk...).Commit(); err != nil {
			p.revoke(ctx, lease.ID)
			return fmt.Errorf("write %d records: %w", len(chunk), err)
		}
	}

	p.mu.Lock()
	previous := p.lease
	p.lease = lease.ID
	p.mu.Unlock()
	if previous != 0 {
		p.revoke(ctx, previous)
	}

	p.logger.Debug().Int("records", len(ops)).Msg("Published host index")
	return nil
}

// List reads back every record under the prefix and domain.
func (p *EtcdPublisher) List(ctx context.Context) ([]domain.IndexEntry, error) {
	base := keyBaseForFQDN(p.cfg.PathPrefix, strings.Trim(p.cfg.Domain, "."))
	resp, err := p.client.Get(ctx, base+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	suffix := "." + strings.Trim(p.cfg.Domain, ".")
	var out []domain.IndexEntry
	for _, kv := range resp.Kvs {
		key := string(kv.Key)
		_, addr, err := unmarshalEtcdValue(kv.Value)
		if err != nil {
			p.logger.Warn().Err(err).Str("key", key).Msg("Could not parse record")
			continue
		}
		host := strings.TrimSuffix(fqdnFromKey(p.cfg.PathPrefix, key), suffix)
		out = append(out, domain.IndexEntry{Host: host, Address: addr})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out, nil
}

// Withdraw deletes everything the last Publish wrote.
func (p *EtcdPublisher) Withdraw(ctx context.Context) error {
	p.mu.Lock()
	lease := p.lease
	p.lease = 0
	p.mu.Unlock()
	if lease == 0 {
		return nil
	}
	if _, err := p.client.Revoke(ctx, lease); err != nil {
		return fmt.Errorf("revoke lease %x: %w", lease, err)
	}
	return nil
}

func (p *EtcdPublisher) revoke(ctx context.Context, lease clientv3.LeaseID) {
	if _, err := p.client.Revoke(ctx, lease); err != nil {
		p.logger.Warn().Err(err).Msgf("failed to revoke lease %x", lease)
	}
}

func (p *EtcdPublisher) Close() error {
	return p.client.Close()
}

func ownersByAddress(idx *domain.HostAddressIndex) map[netip.Addr]string {
	owners := make(map[netip.Addr]string)
	for _, rec := range idx.Records() {
		if !rec.HasAddress() {
			continue
		}
		if _, seen := owners[rec.Address]; !seen {
			owners[rec.Address] = rec.ID
		}
	}
	return owners
}
