package directory

import (
	"context"
	"net/netip"
	"time"

	"github.com/rs/zerolog"
)

// DefaultRefreshInterval stays clear of 5/10/15s multiples by at least 2s,
// with a runtime query taking up to about a second.
const DefaultRefreshInterval = 53 * time.Second

// CachingDirectory decorates a Directory with independent forward and
// reverse caches. The reverse cache refreshes four times as often.
// If refreshing fails for four refresh intervals in a row the entry is
// dropped and the next call gets either fresh data or the error.
type CachingDirectory struct {
	delegate Directory
	forward  *refreshCache[netip.Addr]
	reverse  *refreshCache[string]
}

type CachingOption func(*cachingOptions)

type cachingOptions struct {
	refresh time.Duration
	now     func() time.Time
}

func WithRefreshInterval(d time.Duration) CachingOption {
	return func(o *cachingOptions) {
		if d > 0 {
			o.refresh = d
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) CachingOption {
	return func(o *cachingOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func NewCaching(delegate Directory, logger zerolog.Logger, opts ...CachingOption) *CachingDirectory {
	o := cachingOptions{refresh: DefaultRefreshInterval, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	expire := 4 * o.refresh
	logger = logger.With().Str("component", "caching_directory").Logger()

	return &CachingDirectory{
		delegate: delegate,
		forward:  newRefreshCache[netip.Addr]("forward", o.refresh, expire, o.now, delegate.LookupAddressForHost, logger),
		reverse:  newRefreshCache[string]("reverse", o.refresh/4, expire, o.now, delegate.LookupHostForAddress, logger),
	}
}

func (c *CachingDirectory) LookupAddressForHost(ctx context.Context, host string) (netip.Addr, bool, error) {
	return c.forward.get(ctx, host)
}

func (c *CachingDirectory) LookupHostForAddress(ctx context.Context, ip string) (string, bool, error) {
	return c.reverse.get(ctx, ip)
}

func (c *CachingDirectory) NetworkName() string {
	return c.delegate.NetworkName()
}

// Invalidate drops any cached answer for key in both directions.
func (c *CachingDirectory) Invalidate(key string) {
	c.forward.invalidate(key)
	c.reverse.invalidate(key)
}

// InvalidateAll drops every cached answer, e.g. after a container in the
// scope started or stopped.
func (c *CachingDirectory) InvalidateAll() {
	c.forward.clear()
	c.reverse.clear()
}
