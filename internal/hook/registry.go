package hook

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auto-dns/docker-proxy/internal/domain"
	"github.com/auto-dns/docker-proxy/internal/resolver"
	"github.com/auto-dns/docker-proxy/internal/route"
	"github.com/auto-dns/docker-proxy/internal/util"
	"github.com/rs/zerolog"
)

// Default is the process-wide hook point used by the session and the HTTP
// transport it hands out.
var Default = NewRegistry(nil, zerolog.Nop())

type systemResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

type resolverSlot struct {
	resolver resolver.Resolver
}

type selectorSlot struct {
	selector route.Delegate
}

// Registry holds the installed resolver and proxy selector. Lookups go to
// the installed resolver first and fall back to the system resolver on a
// miss.
type Registry struct {
	resolver atomic.Pointer[resolverSlot]
	selector atomic.Pointer[selectorSlot]
	enabled  atomic.Bool
	system   systemResolver
	fallback route.Delegate
	dialer   *net.Dialer

	mu     sync.Mutex
	logger zerolog.Logger
}

func NewRegistry(system systemResolver, logger zerolog.Logger) *Registry {
	if system == nil {
		system = net.DefaultResolver
	}
	r := &Registry{
		system:   system,
		fallback: route.EnvironmentDelegate{Logger: logger},
		dialer:   &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second},
		logger:   logger.With().Str("component", "hook").Logger(),
	}
	r.enabled.Store(true)
	return r
}

// SetLogger replaces the logger. Meant for startup, before hooks are used.
func (r *Registry) SetLogger(logger zerolog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger.With().Str("component", "hook").Logger()
	r.fallback = route.EnvironmentDelegate{Logger: logger}
}

// SetEnabled turns the installed resolver on or off without uninstalling it.
func (r *Registry) SetEnabled(enabled bool) {
	r.enabled.Store(enabled)
}

// InstallResolver makes res the active resolver. The returned func puts
// back whatever was installed before.
func (r *Registry) InstallResolver(res resolver.Resolver) (restore func()) {
	prev := r.resolver.Swap(&resolverSlot{resolver: res})
	return func() {
		r.resolver.Store(prev)
	}
}

// CurrentSelector returns the installed selector, or the environment based
// one when nothing is installed.
func (r *Registry) CurrentSelector() route.Delegate {
	if slot := r.selector.Load(); slot != nil && slot.selector != nil {
		return slot.selector
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fallback
}

func (r *Registry) InstallSelector(sel route.Delegate) (restore func()) {
	prev := r.selector.Swap(&selectorSlot{selector: sel})
	return func() {
		r.selector.Store(prev)
	}
}

func (r *Registry) installed() resolver.Resolver {
	if !r.enabled.Load() {
		return nil
	}
	if slot := r.resolver.Load(); slot != nil {
		return slot.resolver
	}
	return nil
}

// LookupHost has the shape of net.Resolver.LookupHost.
func (r *Registry) LookupHost(ctx context.Context, host string) ([]string, error) {
	if res := r.installed(); res != nil {
		addrs, err := res.ResolveHost(ctx, host)
		switch {
		case err == nil:
			return util.Map(addrs, netip.Addr.String), nil
		case !domain.IsNotFound(err):
			return nil, err
		}
	}
	return r.system.LookupHost(ctx, host)
}

// LookupAddr has the shape of net.Resolver.LookupAddr.
func (r *Registry) LookupAddr(ctx context.Context, addr string) ([]string, error) {
	if res := r.installed(); res != nil {
		host, err := res.ResolveAddress(ctx, addr)
		switch {
		case err == nil:
			return []string{host}, nil
		case !domain.IsNotFound(err):
			return nil, err
		}
	}
	return r.system.LookupAddr(ctx, addr)
}

func (r *Registry) Proxy(req *http.Request) (*url.URL, error) {
	return r.CurrentSelector().Proxy(req)
}

// DialContext resolves container names through the registry before dialing,
// so direct connections reach containers too.
func (r *Registry) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	dialer := r.dialer
	if net.ParseIP(host) != nil {
		return dialer.DialContext(ctx, network, address)
	}
	addrs, err := r.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	var lastErr error
	for _, a := range addrs {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(a, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = &net.DNSError{Err: "no addresses", Name: host, IsNotFound: true}
	}
	return nil, lastErr
}

// Transport returns an HTTP transport whose proxy choice and name
// resolution follow whatever is installed at request time.
func (r *Registry) Transport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = r.Proxy
	t.DialContext = r.DialContext
	return t
}
