package route

import (
	"context"
	"net/http"
	"net/netip"
	"net/url"

	"github.com/auto-dns/docker-proxy/internal/domain"
	"github.com/rs/zerolog"
)

type Kind int

const (
	KindDelegate Kind = iota
	KindViaRelay
)

func (k Kind) String() string {
	if k == KindViaRelay {
		return "via-relay"
	}
	return "delegate"
}

// Decision says how a connection to one destination should be made. Relay
// is set only for KindViaRelay.
type Decision struct {
	Kind  Kind
	Relay string
}

func (d Decision) ViaRelay() bool {
	return d.Kind == KindViaRelay
}

func (d Decision) String() string {
	if d.ViaRelay() {
		return d.Kind.String() + " " + d.Relay
	}
	return d.Kind.String()
}

// Delegate is the proxy selector that was in place before ours. *Selector
// satisfies it too, so selectors can be stacked.
type Delegate interface {
	Proxy(req *http.Request) (*url.URL, error)
	ConnectFailed(dest, relay string, cause error) error
}

type directory interface {
	LookupAddressForHost(ctx context.Context, host string) (netip.Addr, bool, error)
	LookupHostForAddress(ctx context.Context, ip string) (string, bool, error)
}

// Selector sends traffic for known containers through the relay and hands
// everything else to the delegate.
type Selector struct {
	dir      directory
	relay    string
	delegate Delegate
	logger   zerolog.Logger
}

func NewSelector(dir directory, relay string, delegate Delegate, logger zerolog.Logger) *Selector {
	if delegate == nil {
		delegate = EnvironmentDelegate{Logger: logger}
	}
	return &Selector{
		dir:      dir,
		relay:    relay,
		delegate: delegate,
		logger:   logger.With().Str("relay", relay).Logger(),
	}
}

func (s *Selector) Relay() string {
	return s.relay
}

func (s *Selector) Delegate() Delegate {
	return s.delegate
}

// SelectRoute checks dest as a hostname and then as an address. Runtime
// failures are returned rather than treated as a miss.
func (s *Selector) SelectRoute(ctx context.Context, dest string) (Decision, error) {
	if _, ok, err := s.dir.LookupAddressForHost(ctx, dest); err != nil {
		return Decision{}, err
	} else if ok {
		return s.viaRelay(dest), nil
	}
	if _, ok, err := s.dir.LookupHostForAddress(ctx, dest); err != nil {
		return Decision{}, err
	} else if ok {
		return s.viaRelay(dest), nil
	}
	s.logger.Trace().Str("dest", dest).Msg("Destination is not a container, delegating")
	return Decision{Kind: KindDelegate}, nil
}

func (s *Selector) viaRelay(dest string) Decision {
	s.logger.Trace().Str("dest", dest).Msg("Routing through relay")
	return Decision{Kind: KindViaRelay, Relay: s.relay}
}

// Proxy has the signature of http.Transport.Proxy.
func (s *Selector) Proxy(req *http.Request) (*url.URL, error) {
	decision, err := s.SelectRoute(req.Context(), req.URL.Hostname())
	if err != nil {
		return nil, err
	}
	if !decision.ViaRelay() {
		return s.delegate.Proxy(req)
	}
	return &url.URL{Scheme: "socks5", Host: decision.Relay}, nil
}

// ConnectFailed forwards a failed connection report to the delegate.
func (s *Selector) ConnectFailed(dest, relay string, cause error) error {
	switch {
	case dest == "":
		return domain.NewInvalidArgumentError("destination must not be empty")
	case relay == "":
		return domain.NewInvalidArgumentError("relay address must not be empty")
	case cause == nil:
		return domain.NewInvalidArgumentError("failure cause must not be nil")
	}
	return s.delegate.ConnectFailed(dest, relay, cause)
}

// EnvironmentDelegate routes by the HTTP_PROXY family of variables.
type EnvironmentDelegate struct {
	Logger zerolog.Logger
}

func (d EnvironmentDelegate) Proxy(req *http.Request) (*url.URL, error) {
	return http.ProxyFromEnvironment(req)
}

func (d EnvironmentDelegate) ConnectFailed(dest, relay string, cause error) error {
	d.Logger.Warn().Err(cause).Str("dest", dest).Str("relay", relay).Msg("Connection through proxy failed")
	return nil
}
