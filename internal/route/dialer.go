package route

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"
)

// Dialer dials container destinations through the relay's SOCKS5 port and
// everything else directly.
type Dialer struct {
	Selector *Selector
	Direct   *net.Dialer
	// socks builds the relay dialer; swapped in tests.
	socks func(relay string, forward proxy.Dialer) (proxy.Dialer, error)
}

func NewDialer(selector *Selector) *Dialer {
	return &Dialer{
		Selector: selector,
		Direct:   &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second},
		socks: func(relay string, forward proxy.Dialer) (proxy.Dialer, error) {
			return proxy.SOCKS5("tcp", relay, nil, forward)
		},
	}
}

// DialContext has the signature of http.Transport.DialContext.
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("split %q: %w", address, err)
	}
	decision, err := d.Selector.SelectRoute(ctx, host)
	if err != nil {
		return nil, err
	}
	if !decision.ViaRelay() {
		return d.Direct.DialContext(ctx, network, address)
	}

	conn, err := d.dialRelay(ctx, decision.Relay, network, address)
	if err != nil {
		if reportErr := d.Selector.ConnectFailed(address, decision.Relay, err); reportErr != nil {
			d.Selector.logger.Error().Err(reportErr).Msg("Failed to report relay connection failure")
		}
		return nil, fmt.Errorf("dial %s via relay %s: %w", address, decision.Relay, err)
	}
	return conn, nil
}

func (d *Dialer) dialRelay(ctx context.Context, relay, network, address string) (net.Conn, error) {
	dialer, err := d.socks(relay, d.Direct)
	if err != nil {
		return nil, err
	}
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, address)
	}
	return dialer.Dial(network, address)
}
