package dialer

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/Crestview620/net-ssh-socks/internal/socks5"
)

// SOCKS5ProxyDialer dials outbound TCP connections through an upstream
// no-auth SOCKS5 proxy.
type SOCKS5ProxyDialer struct {
	cfg       Config
	proxyAddr string
	direct    Dialer
}

// NewSOCKS5ProxyDialer returns a dialer that tunnels through the SOCKS5 proxy
// at proxyAddr, reaching it with a direct dialer built from cfg.
func NewSOCKS5ProxyDialer(cfg Config, proxyAddr string) *SOCKS5ProxyDialer {
	return &SOCKS5ProxyDialer{cfg: cfg, proxyAddr: proxyAddr, direct: NewDirectDialer(cfg)}
}

// DialContext connects to the proxy and issues a CONNECT for address.
//
// If NegotiationTimeout is set, a deadline is applied during the handshake
// and cleared before returning. Canceling ctx during the handshake aborts it.
func (f *SOCKS5ProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("socks5 proxy dial %s %s: unsupported network", network, address)
	}

	c, err := f.direct.DialContext(ctx, network, f.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.Close()
	})
	defer stop()

	if f.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(f.cfg.NegotiationTimeout))
	}

	if err := socks5.ClientDial(c, address); err != nil {
		_ = c.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("socks5 proxy dial %s: %w", address, ctx.Err())
		}
		return nil, fmt.Errorf("socks5 proxy dial %s: %w", address, err)
	}

	if !stop() {
		// ctx fired after the handshake finished and c is already closed.
		return nil, fmt.Errorf("socks5 proxy dial %s: %w", address, context.Cause(ctx))
	}
	if f.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Time{})
	}
	return c, nil
}
