package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
)

// DefaultBindAddress is used when a listen address names only a port.
const DefaultBindAddress = "127.0.0.1"

// ParseListenAddr accepts either "port" or "host:port". A bare port binds to
// DefaultBindAddress.
func ParseListenAddr(s string) (string, error) {
	if s == "" {
		return "", errors.New("empty listen address")
	}

	if port, err := strconv.Atoi(s); err == nil {
		if port < 0 || port > 65535 {
			return "", fmt.Errorf("port %d out of range", port)
		}
		return net.JoinHostPort(DefaultBindAddress, s), nil
	}

	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return "", fmt.Errorf("invalid listen address %q: %w", s, err)
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return "", fmt.Errorf("invalid listen port %q", port)
	}
	return net.JoinHostPort(host, port), nil
}

// ListenTCP listens on the given network/address and returns a net.Listener
// that applies keepAliveConfig to accepted TCP connections.
func ListenTCP(ctx context.Context, network, addr string, keepAliveConfig net.KeepAliveConfig) (net.Listener, error) {
	lc := net.ListenConfig{KeepAliveConfig: keepAliveConfig}

	ln, err := lc.Listen(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, addr, err)
	}

	return &KeepAliveListener{Listener: ln, KeepAliveConfig: keepAliveConfig}, nil
}

// KeepAliveListener wraps a net.Listener and applies KeepAliveConfig to any
// accepted *net.TCPConn.
type KeepAliveListener struct {
	net.Listener
	net.KeepAliveConfig
}

// Accept accepts the next connection and applies KeepAliveConfig if the
// connection is a *net.TCPConn.
func (l *KeepAliveListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(l.KeepAliveConfig)
	}

	return conn, nil
}
