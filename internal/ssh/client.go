package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/singleflight"
)

// ContextDialer is satisfied by *net.Dialer and by the dialers in
// internal/dialer.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ClientConfig holds configuration for establishing an SSH client connection.
type ClientConfig struct {
	// Username for SSH authentication.
	Username string
	// Password for password authentication (optional if Signers is set).
	Password string
	// Signers for public key authentication (optional if Password is set).
	Signers []ssh.Signer
	// HostKeyCallback verifies the server's host key.
	HostKeyCallback ssh.HostKeyCallback
	// DialTimeout is the maximum time for the TCP connection to the server.
	DialTimeout time.Duration
	// NegotiationTimeout is the deadline for the SSH handshake. Zero means no
	// timeout.
	NegotiationTimeout time.Duration
}

// AuthMethods returns the ssh.AuthMethod slice for this configuration.
// Public key authentication is offered first if available, followed by password.
func (c *ClientConfig) AuthMethods() []ssh.AuthMethod {
	var methods []ssh.AuthMethod
	if len(c.Signers) > 0 {
		methods = append(methods, ssh.PublicKeys(c.Signers...))
	}
	if c.Password != "" {
		methods = append(methods, ssh.Password(c.Password))
	}
	return methods
}

// Client forwards TCP connections through an SSH server.
//
// It keeps at most one SSH transport per Client and opens one "direct-tcpip"
// channel per DialContext call.
//
// Lifecycle notes:
//   - The SSH transport is created lazily on the first DialContext call.
//   - Canceling the context closes only the returned channel, not the shared
//     transport.
//   - If opening a channel fails for a transport-level reason, the client
//     discards the transport, reconnects once, and retries the channel open.
type Client struct {
	addr   string
	cfg    ClientConfig
	dialer ContextDialer

	mu     sync.Mutex
	client *ssh.Client
	sf     singleflight.Group
}

// NewClient validates cfg and returns a Client for the SSH server at addr.
// No connection is made until the first DialContext call.
func NewClient(addr string, cfg ClientConfig, dialer ContextDialer) (*Client, error) {
	if addr == "" {
		return nil, errors.New("ssh client: missing ssh address")
	}
	if cfg.Username == "" {
		return nil, errors.New("ssh client: missing username")
	}
	if cfg.Password == "" && len(cfg.Signers) == 0 {
		return nil, errors.New("ssh client: missing password or key")
	}
	if cfg.HostKeyCallback == nil {
		return nil, errors.New("ssh client: missing host key callback")
	}
	if dialer == nil {
		dialer = &net.Dialer{Timeout: cfg.DialTimeout}
	}

	return &Client{addr: addr, cfg: cfg, dialer: dialer}, nil
}

// Addr returns the SSH server address.
func (c *Client) Addr() string {
	return c.addr
}

// DialContext opens a "direct-tcpip" channel to address over the shared SSH
// transport.
//
// Canceling ctx closes the returned connection to promptly unblock callers
// waiting on reads or writes.
func (c *Client) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("ssh dial %s %s: unsupported network", network, address)
	}

	client, err := c.getClient(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := openChannel(ctx, client, address)
	if err != nil {
		// OpenChannelError means the transport is healthy but the server
		// refused or could not reach the destination.
		var openErr *ssh.OpenChannelError
		if errors.As(err, &openErr) || ctx.Err() != nil {
			return nil, fmt.Errorf("ssh dial %s: %w", address, err)
		}

		c.invalidateClient(client)
		client, err2 := c.getClient(ctx)
		if err2 != nil {
			return nil, fmt.Errorf("ssh dial %s: %w", address, err)
		}
		conn, err = openChannel(ctx, client, address)
		if err != nil {
			return nil, fmt.Errorf("ssh dial %s: %w", address, err)
		}
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	return &channelConn{Conn: conn, stop: stop}, nil
}

type originatorKey struct{}

// WithOriginator returns a copy of ctx under which Client.DialContext reports
// addr as the originator of its direct-tcpip channels (RFC 4254 section
// 7.2). Without it the originator is 0.0.0.0:0.
func WithOriginator(ctx context.Context, addr *net.TCPAddr) context.Context {
	return context.WithValue(ctx, originatorKey{}, addr)
}

// openChannel opens a direct-tcpip channel to address. The originator set by
// WithOriginator is only sent for IP-literal destinations, since
// ssh.Client.DialTCP cannot carry a host name; those go through DialContext.
func openChannel(ctx context.Context, client *ssh.Client, address string) (net.Conn, error) {
	origin, _ := ctx.Value(originatorKey{}).(*net.TCPAddr)
	dst, err := netip.ParseAddrPort(address)
	if origin == nil || err != nil {
		return client.DialContext(ctx, "tcp", address)
	}

	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := client.DialTCP("tcp", origin, net.TCPAddrFromAddrPort(dst))
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Close shuts down the shared SSH transport, if any. Later DialContext calls
// reconnect.
func (c *Client) Close() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}

// getClient returns the shared SSH client, creating it if needed.
//
// Only one connection attempt runs at a time. Callers can bail out early if
// their context is canceled while the attempt continues for other waiters.
func (c *Client) getClient(ctx context.Context) (*ssh.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client != nil {
		return client, nil
	}

	ch := c.sf.DoChan("connect", func() (any, error) {
		c.mu.Lock()
		if c.client != nil {
			existing := c.client
			c.mu.Unlock()
			return existing, nil
		}
		c.mu.Unlock()

		// Not tied to the triggering caller's ctx; other waiters may still
		// want the result.
		newClient, err := c.dial(context.Background())
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.client = newClient
		c.mu.Unlock()
		return newClient, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ssh.Client), nil
	}
}

// dial establishes a new SSH transport.
func (c *Client) dial(ctx context.Context) (*ssh.Client, error) {
	if c.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.DialTimeout)
		defer cancel()
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("ssh transport dial: %w", err)
	}

	sshConfig := &ssh.ClientConfig{
		User:            c.cfg.Username,
		Auth:            c.cfg.AuthMethods(),
		HostKeyCallback: c.cfg.HostKeyCallback,
		Timeout:         c.cfg.DialTimeout,
	}

	if c.cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.cfg.NegotiationTimeout))
	}

	cc, chans, reqs, err := ssh.NewClientConn(conn, c.addr, sshConfig)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake: %w", err)
	}

	if c.cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Time{})
	}

	return ssh.NewClient(cc, chans, reqs), nil
}

// invalidateClient discards stale if it is still the shared client.
func (c *Client) invalidateClient(stale *ssh.Client) {
	c.mu.Lock()
	if c.client != stale {
		c.mu.Unlock()
		return
	}
	c.client = nil
	c.mu.Unlock()
	_ = stale.Close()
}

// channelConn is a single "direct-tcpip" channel.
type channelConn struct {
	net.Conn
	stop func() bool
}

// CloseWrite sends EOF on the channel while leaving it open for reading.
func (c *channelConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return c.Close()
}

// Close stops the cancellation hook and closes the channel.
func (c *channelConn) Close() error {
	if c.stop != nil {
		c.stop()
	}
	return c.Conn.Close()
}
