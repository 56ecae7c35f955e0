package dialer

import (
	"net"
	"time"
)

// Config holds the timeouts and SSH settings shared by every Dialer.
type Config struct {
	// DialTimeout bounds the TCP connect to the destination or upstream.
	DialTimeout time.Duration
	// NegotiationTimeout bounds upstream protocol handshakes (SOCKS5, SSH).
	NegotiationTimeout time.Duration
	KeepAlive          net.KeepAliveConfig

	// SSHKeyPath is "agent", a private key file, or empty for password only.
	SSHKeyPath string
	// SSHKnownHostsPath enables known_hosts checking with trust on first
	// use. Empty disables host key checking.
	SSHKnownHostsPath string
}
