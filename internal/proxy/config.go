package proxy

import (
	"time"

	"github.com/Crestview620/net-ssh-socks/internal/dialer"
)

// Config configures a SOCKS5Server.
type Config struct {
	// NegotiationTimeout bounds the SOCKS5 handshake with each client.
	NegotiationTimeout time.Duration

	// RejectReplies sends RFC 1928 rejection replies before dropping a
	// client whose handshake is refused.
	RejectReplies bool

	Dialer dialer.Dialer
}
