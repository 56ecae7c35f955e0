package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/Crestview620/net-ssh-socks/internal/dialer"
	"github.com/Crestview620/net-ssh-socks/internal/socks5"
	"github.com/Crestview620/net-ssh-socks/internal/ssh"
)

// SOCKS5Server accepts SOCKS5 clients and forwards them through a Dialer.
type SOCKS5Server struct {
	ctx        context.Context
	dialer     dialer.Dialer
	negotiator socks5.Negotiator
	log        *slog.Logger
}

// NewSOCKS5Server constructs a server from cfg. Canceling ctx tears down
// relays in progress; closing the listener passed to Serve stops accepting.
func NewSOCKS5Server(ctx context.Context, cfg Config, logger *slog.Logger) *SOCKS5Server {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SOCKS5Server{
		ctx:    ctx,
		dialer: cfg.Dialer,
		negotiator: socks5.Negotiator{
			Timeout:       cfg.NegotiationTimeout,
			RejectReplies: cfg.RejectReplies,
		},
		log: logger,
	}
}

// Serve accepts connections on ln until it is closed, handling each on its
// own goroutine.
func (s *SOCKS5Server) Serve(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) && s.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go func() {
			if err := s.handle(c); err != nil {
				s.log.Debug("socks5: connection error", "client", c.RemoteAddr().String(), "err", err)
			}
		}()
	}
}

func (s *SOCKS5Server) handle(conn net.Conn) error {
	defer conn.Close()
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	target, err := s.negotiator.Negotiate(conn)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	// Tunnels opened over SSH name this listener as their originator.
	if la, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		ctx = ssh.WithOriginator(ctx, la)
	}

	// The client has already been told the connection succeeded, so a dial
	// failure can only be reported by hanging up.
	up, err := s.dialer.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		s.log.Warn("socks5: could not establish tunnel", "client", conn.RemoteAddr().String(), "target", target.Addr(), "err", err)
		return nil
	}
	defer up.Close()

	s.log.Debug("socks5: tunnel established", "client", conn.RemoteAddr().String(), "target", target.Addr())

	if err := CopyBidirectional(ctx, conn, up); err != nil {
		return fmt.Errorf("relay %s: %w", target.Addr(), err)
	}
	return nil
}
