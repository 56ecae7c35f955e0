package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

const channelDirectTCPIP = "direct-tcpip"

// ServerConfig configures a Server.
type ServerConfig struct {
	// HostKeys must hold at least one key.
	HostKeys []ssh.Signer

	// At least one of PasswordCallback or PublicKeyCallback must be set.
	PasswordCallback  func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error)
	PublicKeyCallback func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error)

	// Dialer opens the destination of each forwarded channel. Defaults to a
	// zero net.Dialer.
	Dialer ContextDialer

	Logger *slog.Logger
}

// Server is the far end of a Client: it accepts SSH connections and answers
// each "direct-tcpip" channel by dialing the requested host and port and
// relaying bytes until either side closes. Any other channel type is
// refused.
type Server struct {
	config *ssh.ServerConfig
	dialer ContextDialer
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	wg        sync.WaitGroup
}

// forwardRequest is the channel-open payload of RFC 4254 section 7.2.
type forwardRequest struct {
	Host       string
	Port       uint32
	OriginHost string
	OriginPort uint32
}

func (r forwardRequest) addr() string {
	return net.JoinHostPort(r.Host, strconv.FormatUint(uint64(r.Port), 10))
}

// NewServer validates cfg. Call Serve to start accepting.
func NewServer(cfg ServerConfig) (*Server, error) {
	switch {
	case len(cfg.HostKeys) == 0:
		return nil, errors.New("ssh server: no host key")
	case cfg.PasswordCallback == nil && cfg.PublicKeyCallback == nil:
		return nil, errors.New("ssh server: no auth callback")
	}

	sc := &ssh.ServerConfig{
		PasswordCallback:  cfg.PasswordCallback,
		PublicKeyCallback: cfg.PublicKeyCallback,
	}
	for _, k := range cfg.HostKeys {
		sc.AddHostKey(k)
	}

	d := cfg.Dialer
	if d == nil {
		d = &net.Dialer{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:    sc,
		dialer:    d,
		log:       logger,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[net.Listener]struct{}),
	}, nil
}

// Serve accepts SSH connections on ln until ln fails or Close is called.
// After Close it returns nil.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.listeners[ln] = struct{}{}
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ssh server accept: %w", err)
		}

		s.mu.Lock()
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		s.wg.Go(func() { s.serveConn(conn) })
		s.mu.Unlock()
	}
}

// Close stops every listener passed to Serve, drops live connections and
// waits for their relays to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	s.cancel()
	var errs []error
	for ln := range s.listeners {
		errs = append(errs, ln.Close())
		delete(s.listeners, ln)
	}
	s.mu.Unlock()

	s.wg.Wait()
	return errors.Join(errs...)
}

func (s *Server) serveConn(conn net.Conn) {
	sc, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		_ = conn.Close()
		s.log.Debug("ssh server: handshake failed", "client", conn.RemoteAddr().String(), "err", err)
		return
	}
	stop := context.AfterFunc(s.ctx, func() { _ = sc.Close() })
	defer stop()
	defer sc.Close()

	go ssh.DiscardRequests(reqs)

	var wg sync.WaitGroup
	for nc := range chans {
		if nc.ChannelType() != channelDirectTCPIP {
			_ = nc.Reject(ssh.UnknownChannelType, "only direct-tcpip channels are served")
			continue
		}
		wg.Go(func() { s.forward(nc) })
	}
	wg.Wait()
}

func (s *Server) forward(nc ssh.NewChannel) {
	var req forwardRequest
	if err := ssh.Unmarshal(nc.ExtraData(), &req); err != nil {
		_ = nc.Reject(ssh.ConnectionFailed, "malformed direct-tcpip request")
		return
	}

	origin := net.JoinHostPort(req.OriginHost, strconv.FormatUint(uint64(req.OriginPort), 10))
	s.log.Debug("ssh server: forwarding", "target", req.addr(), "origin", origin)

	dst, err := s.dialer.DialContext(s.ctx, "tcp", req.addr())
	if err != nil {
		_ = nc.Reject(ssh.ConnectionFailed, err.Error())
		return
	}

	ch, reqs, err := nc.Accept()
	if err != nil {
		_ = dst.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	if err := relayChannel(s.ctx, ch, dst); err != nil {
		s.log.Debug("ssh server: relay ended", "target", req.addr(), "err", err)
	}
}

// relayChannel copies between ch and dst, propagating EOF in each direction
// as a half-close, and closes both once both directions are done or ctx ends.
func relayChannel(ctx context.Context, ch ssh.Channel, dst net.Conn) error {
	stop := context.AfterFunc(ctx, func() {
		_ = ch.Close()
		_ = dst.Close()
	})
	defer stop()
	defer ch.Close()
	defer dst.Close()

	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(dst, ch)
		if cw, ok := dst.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		} else {
			_ = dst.Close()
		}
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(ch, dst)
		_ = ch.CloseWrite()
		return err
	})
	return g.Wait()
}

// GenerateHostKey returns a fresh Ed25519 host key.
func GenerateHostKey() (ssh.Signer, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return ssh.NewSignerFromKey(key)
}

// SimplePasswordAuth accepts exactly one username and password.
func SimplePasswordAuth(username, password string) func(ssh.ConnMetadata, []byte) (*ssh.Permissions, error) {
	return func(conn ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
		if conn.User() != username || string(pass) != password {
			return nil, fmt.Errorf("ssh server: rejected credentials for %q", conn.User())
		}
		return &ssh.Permissions{}, nil
	}
}
