package ssh

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/Crestview620/net-ssh-socks/internal/testutil"
)

func mustGenerateKey(t *testing.T) ssh.Signer {
	t.Helper()

	key, err := GenerateHostKey()
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// startServer runs a Server on a loopback port accepting user/pass and
// returns its address.
func startServer(ctx context.Context, t *testing.T) string {
	t.Helper()

	srv, err := NewServer(ServerConfig{
		PasswordCallback: SimplePasswordAuth("user", "pass"),
		HostKeys:         []ssh.Signer{mustGenerateKey(t)},
	})
	if err != nil {
		t.Fatal(err)
	}

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	go func() { _ = srv.Serve(ln) }()
	return ln.Addr().String()
}

func newTestClient(t *testing.T, addr string) *Client {
	t.Helper()

	client, err := NewClient(addr, ClientConfig{
		Username:           "user",
		Password:           "pass",
		HostKeyCallback:    ssh.InsecureIgnoreHostKey(), //nolint:gosec // Test server has random host key.
		DialTimeout:        2 * time.Second,
		NegotiationTimeout: 2 * time.Second,
	}, &net.Dialer{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClientServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(ctx, t)
	sshAddr := startServer(ctx, t)
	client := newTestClient(t, sshAddr)

	c1, err := client.DialContext(ctx, "tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEcho(t, c1, c1, []byte("hello"))
	_ = c1.Close()

	c2, err := client.DialContext(ctx, "tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()
	testutil.AssertEcho(t, c2, c2, []byte("hello2"))
}

func TestClientReconnectsAfterClose(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(ctx, t)
	sshAddr := startServer(ctx, t)
	client := newTestClient(t, sshAddr)

	c1, err := client.DialContext(ctx, "tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEcho(t, c1, c1, []byte("before"))
	_ = c1.Close()

	if err := client.Close(); err != nil {
		t.Fatal(err)
	}

	c2, err := client.DialContext(ctx, "tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()
	testutil.AssertEcho(t, c2, c2, []byte("after"))
}

func TestClientDialRefusedDestination(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Reserve a port and release it so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	closedAddr := ln.Addr().String()
	_ = ln.Close()

	sshAddr := startServer(ctx, t)
	client := newTestClient(t, sshAddr)

	_, err = client.DialContext(ctx, "tcp", closedAddr)
	var openErr *ssh.OpenChannelError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected OpenChannelError, got %v", err)
	}
	if openErr.Reason != ssh.ConnectionFailed {
		t.Fatalf("got reason %v want %v", openErr.Reason, ssh.ConnectionFailed)
	}
}

func TestClientWrongPassword(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sshAddr := startServer(ctx, t)
	client, err := NewClient(sshAddr, ClientConfig{
		Username:        "user",
		Password:        "wrong",
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // Test server has random host key.
	}, &net.Dialer{})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := client.DialContext(ctx, "tcp", "127.0.0.1:1"); err == nil {
		t.Fatal("expected handshake error")
	}
}

func TestClientUnsupportedNetwork(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, "127.0.0.1:1")
	if _, err := client.DialContext(context.Background(), "udp", "127.0.0.1:53"); err == nil {
		t.Fatal("expected error")
	}
}

func TestClientCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := newTestClient(t, "127.0.0.1:1")
	if _, err := client.DialContext(ctx, "tcp", "127.0.0.1:80"); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v want context.Canceled", err)
	}
}

func TestClientSendsOriginator(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(ctx, t)

	var logs testutil.LockedBuffer
	srv, err := NewServer(ServerConfig{
		PasswordCallback: SimplePasswordAuth("user", "pass"),
		HostKeys:         []ssh.Signer{mustGenerateKey(t)},
		Logger:           slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	go func() { _ = srv.Serve(ln) }()

	client := newTestClient(t, ln.Addr().String())

	tests := []struct {
		name   string
		ctx    context.Context
		origin string
	}{
		{name: "listener address", ctx: WithOriginator(ctx, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1080}), origin: "origin=127.0.0.1:1080"},
		{name: "unset", ctx: ctx, origin: "origin=0.0.0.0:0"},
	}

	for _, tt := range tests {
		c, err := client.DialContext(tt.ctx, "tcp", echoLn.Addr().String())
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		testutil.AssertEcho(t, c, c, []byte(tt.name))
		_ = c.Close()

		if !strings.Contains(logs.String(), tt.origin) {
			t.Fatalf("%s: server log lacks %q:\n%s", tt.name, tt.origin, logs.String())
		}
	}
}
