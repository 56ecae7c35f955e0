package testutil

import (
	"context"
	"net"
	"testing"
)

// OneShotServer hands the first connection accepted on a loopback port to a
// handler and then stops accepting.
type OneShotServer struct {
	ln   net.Listener
	done chan struct{}
}

// StartOneShotServer starts a OneShotServer. The connection is closed when
// handler returns. Wait is also registered as a test cleanup.
func StartOneShotServer(ctx context.Context, t *testing.T, handler func(net.Conn)) *OneShotServer {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	s := &OneShotServer{ln: ln, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		c, err := ln.Accept()
		_ = ln.Close()
		if err != nil {
			return
		}
		defer c.Close()
		handler(c)
	}()
	t.Cleanup(s.Wait)

	return s
}

// Addr is the "host:port" the server listens on.
func (s *OneShotServer) Addr() string {
	return s.ln.Addr().String()
}

// Wait stops the listener if nothing has connected yet and blocks until the
// handler has returned.
func (s *OneShotServer) Wait() {
	_ = s.ln.Close()
	<-s.done
}
