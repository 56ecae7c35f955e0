package socks5

import (
	"errors"
	"io"
	"net"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestClientDialToNegotiator(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{name: "ipv4", address: "127.0.0.1:80"},
		{name: "ipv6 rejected", address: "[::1]:80", wantErr: true},
		{name: "domain rejected", address: "example.com:80", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			g := errgroup.Group{}
			g.Go(func() error {
				_, err := Negotiate(serverConn)
				return err
			})

			err := ClientDial(clientConn, tt.address)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}

			serverErr := g.Wait()
			if tt.wantErr {
				if !Closed(serverErr) {
					t.Fatalf("expected negotiator to close the connection, got %v", serverErr)
				}
				return
			}
			if serverErr != nil {
				t.Fatal(serverErr)
			}
		})
	}
}

func TestClientNegotiateRefusedMethod(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	g := errgroup.Group{}
	g.Go(func() error {
		// Swallow the no-auth greeting and answer as a server that only
		// accepts username/password.
		buf := make([]byte, 3)
		if _, err := io.ReadFull(serverConn, buf); err != nil {
			return err
		}
		_, err := serverConn.Write([]byte{0x05, 0xFF})
		return err
	})

	err := ClientNegotiate(clientConn)
	var replyErr *ReplyError
	if !errors.As(err, &replyErr) {
		t.Fatalf("got %v want *ReplyError", err)
	}
	if replyErr.Method != 0xFF {
		t.Fatalf("got method %#02x want 0xff", replyErr.Method)
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}
