package proxy

import (
	"context"
	"net"
	"testing"
)

func TestParseListenAddr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "1080", want: "127.0.0.1:1080"},
		{in: "0", want: "127.0.0.1:0"},
		{in: "0.0.0.0:8080", want: "0.0.0.0:8080"},
		{in: "localhost:1080", want: "localhost:1080"},
		{in: "[::1]:1080", want: "[::1]:1080"},
		{in: ":1080", want: ":1080"},
		{in: "", wantErr: true},
		{in: "70000", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "localhost", wantErr: true},
		{in: "localhost:http", wantErr: true},
		{in: "localhost:99999", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseListenAddr(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseListenAddr(%q): err=%v wantErr=%v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseListenAddr(%q) = %q want %q", tt.in, got, tt.want)
		}
	}
}

func TestListenTCPAppliesKeepAlive(t *testing.T) {
	t.Parallel()

	ka := net.KeepAliveConfig{Enable: true}
	ln, err := ListenTCP(context.Background(), "tcp", "127.0.0.1:0", ka)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	kal, ok := ln.(*KeepAliveListener)
	if !ok {
		t.Fatalf("got %T want *KeepAliveListener", ln)
	}
	if kal.KeepAliveConfig != ka {
		t.Fatalf("got %+v want %+v", kal.KeepAliveConfig, ka)
	}

	go func() {
		c, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			_ = c.Close()
		}
	}()

	c, err := ln.Accept()
	if err != nil {
		t.Fatal(err)
	}
	_ = c.Close()
}
