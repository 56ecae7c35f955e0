package socks5

import (
	"fmt"
	"io"

	txsocks5 "github.com/txthinking/socks5"
)

// ReplyError is returned by the client helpers when a server refuses the
// handshake. Method is set for a refused method selection, Rep for a
// refused request.
type ReplyError struct {
	Method byte
	Rep    byte
}

func (e *ReplyError) Error() string {
	if e.Rep == txsocks5.RepSuccess {
		return fmt.Sprintf("socks5: server selected method %#02x", e.Method)
	}
	return fmt.Sprintf("socks5: server replied %#02x", e.Rep)
}

// ClientDial runs the client side of a no-auth SOCKS5 CONNECT to address over
// rw, which must already be connected to a SOCKS5 server.
func ClientDial(rw io.ReadWriter, address string) error {
	if err := ClientNegotiate(rw); err != nil {
		return err
	}
	return ClientConnect(rw, address)
}

// ClientNegotiate offers only the "no authentication required" method.
func ClientNegotiate(rw io.ReadWriter) error {
	if _, err := txsocks5.NewNegotiationRequest([]byte{txsocks5.MethodNone}).WriteTo(rw); err != nil {
		return fmt.Errorf("socks5: write greeting: %w", err)
	}

	reply, err := txsocks5.NewNegotiationReplyFrom(rw)
	if err != nil {
		return fmt.Errorf("socks5: read method selection: %w", err)
	}
	if reply.Method != txsocks5.MethodNone {
		return &ReplyError{Method: reply.Method}
	}
	return nil
}

// ClientConnect sends a CONNECT for address ("host:port", any address type)
// and waits for the server's reply. The bound address in the reply is
// discarded.
func ClientConnect(rw io.ReadWriter, address string) error {
	atyp, host, port, err := txsocks5.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("socks5: %w", err)
	}
	// ParseAddress length-prefixes domain names and Request.WriteTo adds the
	// prefix again.
	if atyp == txsocks5.ATYPDomain {
		host = host[1:]
	}

	if _, err := txsocks5.NewRequest(txsocks5.CmdConnect, atyp, host, port).WriteTo(rw); err != nil {
		return fmt.Errorf("socks5: write request: %w", err)
	}

	reply, err := txsocks5.NewReplyFrom(rw)
	if err != nil {
		return fmt.Errorf("socks5: read reply: %w", err)
	}
	if reply.Rep != txsocks5.RepSuccess {
		return &ReplyError{Rep: reply.Rep}
	}
	return nil
}
