package socks5

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/netip"
	"slices"
	"strconv"
	"time"

	txsocks5 "github.com/txthinking/socks5"
)

// Target is the destination a client asked to be connected to.
type Target struct {
	Host string // dotted-quad IPv4 address
	Port uint16
}

// Addr returns t as a "host:port" string suitable for dialing.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}

func (t Target) String() string {
	return t.Addr()
}

// Negotiator performs the server side of the SOCKS5 handshake.
//
// Each Negotiate call handles exactly one connection, exactly once: it runs
// one greeting and one request and is never resumed or repeated on the same
// conn. A Negotiator only carries settings and keeps no state between calls,
// so one value may be shared by the goroutines serving different
// connections. The zero value is ready to use.
type Negotiator struct {
	// Timeout bounds the whole handshake. Zero means no deadline.
	Timeout time.Duration

	// RejectReplies makes the negotiator send the RFC 1928 rejection reply
	// (method 0xFF, REP 0x07 or REP 0x08) before failing, instead of
	// dropping the connection silently.
	RejectReplies bool
}

// Negotiate runs the handshake on conn with a zero-value Negotiator.
func Negotiate(conn net.Conn) (Target, error) {
	var n Negotiator
	return n.Negotiate(conn)
}

// Negotiate reads the client's greeting and CONNECT request from conn, sends
// the method-selection and success replies, and returns the requested
// destination.
//
// On ErrUnsupportedAuthMethod and ErrUnsupportedAddressType conn has been
// closed before Negotiate returns (see Closed). On any other error conn is
// left open for the caller to close. On success the connection deadline is
// cleared and conn belongs to the caller for relaying.
func (n *Negotiator) Negotiate(conn net.Conn) (Target, error) {
	if n.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(n.Timeout))
	}

	if err := n.selectMethod(conn); err != nil {
		return Target{}, err
	}

	target, err := n.readRequest(conn)
	if err != nil {
		return Target{}, err
	}

	if n.Timeout > 0 {
		_ = conn.SetDeadline(time.Time{})
	}
	return target, nil
}

// selectMethod handles VER NMETHODS METHODS and replies with method 0x00.
func (n *Negotiator) selectMethod(conn net.Conn) error {
	var hdr [2]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return headerReadError("greeting", err)
	}
	if hdr[0] != txsocks5.Ver {
		return fmt.Errorf("%w: greeting version %d", ErrProtocolVersion, hdr[0])
	}

	methods := make([]byte, int(hdr[1]))
	if _, err := io.ReadFull(conn, methods); err != nil {
		return bodyReadError("greeting methods", err)
	}

	if !slices.Contains(methods, txsocks5.MethodNone) {
		if n.RejectReplies {
			writeNoAcceptableMethods(conn)
		}
		_ = conn.Close()
		return &closedError{fmt.Errorf("%w: offered %v", ErrUnsupportedAuthMethod, methods)}
	}

	if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(conn); err != nil {
		return fmt.Errorf("write greeting reply: %w", err)
	}
	return nil
}

// readRequest handles VER CMD RSV ATYP DST.ADDR DST.PORT. Only the fixed
// header is read up front; the address is read once its length is known.
func (n *Negotiator) readRequest(conn net.Conn) (Target, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return Target{}, headerReadError("request", err)
	}

	// RSV (hdr[2]) should be zero but is not checked.
	ver, cmd, atyp := hdr[0], hdr[1], hdr[3]
	if ver != txsocks5.Ver {
		return Target{}, fmt.Errorf("%w: request version %d", ErrProtocolVersion, ver)
	}
	if cmd != txsocks5.CmdConnect {
		if n.RejectReplies {
			writeFailureReply(conn, txsocks5.RepCommandNotSupported, atyp)
		}
		return Target{}, fmt.Errorf("%w: command %d", ErrUnsupportedCommand, cmd)
	}

	switch atyp {
	case txsocks5.ATYPIPv4:
		dst := make([]byte, net.IPv4len+2)
		if _, err := io.ReadFull(conn, dst); err != nil {
			return Target{}, bodyReadError("request destination", err)
		}
		addr, port := dst[:net.IPv4len], dst[net.IPv4len:]

		if _, err := txsocks5.NewReply(txsocks5.RepSuccess, atyp, addr, port).WriteTo(conn); err != nil {
			return Target{}, fmt.Errorf("write request reply: %w", err)
		}

		return Target{
			Host: netip.AddrFrom4([4]byte(addr)).String(),
			Port: binary.BigEndian.Uint16(port),
		}, nil

	case txsocks5.ATYPDomain, txsocks5.ATYPIPv6:
		if n.RejectReplies {
			writeFailureReply(conn, txsocks5.RepAddressNotSupported, atyp)
		}
		_ = conn.Close()
		return Target{}, &closedError{fmt.Errorf("%w: got %s", ErrUnsupportedAddressType, addressTypeName(atyp))}

	default:
		if n.RejectReplies {
			writeFailureReply(conn, txsocks5.RepAddressNotSupported, atyp)
		}
		return Target{}, fmt.Errorf("%w: unknown address type %d", ErrMalformedRequest, atyp)
	}
}

func addressTypeName(atyp byte) string {
	switch atyp {
	case txsocks5.ATYPIPv4:
		return "IPv4"
	case txsocks5.ATYPDomain:
		return "domain name"
	case txsocks5.ATYPIPv6:
		return "IPv6"
	default:
		return fmt.Sprintf("address type %d", atyp)
	}
}
