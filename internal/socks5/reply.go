package socks5

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	txsocks5 "github.com/txthinking/socks5"
)

// EncodeRequest returns the CONNECT request a client sends for an IPv4
// destination: VER CMD RSV ATYP DST.ADDR DST.PORT.
func EncodeRequest(host string, port uint16) ([]byte, error) {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil, fmt.Errorf("parse host %q: %w", host, err)
	}
	if !addr.Is4() {
		return nil, fmt.Errorf("%w: %s is not an IPv4 address", ErrUnsupportedAddressType, host)
	}

	a4 := addr.As4()
	p := binary.BigEndian.AppendUint16(nil, port)

	var buf bytes.Buffer
	if _, err := txsocks5.NewRequest(txsocks5.CmdConnect, txsocks5.ATYPIPv4, a4[:], p).WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeFailureReply writes a reply carrying rep and a zero bound address.
func writeFailureReply(conn net.Conn, rep, atyp byte) {
	_, _ = newZeroAddrReply(rep, atyp).WriteTo(conn)
}

func newZeroAddrReply(rep, atyp byte) *txsocks5.Reply {
	if atyp == txsocks5.ATYPIPv6 {
		return txsocks5.NewReply(rep, txsocks5.ATYPIPv6, []byte(net.IPv6zero), []byte{0x00, 0x00})
	}
	return txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00})
}

func writeNoAcceptableMethods(conn net.Conn) {
	// RFC 1928: 0xFF indicates no acceptable methods.
	_, _ = txsocks5.NewNegotiationReply(txsocks5.MethodUnsupportAll).WriteTo(conn)
}
