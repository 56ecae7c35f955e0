// Package proxy implements the local SOCKS5 listener that forwards each
// client through an outbound dialer.
//
// For every accepted connection the server runs the handshake from
// internal/socks5, dials the requested destination through the configured
// dialer (typically an SSH "direct-tcpip" channel), and relays bytes in both
// directions until the connection ends.
package proxy
