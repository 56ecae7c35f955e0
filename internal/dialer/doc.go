// Package dialer provides the outbound transports a SOCKS5 client can be
// forwarded through.
//
// Dialers implement a small interface (DialContext) and are selected from an
// upstream URL: a direct TCP connection, an SSH "direct-tcpip" channel, or an
// upstream SOCKS5 proxy.
package dialer
