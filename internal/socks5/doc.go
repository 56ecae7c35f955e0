// Package socks5 implements the server side of a minimal SOCKS5 handshake.
//
// A [Negotiator] drives one accepted client connection through method
// selection ("no authentication required" only) and a CONNECT request for an
// IPv4 destination, then hands the requested [Target] back to the caller. The
// caller owns dialing the destination and relaying bytes afterwards.
//
// Wire encoding of replies reuses the primitives in github.com/txthinking/socks5.
// Request parsing is done here so that every field is read exactly, never
// through an oversized fixed buffer.
//
// Known simplifications relative to RFC 1928:
//   - By default a client that does not offer method 0x00 is disconnected
//     without the 0xFF "no acceptable methods" reply, and domain-name or IPv6
//     requests are disconnected without a REP 0x08 reply. Set
//     [Negotiator.RejectReplies] to send those replies before closing.
//   - The success reply echoes the requested address and port as BND.ADDR and
//     BND.PORT instead of reporting a real local bind address, and it is sent
//     before the destination has been reached.
package socks5
