// Package ssh tunnels TCP connections through an SSH server.
//
// The [Client] type manages a persistent SSH connection with automatic
// reconnection, multiplexing many TCP connections over a single SSH transport
// using "direct-tcpip" channels. This is the transport behind SSH dynamic
// port forwarding (ssh -D).
//
// Features:
//   - Lazy connection: SSH transport is established on first use
//   - Automatic reconnection: transport failures trigger reconnect and retry
//   - Context cancellation: callers can cancel individual channel dials
//   - Multiple auth methods: password, private key files, SSH agent
//   - Host key verification: known_hosts with trust-on-first-use (TOFU)
//
// [Server] is the other end: it accepts SSH connections and serves
// "direct-tcpip" channels by dialing the requested destination.
//
// Example usage:
//
//	signers, _ := ssh.LoadSigners("agent")
//	hostKeyCallback, _ := ssh.NewHostKeyCallback("~/.ssh/known_hosts")
//
//	client, err := ssh.NewClient("ssh.example.com:22", ssh.ClientConfig{
//	    Username:        "user",
//	    Signers:         signers,
//	    HostKeyCallback: hostKeyCallback,
//	}, &net.Dialer{})
//
//	conn, err := client.DialContext(ctx, "tcp", "10.0.0.5:80")
package ssh
