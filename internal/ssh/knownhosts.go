package ssh

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ErrHostKeyMismatch is returned when a host presents a key other than the
// one recorded for it.
var ErrHostKeyMismatch = errors.New("ssh: host key mismatch")

// NewHostKeyCallback creates an ssh.HostKeyCallback for the given known_hosts
// file path. If path is empty, host key checking is disabled. Otherwise, the
// callback verifies host keys against the file, automatically adding unknown
// hosts on first connection (trust on first use / TOFU).
//
// The parent directory and file are created if they don't exist.
func NewHostKeyCallback(path string) (ssh.HostKeyCallback, error) {
	if path == "" {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // User explicitly disabled host key checking.
	}

	path, err := ExpandHome(path)
	if err != nil {
		return nil, err
	}
	if err := ensureFile(path); err != nil {
		return nil, err
	}

	check, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts: %w", err)
	}

	kh := &knownHosts{path: path, check: check}
	return kh.verify, nil
}

func ensureFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating known_hosts directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // Path is from user config.
	if err != nil {
		return fmt.Errorf("creating known_hosts file: %w", err)
	}
	return f.Close()
}

type knownHosts struct {
	path  string
	check ssh.HostKeyCallback

	mu sync.Mutex
	// added holds keys accepted on first use since the file was loaded;
	// check only sees what was in the file at load time.
	added []addedKey
}

type addedKey struct {
	host string
	key  []byte
}

func (k *knownHosts) verify(hostname string, remote net.Addr, key ssh.PublicKey) error {
	err := k.check(hostname, remote, key)
	if err == nil {
		return nil
	}

	var keyErr *knownhosts.KeyError
	if !errors.As(err, &keyErr) {
		return err
	}

	// A non-empty Want means the host is known under a different key.
	if len(keyErr.Want) > 0 {
		return fmt.Errorf("%w for %s: %w", ErrHostKeyMismatch, hostname, err)
	}

	host := knownhosts.Normalize(hostname)
	wire := key.Marshal()

	k.mu.Lock()
	defer k.mu.Unlock()

	for _, a := range k.added {
		if a.host != host {
			continue
		}
		if string(a.key) == string(wire) {
			return nil
		}
		return fmt.Errorf("%w for %s: key changed since first use", ErrHostKeyMismatch, hostname)
	}

	f, err := os.OpenFile(k.path, os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // Path is from user config.
	if err != nil {
		return fmt.Errorf("opening known_hosts for writing: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(knownhosts.Line([]string{host}, key) + "\n"); err != nil {
		return fmt.Errorf("writing to known_hosts: %w", err)
	}
	k.added = append(k.added, addedKey{host: host, key: wire})

	slog.Info("ssh: added host key", "host", hostname, "known_hosts", k.path)
	return nil
}
