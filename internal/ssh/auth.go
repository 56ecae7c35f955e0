package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// AgentAuthType is the --ssh-key value selecting the SSH agent.
const AgentAuthType = "agent"

const agentSocketEnv = "SSH_AUTH_SOCK"

// AgentAvailable reports whether SSH_AUTH_SOCK names an agent socket.
func AgentAvailable() bool {
	return os.Getenv(agentSocketEnv) != ""
}

// LoadSigners resolves an --ssh-key value. An empty value means password
// authentication only, AgentAuthType asks the agent for every key it holds,
// and anything else is read as an unencrypted private key file ("~/" is
// expanded).
func LoadSigners(keyPath string) ([]ssh.Signer, error) {
	switch keyPath {
	case "":
		return nil, nil
	case AgentAuthType:
		return agentSigners(os.Getenv(agentSocketEnv))
	}

	s, err := keyFileSigner(keyPath)
	if err != nil {
		return nil, err
	}
	return []ssh.Signer{s}, nil
}

// agentSigners leaves the agent connection open; the returned signers use it
// for every signature.
func agentSigners(socket string) ([]ssh.Signer, error) {
	if socket == "" {
		return nil, fmt.Errorf("ssh agent: %s not set", agentSocketEnv)
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("ssh agent: %w", err)
	}

	signers, err := agent.NewClient(conn).Signers()
	switch {
	case err != nil:
		err = fmt.Errorf("ssh agent: list keys: %w", err)
	case len(signers) == 0:
		err = errors.New("ssh agent: no keys loaded")
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return signers, nil
}

func keyFileSigner(path string) (ssh.Signer, error) {
	path, err := ExpandHome(path)
	if err != nil {
		return nil, err
	}

	pem, err := os.ReadFile(path) //nolint:gosec // Path is from user config.
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	s, err := ssh.ParsePrivateKey(pem)
	var missing *ssh.PassphraseMissingError
	switch {
	case errors.As(err, &missing):
		return nil, fmt.Errorf("key file %s is passphrase protected, load it into ssh-agent and use --ssh-key=%s", path, AgentAuthType)
	case err != nil:
		return nil, fmt.Errorf("parsing key file %s: %w", path, err)
	}
	return s, nil
}

// ExpandHome replaces a leading "~" or "~/" with the user's home directory.
// "~user" forms are returned unchanged.
func ExpandHome(path string) (string, error) {
	rest, ok := strings.CutPrefix(path, "~")
	if !ok || (rest != "" && !strings.HasPrefix(rest, "/")) {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expanding %s: %w", path, err)
	}
	return filepath.Join(home, rest), nil
}
