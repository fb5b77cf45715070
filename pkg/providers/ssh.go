package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/ormasoftchile/radrun/pkg/schema"
)

// CryptoSSHClient is the real SSHClient over golang.org/x/crypto/ssh.
// One client holds one connection; the preamble runner opens it once and
// reuses it for every command.
type CryptoSSHClient struct {
	client *ssh.Client
}

// NewCryptoSSHClient returns an unconnected client.
func NewCryptoSSHClient() *CryptoSSHClient {
	return &CryptoSSHClient{}
}

// Connect dials the profile's SSH endpoint. Password and key-file auth are
// both supported; key-file wins when both are set.
func (c *CryptoSSHClient) Connect(ctx context.Context, profile *schema.Profile) error {
	if c.client != nil {
		return errors.New("ssh client already connected")
	}

	var methods []ssh.AuthMethod
	if profile.SSH.KeyFile != "" {
		key, err := os.ReadFile(profile.SSH.KeyFile)
		if err != nil {
			return fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return fmt.Errorf("parse ssh key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if profile.SSH.Password != "" {
		methods = append(methods, ssh.Password(profile.SSH.Password))
	}
	if len(methods) == 0 {
		return errors.New("profile declares no ssh credential")
	}

	cfg := &ssh.ClientConfig{
		User: profile.SSH.User,
		Auth: methods,
		// Test servers are short-lived lab machines; host keys churn.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	addr := net.JoinHostPort(profile.Host, fmt.Sprintf("%d", profile.SSHPort()))
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	c.client = ssh.NewClient(sshConn, chans, reqs)
	return nil
}

// Run executes one command in a fresh session on the shared connection.
func (c *CryptoSSHClient) Run(ctx context.Context, command string) (*SSHResult, error) {
	if c.client == nil {
		return nil, errors.New("ssh client not connected")
	}

	session, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		// Best effort: tear the session down so the remote command does not
		// outlive the run.
		session.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	}
	duration := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitStatus()
		} else {
			return nil, fmt.Errorf("run %q: %w", command, err)
		}
	}

	return &SSHResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}

// Close releases the connection. Safe to call when never connected.
func (c *CryptoSSHClient) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}
