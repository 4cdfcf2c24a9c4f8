package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHRunner runs commands on the backend host over a reused SSH connection
type SSHRunner struct {
	addr   string
	config *ssh.ClientConfig
	logger arbor.ILogger

	mu     sync.Mutex
	client *ssh.Client
}

// SSHOptions configures an SSHRunner
type SSHOptions struct {
	Host           string
	User           string
	PrivateKey     []byte
	KnownHostsFile string
	// InsecureIgnoreHostKey accepts any host key when KnownHostsFile is empty
	InsecureIgnoreHostKey bool
	DialTimeout           time.Duration
}

// NewSSHRunner creates a new SSH runner. The connection is dialled lazily.
func NewSSHRunner(opts SSHOptions, logger arbor.ILogger) (*SSHRunner, error) {
	signer, err := ssh.ParsePrivateKey(opts.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	var hostKeyCallback ssh.HostKeyCallback
	switch {
	case opts.KnownHostsFile != "":
		hostKeyCallback, err = knownhosts.New(opts.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
	case opts.InsecureIgnoreHostKey:
		logger.Warn().Str("host", opts.Host).Msg("SSH host key verification is disabled")
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	default:
		return nil, errors.New("a known hosts file is required to verify the SSH host key")
	}

	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	addr := opts.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	return &SSHRunner{
		addr: addr,
		config: &ssh.ClientConfig{
			User:            opts.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         timeout,
		},
		logger: logger,
	}, nil
}

// NewSSHRunnerFromKeyFile reads the private key from disk
func NewSSHRunnerFromKeyFile(opts SSHOptions, keyPath string, logger arbor.ILogger) (*SSHRunner, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	opts.PrivateKey = key
	return NewSSHRunner(opts, logger)
}

// Run executes command in a new session
func (r *SSHRunner) Run(ctx context.Context, command string) (CommandResult, error) {
	return r.RunWithInput(ctx, command, nil)
}

// RunWithInput executes command in a new session with stdin attached to the
// remote process when non-nil
func (r *SSHRunner) RunWithInput(ctx context.Context, command string, stdin io.Reader) (CommandResult, error) {
	client, err := r.connect()
	if err != nil {
		return CommandResult{}, err
	}

	session, err := client.NewSession()
	if err != nil {
		// the cached connection is likely dead; redial on the next call
		r.reset(client)
		return CommandResult{}, fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	if stdin != nil {
		session.Stdin = stdin
	}
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return CommandResult{}, ctx.Err()
	case err = <-done:
	}

	result := CommandResult{
		Success: err == nil,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}
	if err == nil {
		return result, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitStatus()
		return result, nil
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		r.reset(client)
		return CommandResult{}, fmt.Errorf("remote command ended without exit status: %w", err)
	}
	r.reset(client)
	return CommandResult{}, fmt.Errorf("remote command failed: %w", err)
}

// TestConnection verifies the backend host accepts a trivial command
func (r *SSHRunner) TestConnection(ctx context.Context) error {
	result, err := r.Run(ctx, "true")
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("connection test exited with status %d", result.ExitCode)
	}
	return nil
}

// Close closes the cached connection
func (r *SSHRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

func (r *SSHRunner) connect() (*ssh.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}

	client, err := ssh.Dial("tcp", r.addr, r.config)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", r.addr, err)
	}
	r.logger.Info().Str("addr", r.addr).Msg("SSH connection established")
	r.client = client
	return client, nil
}

func (r *SSHRunner) reset(stale *ssh.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == stale {
		_ = r.client.Close()
		r.client = nil
	}
}
