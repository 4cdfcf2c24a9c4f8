package executor_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"reasoning-trainer/core/executor"
	"reasoning-trainer/core/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func privateKeyPEM(t *testing.T) []byte {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	return pem.EncodeToMemory(block)
}

func TestNewSSHRunnerHostKeyVerification(t *testing.T) {
	key := privateKeyPEM(t)
	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(knownHosts, nil, 0o600))

	tests := []struct {
		name    string
		opts    executor.SSHOptions
		wantErr string
	}{
		{
			name:    "no known hosts",
			opts:    executor.SSHOptions{Host: "gpu", User: "ubuntu", PrivateKey: key},
			wantErr: "known hosts file is required",
		},
		{
			name: "known hosts file",
			opts: executor.SSHOptions{Host: "gpu", User: "ubuntu", PrivateKey: key, KnownHostsFile: knownHosts},
		},
		{
			name: "explicitly insecure",
			opts: executor.SSHOptions{Host: "gpu", User: "ubuntu", PrivateKey: key, InsecureIgnoreHostKey: true},
		},
		{
			name:    "missing known hosts file",
			opts:    executor.SSHOptions{Host: "gpu", User: "ubuntu", PrivateKey: key, KnownHostsFile: filepath.Join(t.TempDir(), "absent")},
			wantErr: "failed to load known hosts",
		},
		{
			name:    "bad key",
			opts:    executor.SSHOptions{Host: "gpu", User: "ubuntu", PrivateKey: []byte("nope"), InsecureIgnoreHostKey: true},
			wantErr: "failed to parse private key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner, err := executor.NewSSHRunner(tt.opts, logging.Nop())
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, runner.Close())
		})
	}
}
