package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
)

// LocalRunner runs commands with the local shell, for a backend co-located with the service
type LocalRunner struct {
	shell string
}

// NewLocalRunner creates a new local runner using /bin/sh
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{shell: "/bin/sh"}
}

// Run executes command with sh -c
func (r *LocalRunner) Run(ctx context.Context, command string) (CommandResult, error) {
	return r.RunWithInput(ctx, command, nil)
}

// RunWithInput executes command with sh -c, feeding stdin to it when non-nil
func (r *LocalRunner) RunWithInput(ctx context.Context, command string, stdin io.Reader) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, r.shell, "-c", command)
	if stdin != nil {
		cmd.Stdin = stdin
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return CommandResult{}, ctxErr
	}

	result := CommandResult{
		Success: err == nil,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}
	if err == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return CommandResult{}, fmt.Errorf("failed to start shell: %w", err)
}

// Close is a no-op
func (r *LocalRunner) Close() error {
	return nil
}
