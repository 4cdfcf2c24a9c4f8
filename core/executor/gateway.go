package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ternarybob/arbor"
)

// CommandResult is the outcome of a shell command that reached the backend host.
// A command that ran and exited non-zero has Success=false; it is not an error.
type CommandResult struct {
	Success  bool
	Stdout   string
	Stderr   string
	ExitCode int
}

// GenerateResult is the outcome of a single text generation call
type GenerateResult struct {
	Success bool
	Text    string
	Model   string
	Error   string
}

// StreamChunk is one incremental piece of a streamed generation.
// The final chunk has Done=true or Success=false.
type StreamChunk struct {
	Success bool
	Content string
	Done    bool
	Error   string
}

// RemoteExecutor is the single seam between the service and the backend host.
//
// Execute returns an error only when the command could not be dispatched at all
// (unreachable host, broken session, cancelled context). Generate and
// GenerateStream never return errors; failures travel as Success=false.
//
// ExecuteWithInput streams input to the command's standard input, which is how
// file contents reach the backend without passing through the command line.
type RemoteExecutor interface {
	Execute(ctx context.Context, command string) (CommandResult, error)
	ExecuteWithInput(ctx context.Context, command string, input []byte) (CommandResult, error)
	Generate(ctx context.Context, prompt, model string) GenerateResult
	GenerateStream(ctx context.Context, prompt, model string) <-chan StreamChunk
}

// CommandRunner runs shell commands on the backend host
type CommandRunner interface {
	Run(ctx context.Context, command string) (CommandResult, error)
	RunWithInput(ctx context.Context, command string, stdin io.Reader) (CommandResult, error)
	Close() error
}

// Generator produces text from the backend inference server
type Generator interface {
	Generate(ctx context.Context, prompt, model string) GenerateResult
	GenerateStream(ctx context.Context, prompt, model string) <-chan StreamChunk
}

// Gateway joins a command runner and a generator into a RemoteExecutor
type Gateway struct {
	runner         CommandRunner
	generator      Generator
	commandTimeout time.Duration
	logger         arbor.ILogger
}

// NewGateway creates a new gateway
func NewGateway(runner CommandRunner, generator Generator, commandTimeout time.Duration, logger arbor.ILogger) *Gateway {
	if commandTimeout <= 0 {
		commandTimeout = 30 * time.Second
	}
	return &Gateway{
		runner:         runner,
		generator:      generator,
		commandTimeout: commandTimeout,
		logger:         logger,
	}
}

// Execute runs command on the backend host with the configured timeout
func (g *Gateway) Execute(ctx context.Context, command string) (CommandResult, error) {
	return g.execute(ctx, command, nil)
}

// ExecuteWithInput runs command with input on its standard input
func (g *Gateway) ExecuteWithInput(ctx context.Context, command string, input []byte) (CommandResult, error) {
	return g.execute(ctx, command, input)
}

func (g *Gateway) execute(ctx context.Context, command string, input []byte) (CommandResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.commandTimeout)
	defer cancel()

	start := time.Now()
	var (
		result CommandResult
		err    error
	)
	if input == nil {
		result, err = g.runner.Run(ctx, command)
	} else {
		result, err = g.runner.RunWithInput(ctx, command, bytes.NewReader(input))
	}
	if err != nil {
		g.logger.Warn().Err(err).Str("command", summarize(command)).Msg("Command dispatch failed")
		return CommandResult{Success: false, Stderr: err.Error(), ExitCode: -1}, fmt.Errorf("dispatch command: %w", err)
	}

	g.logger.Debug().
		Str("command", summarize(command)).
		Bool("success", result.Success).
		Int("exit_code", result.ExitCode).
		Int("input_bytes", len(input)).
		Str("elapsed", time.Since(start).String()).
		Msg("Command finished")
	return result, nil
}

// Generate produces a single completion
func (g *Gateway) Generate(ctx context.Context, prompt, model string) GenerateResult {
	return g.generator.Generate(ctx, prompt, model)
}

// GenerateStream produces a completion incrementally
func (g *Gateway) GenerateStream(ctx context.Context, prompt, model string) <-chan StreamChunk {
	return g.generator.GenerateStream(ctx, prompt, model)
}

// Close releases the command channel
func (g *Gateway) Close() error {
	return g.runner.Close()
}

// summarize keeps log lines short
func summarize(command string) string {
	const max = 120
	if len(command) <= max {
		return command
	}
	return command[:max] + "..."
}
