package testutil

import (
	"context"
	"strings"
	"sync"

	"reasoning-trainer/core/executor"
)

// FakeExecutor is a RemoteExecutor whose behaviour is set per test through
// function fields. Every executed command is recorded.
type FakeExecutor struct {
	ExecuteFunc        func(ctx context.Context, command string) (executor.CommandResult, error)
	GenerateFunc       func(ctx context.Context, prompt, model string) executor.GenerateResult
	GenerateStreamFunc func(ctx context.Context, prompt, model string) <-chan executor.StreamChunk

	mu       sync.Mutex
	commands []string
	inputs   map[string][]byte
}

// Execute records command and delegates to ExecuteFunc
func (f *FakeExecutor) Execute(ctx context.Context, command string) (executor.CommandResult, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.mu.Unlock()

	if f.ExecuteFunc != nil {
		return f.ExecuteFunc(ctx, command)
	}
	return executor.CommandResult{Success: true}, nil
}

// ExecuteWithInput records command with its input and delegates to ExecuteFunc
func (f *FakeExecutor) ExecuteWithInput(ctx context.Context, command string, input []byte) (executor.CommandResult, error) {
	f.mu.Lock()
	if f.inputs == nil {
		f.inputs = make(map[string][]byte)
	}
	f.inputs[command] = append([]byte(nil), input...)
	f.mu.Unlock()

	return f.Execute(ctx, command)
}

// Input returns the standard input sent with command, if any
func (f *FakeExecutor) Input(command string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.inputs[command]
	return in, ok
}

// Generate delegates to GenerateFunc
func (f *FakeExecutor) Generate(ctx context.Context, prompt, model string) executor.GenerateResult {
	if f.GenerateFunc != nil {
		return f.GenerateFunc(ctx, prompt, model)
	}
	return executor.GenerateResult{Success: false, Error: "not configured"}
}

// GenerateStream delegates to GenerateStreamFunc
func (f *FakeExecutor) GenerateStream(ctx context.Context, prompt, model string) <-chan executor.StreamChunk {
	if f.GenerateStreamFunc != nil {
		return f.GenerateStreamFunc(ctx, prompt, model)
	}
	return Chunks(executor.StreamChunk{Success: false, Error: "not configured", Done: true})
}

// Commands returns the commands executed so far
func (f *FakeExecutor) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// CommandsContaining returns executed commands that contain substr
func (f *FakeExecutor) CommandsContaining(substr string) []string {
	var out []string
	for _, c := range f.Commands() {
		if strings.Contains(c, substr) {
			out = append(out, c)
		}
	}
	return out
}

// Chunks returns a closed, buffered channel holding chunks
func Chunks(chunks ...executor.StreamChunk) <-chan executor.StreamChunk {
	ch := make(chan executor.StreamChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}
