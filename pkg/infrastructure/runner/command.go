// Package runner provides command execution for the CLI-backed client
// strategies and deployment steps.
package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
)

// CommandRunner is an interface for executing commands and getting the output/error
type CommandRunner interface {
	RunCommand(ctx context.Context, args ...string) (string, error)
	RunCommandStderr(ctx context.Context, args ...string) (string, error)
}

// DefaultCommandRunner executes commands on the host.
type DefaultCommandRunner struct {
	Logger *slog.Logger
}

var _ CommandRunner = &DefaultCommandRunner{}

// RunCommand runs a command and returns its combined output. The context
// bounds the command's lifetime.
func (d *DefaultCommandRunner) RunCommand(ctx context.Context, args ...string) (string, error) {
	d.debug("running command", args)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	out, err := cmd.CombinedOutput()
	d.debug("command output", args, "output", string(out))
	return string(out), err
}

// RunCommandStderr runs a command and returns only the stderr output
func (d *DefaultCommandRunner) RunCommandStderr(ctx context.Context, args ...string) (string, error) {
	d.debug("running command (stderr only)", args)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", err
	}

	cmd.Stdout = io.Discard

	if err := cmd.Start(); err != nil {
		return "", err
	}

	stderrBytes, err := io.ReadAll(stderr)
	if err != nil {
		return "", err
	}

	cmdErr := cmd.Wait()
	return string(stderrBytes), cmdErr
}

func (d *DefaultCommandRunner) debug(msg string, args []string, extra ...any) {
	if d.Logger == nil {
		return
	}
	d.Logger.Debug(msg, append([]any{"args", args}, extra...)...)
}

// FakeCommandRunner returns canned output for tests.
type FakeCommandRunner struct {
	Output string
	ErrStr string
	Calls  [][]string
}

var _ CommandRunner = &FakeCommandRunner{}

func (f *FakeCommandRunner) RunCommand(ctx context.Context, args ...string) (string, error) {
	f.Calls = append(f.Calls, args)
	if f.ErrStr != "" {
		return f.Output, errors.New(f.ErrStr)
	}
	return f.Output, nil
}

func (f *FakeCommandRunner) RunCommandStderr(ctx context.Context, args ...string) (string, error) {
	f.Calls = append(f.Calls, args)
	if f.ErrStr != "" {
		return f.ErrStr, errors.New(f.ErrStr)
	}
	return "", nil
}
