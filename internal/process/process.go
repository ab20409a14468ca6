// Package process runs external tools as child processes with an explicit working
// directory, an optional timeout and captured output.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// maxDiagnosticBytes bounds the captured output kept on an ExitError.
const maxDiagnosticBytes = 8 << 10

// ErrEmptyCommand is returned when a Command has no program name.
var ErrEmptyCommand = errors.New("command name cannot be empty")

// Command describes one external tool invocation.
//
// Dir is the child's working directory; the calling process's own working
// directory is never changed.
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Timeout time.Duration
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result carries the captured streams of a finished process.
type Result struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// ExitError reports a process that could not start, exited non-zero or was killed.
type ExitError struct {
	Command  Command
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s failed (exit code %d): %v", e.Command.Name, e.ExitCode, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Diagnostics returns the tail of the captured output, for logs only.
func (e *ExitError) Diagnostics() string {
	return fmt.Sprintf("STDOUT: %s\nSTDERR: %s", tail(e.Stdout), tail(e.Stderr))
}

// Runner executes a Command and blocks until it exits.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner implements Runner with os/exec.
type ExecRunner struct{}

// NewExecRunner creates a Runner backed by os/exec.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run starts the command and waits for it. Cancelling ctx or exceeding
// cmd.Timeout kills the child.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Name == "" {
		return Result{}, ErrEmptyCommand
	}

	if cmd.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	// #nosec G204 -- program names and flags come from operator configuration
	child := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	child.Dir = cmd.Dir

	var stdout, stderr bytes.Buffer

	child.Stdout = &stdout
	child.Stderr = &stderr

	started := time.Now()
	runErr := child.Run()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(started),
	}

	if runErr == nil {
		return result, nil
	}

	exitCode := -1

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		exitCode = exitErr.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		runErr = fmt.Errorf("%w: %w", ctxErr, runErr)
	}

	return result, &ExitError{
		Command:  cmd,
		ExitCode: exitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		Err:      runErr,
	}
}

func tail(output string) string {
	if len(output) <= maxDiagnosticBytes {
		return output
	}

	return "..." + output[len(output)-maxDiagnosticBytes:]
}
