// Package processtest provides a recording process.Runner for tests.
package processtest

import (
	"context"
	"errors"
	"sync"

	"github.com/book-expert/avatar-service/internal/process"
)

var errExit = errors.New("exit status non-zero")

// Spy records every Command it receives and delegates the outcome to Handler.
// A nil Handler makes every invocation succeed with empty output.
type Spy struct {
	Handler func(cmd process.Command) (process.Result, error)

	mu    sync.Mutex
	calls []process.Command
}

// Run records cmd and invokes Handler.
func (s *Spy) Run(_ context.Context, cmd process.Command) (process.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, cmd)
	s.mu.Unlock()

	if s.Handler == nil {
		return process.Result{}, nil
	}

	return s.Handler(cmd)
}

// Calls returns a copy of the recorded commands.
func (s *Spy) Calls() []process.Command {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]process.Command(nil), s.calls...)
}

// Count returns the number of recorded invocations.
func (s *Spy) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.calls)
}

// Fail returns an ExitError the way ExecRunner reports a non-zero exit.
func Fail(cmd process.Command, code int, stderr string) (process.Result, error) {
	return process.Result{Stderr: stderr}, &process.ExitError{
		Command:  cmd,
		ExitCode: code,
		Stderr:   stderr,
		Err:      errExit,
	}
}

