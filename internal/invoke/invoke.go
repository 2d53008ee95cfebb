// Package invoke wraps the external image-processing executables the
// pipeline drives. Every invocation is synchronous, runs without a shell,
// captures both output streams, and is recorded to the run log before it
// executes — tool failures are otherwise opaque.
package invoke

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/lucasnoah/tckfactory/internal/runlog"
)

// Runner abstracts process execution for testability.
type Runner interface {
	Run(ctx context.Context, name string, args []string) (stdout string, stderr string, exitCode int, err error)
	LookPath(name string) bool
}

// ExecRunner implements Runner with os/exec. Arguments are passed directly
// to the executable, never through a shell.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, name string, args []string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec %s: %w", name, err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

func (e *ExecRunner) LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// Recorder receives a record of every completed invocation. Implemented by
// the run ledger; nil-safe at the call sites that accept one.
type Recorder interface {
	RecordInvocation(tool string, args []string, exitCode int, durationMs int64)
}

// Invoker runs named executables and applies the pipeline's error policy.
type Invoker struct {
	runner Runner
	log    *runlog.Logger
	rec    Recorder // may be nil
}

// NewInvoker creates an Invoker that executes through runner and records to
// log. rec may be nil when no ledger is attached.
func NewInvoker(runner Runner, log *runlog.Logger, rec Recorder) *Invoker {
	return &Invoker{runner: runner, log: log, rec: rec}
}

// CheckTool verifies that name resolves on the search path, returning a
// *DependencyError when it does not.
func (inv *Invoker) CheckTool(name string) error {
	if !inv.runner.LookPath(name) {
		return &DependencyError{Tool: name}
	}
	return nil
}

// Available reports whether name resolves on the search path. Used to select
// between equivalent tools without exception-driven control flow.
func (inv *Invoker) Available(name string) bool {
	return inv.runner.LookPath(name)
}

// Invoke runs name with args, logging the full command line first. A
// non-zero exit is logged at error severity and returned as a
// *ExternalToolError; callers never re-check the status themselves.
func (inv *Invoker) Invoke(ctx context.Context, name string, args ...string) (string, string, error) {
	inv.log.Info("running: %s %s", name, strings.Join(args, " "))

	stdout, stderr, exitCode, err := timedRun(inv, ctx, name, args)
	if err != nil {
		inv.log.Error("command %s could not be started: %v", name, err)
		return stdout, stderr, err
	}

	if len(stdout) > 0 {
		inv.log.Info("%s", stdout)
	}
	if len(stderr) > 0 {
		inv.log.Warning("%s", stderr)
	}

	if exitCode != 0 {
		inv.log.Error("command: %s %s failed with returncode %d",
			name, strings.Join(args, " "), exitCode)
		return stdout, stderr, &ExternalToolError{
			Tool:     name,
			Args:     args,
			ExitCode: exitCode,
			Stderr:   stderr,
		}
	}
	return stdout, stderr, nil
}

func timedRun(inv *Invoker, ctx context.Context, name string, args []string) (string, string, int, error) {
	start := nowMillis()
	stdout, stderr, exitCode, err := inv.runner.Run(ctx, name, args)
	if inv.rec != nil && err == nil {
		inv.rec.RecordInvocation(name, args, exitCode, nowMillis()-start)
	}
	return stdout, stderr, exitCode, err
}
