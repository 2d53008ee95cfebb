package invoke

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/lucasnoah/tckfactory/internal/runlog"
)

// mockRunner records invocations and returns configurable results.
type mockRunner struct {
	calls    []string
	stdout   string
	stderr   string
	exitCode int
	runErr   error
	missing  map[string]bool // tools that LookPath cannot resolve
}

func (m *mockRunner) Run(ctx context.Context, name string, args []string) (string, string, int, error) {
	m.calls = append(m.calls, name+" "+strings.Join(args, " "))
	return m.stdout, m.stderr, m.exitCode, m.runErr
}

func (m *mockRunner) LookPath(name string) bool {
	return !m.missing[name]
}

type recorded struct {
	tool     string
	args     []string
	exitCode int
}

type mockRecorder struct {
	invocations []recorded
}

func (m *mockRecorder) RecordInvocation(tool string, args []string, exitCode int, durationMs int64) {
	m.invocations = append(m.invocations, recorded{tool: tool, args: args, exitCode: exitCode})
}

func testLogger() (*runlog.Logger, *strings.Builder) {
	var buf strings.Builder
	return runlog.New(&buf), &buf
}

func TestInvoke_Success(t *testing.T) {
	runner := &mockRunner{stdout: "done"}
	log, buf := testLogger()
	inv := NewInvoker(runner, log, nil)

	stdout, _, err := inv.Invoke(context.Background(), "mrconvert", "in.nii.gz", "out.mif")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if stdout != "done" {
		t.Errorf("stdout = %q", stdout)
	}
	if len(runner.calls) != 1 || runner.calls[0] != "mrconvert in.nii.gz out.mif" {
		t.Errorf("calls = %v", runner.calls)
	}
	// Command line must be logged before execution at info severity.
	if !strings.Contains(buf.String(), "running: mrconvert in.nii.gz out.mif") {
		t.Errorf("log missing command line:\n%s", buf.String())
	}
}

func TestInvoke_NonZeroExit(t *testing.T) {
	runner := &mockRunner{exitCode: 1, stderr: "bad gradient table"}
	log, buf := testLogger()
	inv := NewInvoker(runner, log, nil)

	_, _, err := inv.Invoke(context.Background(), "dwi2response", "dhollander", "dwi.mif")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}

	var toolErr *ExternalToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("error type = %T, want *ExternalToolError", err)
	}
	if toolErr.Tool != "dwi2response" {
		t.Errorf("tool = %q", toolErr.Tool)
	}
	if toolErr.ExitCode != 1 {
		t.Errorf("exit code = %d", toolErr.ExitCode)
	}
	if len(toolErr.Args) != 2 {
		t.Errorf("args = %v, want full argument list", toolErr.Args)
	}
	if !strings.Contains(toolErr.Stderr, "bad gradient table") {
		t.Errorf("stderr = %q", toolErr.Stderr)
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("failure not logged at error severity:\n%s", buf.String())
	}
}

func TestInvoke_StartFailure(t *testing.T) {
	runner := &mockRunner{runErr: fmt.Errorf("exec flirt: no such file")}
	log, _ := testLogger()
	inv := NewInvoker(runner, log, nil)

	_, _, err := inv.Invoke(context.Background(), "flirt")
	if err == nil {
		t.Fatal("expected error")
	}
	var toolErr *ExternalToolError
	if errors.As(err, &toolErr) {
		t.Fatal("start failure must not be an ExternalToolError")
	}
}

func TestInvoke_RecordsToLedger(t *testing.T) {
	runner := &mockRunner{}
	rec := &mockRecorder{}
	log, _ := testLogger()
	inv := NewInvoker(runner, log, rec)

	if _, _, err := inv.Invoke(context.Background(), "bet", "b0.nii.gz", "brain", "-f", "0.5"); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(rec.invocations) != 1 {
		t.Fatalf("invocations = %d, want 1", len(rec.invocations))
	}
	if rec.invocations[0].tool != "bet" {
		t.Errorf("recorded tool = %q", rec.invocations[0].tool)
	}
}

func TestCheckTool(t *testing.T) {
	runner := &mockRunner{missing: map[string]bool{"ss3t_csd_beta1": true}}
	log, _ := testLogger()
	inv := NewInvoker(runner, log, nil)

	if err := inv.CheckTool("flirt"); err != nil {
		t.Errorf("CheckTool(flirt) = %v, want nil", err)
	}

	err := inv.CheckTool("ss3t_csd_beta1")
	var depErr *DependencyError
	if !errors.As(err, &depErr) {
		t.Fatalf("error type = %T, want *DependencyError", err)
	}
	if depErr.Tool != "ss3t_csd_beta1" {
		t.Errorf("tool = %q", depErr.Tool)
	}
}

func TestAvailable(t *testing.T) {
	runner := &mockRunner{missing: map[string]bool{"mrresize": true}}
	log, _ := testLogger()
	inv := NewInvoker(runner, log, nil)

	if inv.Available("mrresize") {
		t.Error("mrresize should be unavailable")
	}
	if !inv.Available("mrgrid") {
		t.Error("mrgrid should be available")
	}
}
