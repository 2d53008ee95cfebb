package invoke

import (
	"fmt"
	"strings"
)

// DependencyError reports an external executable that could not be resolved
// on the search path.
type DependencyError struct {
	Tool string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("required executable %q not found in system path", e.Tool)
}

// ExternalToolError reports an invoked executable that exited non-zero. It
// carries the full command line so a failure can be reproduced by hand.
type ExternalToolError struct {
	Tool     string
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *ExternalToolError) Error() string {
	msg := fmt.Sprintf("%s %s: exit status %d", e.Tool, strings.Join(e.Args, " "), e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// PreconditionError reports a stage invoked without a required upstream
// artifact.
type PreconditionError struct {
	Stage   string
	Missing string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: required input %s is not present", e.Stage, e.Missing)
}
