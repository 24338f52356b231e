package agent

import (
	"fmt"
	"time"
)

// TimeoutError reports that the agent process exceeded its wall-clock budget
// and was forcibly terminated.
type TimeoutError struct {
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("agent timed out after %s", e.Budget)
}

// ProcessError reports a non-zero agent exit. Stderr is truncated to
// stderrExcerptLen characters.
type ProcessError struct {
	ExitCode int
	Stderr   string
}

func (e *ProcessError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("agent exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("agent exited with code %d: %s", e.ExitCode, e.Stderr)
}
