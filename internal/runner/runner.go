package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrTimeout is returned when the child did not exit before the deadline.
// The child has already been killed by the time Run returns it.
var ErrTimeout = errors.New("process timed out")

// SpawnError wraps failures that happen before the child ever runs:
// executable not found, permission denied, bad working directory.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("spawn %s: %v", e.Path, e.Err) }
func (e *SpawnError) Unwrap() error { return e.Err }

// Command describes one external invocation.
type Command struct {
	Path    string
	Args    []string
	Env     []string // full environment for the child; nil inherits
	WorkDir string
	Timeout time.Duration
}

// Outcome captures everything observed from a finished child process.
// Streams are fully buffered, not line-streamed.
type Outcome struct {
	ExitCode  int    `json:"returncode"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// Run starts the command, waits for exit or deadline, and returns the
// captured streams plus wall-clock elapsed time. A non-zero exit is not
// an error; the caller inspects Outcome.ExitCode. On timeout the whole
// process group is killed and ErrTimeout is returned together with
// whatever output was captured up to that point.
func Run(ctx context.Context, c Command) (Outcome, error) {
	var out Outcome

	cmd := exec.Command(c.Path, c.Args...)
	if c.WorkDir != "" {
		cmd.Dir = c.WorkDir
	}
	if len(c.Env) > 0 {
		cmd.Env = c.Env
	}
	setSysProcAttr(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return out, &SpawnError{Path: c.Path, Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = time.Hour
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	var timedOut bool
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		killGroup(cmd)
		<-done
		timedOut = true
	case <-timer.C:
		killGroup(cmd)
		<-done // reap; avoid leaving a zombie
		timedOut = true
	}

	out.ElapsedMS = time.Since(start).Milliseconds()
	out.Stdout = strings.TrimSpace(stdout.String())
	out.Stderr = strings.TrimSpace(stderr.String())
	out.ExitCode = exitCode(cmd, waitErr)

	if timedOut {
		return out, fmt.Errorf("%s after %s: %w", c.Path, timeout, ErrTimeout)
	}
	return out, nil
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		var ee *exec.ExitError
		if errors.As(waitErr, &ee) {
			return ee.ExitCode()
		}
	}
	return -1
}
