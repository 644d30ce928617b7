// Package sandbox wraps subprocess execution behind the three named sandbox
// policies, on top of the same exec.CommandContext/CombinedOutput/timeout body
// the shell tool uses directly.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/turnstile/turnstile/internal/tools/authdomain"
)

// Policy selects what an Executor is willing to run.
type Policy int

const (
	// PolicyNone refuses every command outright. Never auto-selected; only reachable
	// via an explicit FullAuto operator override.
	PolicyNone Policy = iota
	// PolicyWorkspaceOnly defers filesystem write enforcement to the Authorizer
	// (already scoped to SandboxDir()); network access is left to the OS, same
	// posture as the unsandboxed shell tool.
	PolicyWorkspaceOnly
	// PolicyReadOnly refuses any argv that authdomain's command classification does
	// not consider safe.
	PolicyReadOnly
)

// ErrSandboxUnavailable is returned when Policy refuses the command outright
// (PolicyNone, or PolicyReadOnly against a non-safe command).
var ErrSandboxUnavailable = errors.New("sandbox: unavailable under current policy")

// ErrTimeout is returned when the command was killed after exceeding its deadline.
var ErrTimeout = errors.New("sandbox: timed out")

// ErrKilled is returned when the process was killed due to exceeding the output cap.
type ErrKilled struct {
	Reason string
}

func (e *ErrKilled) Error() string { return fmt.Sprintf("sandbox: killed: %s", e.Reason) }

// ErrNonZeroExit is returned when the command ran to completion with a non-zero exit
// code; Stdout/Stderr are the combined-output bytes captured before the cap (if any).
type ErrNonZeroExit struct {
	Code   int
	Output []byte
}

func (e *ErrNonZeroExit) Error() string {
	return fmt.Sprintf("sandbox: exited with code %d", e.Code)
}

// MaxOutputBytes caps combined stdout+stderr capture; breach sets Result.Truncated
// and kills the process rather than letting it run unbounded.
const MaxOutputBytes = 1 << 20 // 1 MiB

// Result is the outcome of one Executor.Run call.
type Result struct {
	Output    []byte
	Truncated bool
	ExitCode  int
	Duration  time.Duration
	TimedOut  bool
}

// Executor runs shell commands under a fixed Policy and Authorizer.
type Executor struct {
	Policy     Policy
	Authorizer authdomain.Authorizer
	Commands   *authdomain.ShellAllowedCommands
}

// New constructs an Executor. commands may be nil only when policy is not
// PolicyReadOnly (ReadOnly needs a command classifier to decide what's safe).
func New(policy Policy, authorizer authdomain.Authorizer, commands *authdomain.ShellAllowedCommands) *Executor {
	return &Executor{Policy: policy, Authorizer: authorizer, Commands: commands}
}

// Run executes argv in dir under the Executor's policy, capturing combined
// stdout+stderr up to MaxOutputBytes.
func (e *Executor) Run(ctx context.Context, dir string, argv []string, timeout time.Duration) (Result, error) {
	if len(argv) == 0 {
		return Result{}, fmt.Errorf("sandbox: argv is empty")
	}

	if err := e.checkPolicy(argv); err != nil {
		return Result{}, err
	}

	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir

	capture := &cappedBuffer{limit: MaxOutputBytes}
	cmd.Stdout = capture
	cmd.Stderr = capture

	start := time.Now()
	err := cmd.Run()
	dur := time.Since(start)

	if capture.exceeded {
		_ = cmd.Process.Kill()
		return Result{Output: capture.Bytes(), Truncated: true, Duration: dur}, &ErrKilled{Reason: "output cap exceeded"}
	}

	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	if timedOut {
		return Result{Output: capture.Bytes(), Duration: dur, TimedOut: true}, ErrTimeout
	}

	var exitErr *exec.ExitError
	if err != nil && errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		return Result{Output: capture.Bytes(), ExitCode: code, Duration: dur},
			&ErrNonZeroExit{Code: code, Output: capture.Bytes()}
	}
	if err != nil {
		return Result{Output: capture.Bytes(), Duration: dur}, fmt.Errorf("sandbox: spawn: %w", err)
	}

	return Result{Output: capture.Bytes(), Duration: dur}, nil
}

func (e *Executor) checkPolicy(argv []string) error {
	switch e.Policy {
	case PolicyNone:
		return ErrSandboxUnavailable
	case PolicyReadOnly:
		if e.Commands == nil {
			return ErrSandboxUnavailable
		}
		result, err := e.Commands.Check(argv)
		if err != nil {
			return fmt.Errorf("sandbox: classify command: %w", err)
		}
		if result != authdomain.CommandCheckResultSafe {
			return ErrSandboxUnavailable
		}
		return nil
	default: // PolicyWorkspaceOnly
		return nil
	}
}

// cappedBuffer accumulates writes up to limit bytes; further writes are dropped and
// exceeded is set, leaving the caller to kill the process.
type cappedBuffer struct {
	buf      []byte
	limit    int
	exceeded bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if c.exceeded {
		return len(p), nil
	}
	remaining := c.limit - len(c.buf)
	if remaining <= 0 {
		c.exceeded = true
		return len(p), nil
	}
	if len(p) > remaining {
		c.buf = append(c.buf, p[:remaining]...)
		c.exceeded = true
		return len(p), nil
	}
	c.buf = append(c.buf, p...)
	return len(p), nil
}

func (c *cappedBuffer) Bytes() []byte { return c.buf }
