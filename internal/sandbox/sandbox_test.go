package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/turnstile/turnstile/internal/tools/authdomain"
)

func TestPolicyNoneAlwaysRefuses(t *testing.T) {
	t.Parallel()

	e := New(PolicyNone, authdomain.NewAutoApproveAuthorizer(t.TempDir()), nil)
	_, err := e.Run(context.Background(), t.TempDir(), []string{"echo", "hi"}, 0)
	require.ErrorIs(t, err, ErrSandboxUnavailable)
}

func TestPolicyWorkspaceOnlyRunsCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	e := New(PolicyWorkspaceOnly, authdomain.NewAutoApproveAuthorizer(dir), nil)
	result, err := e.Run(context.Background(), dir, []string{"echo", "hello"}, 0)
	require.NoError(t, err)
	require.Contains(t, string(result.Output), "hello")
	require.False(t, result.Truncated)
}

func TestPolicyReadOnlyRefusesWithoutClassifier(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	e := New(PolicyReadOnly, authdomain.NewAutoApproveAuthorizer(dir), nil)
	_, err := e.Run(context.Background(), dir, []string{"echo", "hi"}, 0)
	require.ErrorIs(t, err, ErrSandboxUnavailable)
}

func TestPolicyReadOnlyRefusesNonSafeCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	commands := authdomain.NewShellAllowedCommands()
	e := New(PolicyReadOnly, authdomain.NewAutoApproveAuthorizer(dir), commands)
	_, err := e.Run(context.Background(), dir, []string{"rm", "-rf", "/"}, 0)
	require.ErrorIs(t, err, ErrSandboxUnavailable)
}

func TestRunCapturesNonZeroExit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	e := New(PolicyWorkspaceOnly, authdomain.NewAutoApproveAuthorizer(dir), nil)
	_, err := e.Run(context.Background(), dir, []string{"sh", "-c", "exit 3"}, 0)
	var exitErr *ErrNonZeroExit
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, 3, exitErr.Code)
}

func TestRunTimesOut(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	e := New(PolicyWorkspaceOnly, authdomain.NewAutoApproveAuthorizer(dir), nil)
	_, err := e.Run(context.Background(), dir, []string{"sleep", "5"}, 10*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestRunTruncatesOversizedOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	e := New(PolicyWorkspaceOnly, authdomain.NewAutoApproveAuthorizer(dir), nil)
	result, err := e.Run(context.Background(), dir, []string{"sh", "-c", "yes | head -c 2000000"}, 0)
	var killed *ErrKilled
	require.True(t, errors.As(err, &killed))
	require.True(t, result.Truncated)
	require.LessOrEqual(t, len(result.Output), MaxOutputBytes)
}
