package toolsets

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/turnstile/turnstile/internal/llmstream"
	"github.com/turnstile/turnstile/internal/tools/authdomain"
	"github.com/turnstile/turnstile/internal/tools/coretools"
	"github.com/turnstile/turnstile/internal/tools/search"
)

func TestCoreAgentTools(t *testing.T) {
	sandbox := t.TempDir()
	auth := authdomain.NewAutoApproveAuthorizer(sandbox)

	tools, err := CoreAgentTools(sandbox, auth)
	require.NoError(t, err)

	assertToolNames(t, tools, []string{
		coretools.ToolNameReadFile,
		coretools.ToolNameLS,
		coretools.ToolNameMkdir,
		search.ToolNameSearch,
		coretools.ToolNameApplyPatch,
		coretools.ToolNameShell,
		coretools.ToolNameUpdatePlan,
	})
}

func TestCoreAgentTools_RequiresAbsoluteSandbox(t *testing.T) {
	auth := authdomain.NewAutoApproveAuthorizer(t.TempDir())
	_, err := CoreAgentTools("relative/path", auth)
	require.Error(t, err)
}

func TestSimpleReadOnlyTools(t *testing.T) {
	sandbox := t.TempDir()
	auth := authdomain.NewAutoApproveAuthorizer(sandbox)

	tools, err := SimpleReadOnlyTools(sandbox, auth)
	require.NoError(t, err)

	assertToolNames(t, tools, []string{
		coretools.ToolNameLS,
		coretools.ToolNameReadFile,
		search.ToolNameSearch,
	})
}

func assertToolNames(t *testing.T, tools []llmstream.Tool, want []string) {
	t.Helper()

	got := make([]string, len(tools))
	for i, tool := range tools {
		got[i] = tool.Name()
	}

	if len(got) != len(want) {
		t.Fatalf("tool count mismatch: got %d, want %d (names=%v)", len(got), len(want), got)
	}
	for i, name := range want {
		if got[i] != name {
			t.Fatalf("tool[%d] mismatch: got %q, want %q (all=%v)", i, got[i], name, got)
		}
	}
}
