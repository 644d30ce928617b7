// Package toolsets assembles named groups of llmstream.Tool for a sandboxed agent session.
package toolsets

import (
	"fmt"
	"path/filepath"

	"github.com/turnstile/turnstile/internal/llmstream"
	"github.com/turnstile/turnstile/internal/sandbox"
	"github.com/turnstile/turnstile/internal/tools/authdomain"
	"github.com/turnstile/turnstile/internal/tools/coretools"
	"github.com/turnstile/turnstile/internal/tools/mcp"
	"github.com/turnstile/turnstile/internal/tools/search"
)

// CoreAgentTools offers a Codex-style generic toolset: read_file, ls, create_dir, search,
// apply_patch, shell, and update_plan.
//
// sandboxDir is an absolute path that represents the "jail" that the agent runs in. However, it's
// `authorizer` that actually **implements** the jail. The purpose of accepting sandboxDir here is
// so that relative paths received by the LLM can be made absolute.
func CoreAgentTools(sandboxDir string, authorizer authdomain.Authorizer) ([]llmstream.Tool, error) {
	return CoreAgentToolsWithMCP(sandboxDir, authorizer, nil)
}

// CoreAgentToolsWithMCP is CoreAgentTools, plus one tool per (mcpServer, mcpTool) pair named
// "mcp.<server>.<tool>".
func CoreAgentToolsWithMCP(sandboxDir string, authorizer authdomain.Authorizer, mcpServers []mcp.Server) ([]llmstream.Tool, error) {
	return CoreAgentToolsWithSandbox(sandboxDir, authorizer, mcpServers, nil)
}

// CoreAgentToolsWithSandbox is CoreAgentToolsWithMCP, but runs the shell tool through
// executor's named sandbox policy instead of running commands unsandboxed. A nil
// executor preserves CoreAgentToolsWithMCP's original behavior.
func CoreAgentToolsWithSandbox(sandboxDir string, authorizer authdomain.Authorizer, mcpServers []mcp.Server, executor *sandbox.Executor) ([]llmstream.Tool, error) {
	if !filepath.IsAbs(sandboxDir) {
		return nil, fmt.Errorf("sandboxDir must be an absolute path")
	}

	tools := []llmstream.Tool{
		coretools.NewReadFileTool(authorizer),
		coretools.NewLsTool(authorizer),
		coretools.NewMkdirTool(authorizer),
		search.NewSearchTool(authorizer),
		coretools.NewApplyPatchTool(authorizer, true, nil),
		coretools.NewShellToolWithSandbox(authorizer, executor),
		coretools.NewUpdatePlanTool(authorizer),
	}
	tools = append(tools, mcp.BuildTools(mcpServers)...)
	return tools, nil
}

// SimpleReadOnlyTools offers ls, read_file, and search. It can excel at a small research task
// (ex: clarifying documentation inside a directory) where write access is unnecessary.
//
// sandboxDir is an absolute path that represents the "jail" that the agent runs in. However, it's
// `authorizer` that actually **implements** the jail. The purpose of accepting sandboxDir here is
// so that relative paths received by the LLM can be made absolute.
func SimpleReadOnlyTools(sandboxDir string, authorizer authdomain.Authorizer) ([]llmstream.Tool, error) {
	if !filepath.IsAbs(sandboxDir) {
		return nil, fmt.Errorf("sandboxDir must be an absolute path")
	}

	tools := []llmstream.Tool{
		coretools.NewLsTool(authorizer),
		coretools.NewReadFileTool(authorizer),
		search.NewSearchTool(authorizer),
	}
	return tools, nil
}
