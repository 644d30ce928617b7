package coretools

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/turnstile/turnstile/internal/llmstream"
	"github.com/turnstile/turnstile/internal/tools/authdomain"
)

//go:embed mkdir.md
var descriptionMkdir string

const ToolNameMkdir = "create_dir"

type toolMkdir struct {
	sandboxAbsDir string
	authorizer    authdomain.Authorizer
}

type paramsMkdir struct {
	Path              string `json:"path"`
	RequestPermission bool   `json:"request_permission"`
}

func NewMkdirTool(authorizer authdomain.Authorizer) llmstream.Tool {
	return &toolMkdir{
		sandboxAbsDir: authorizer.SandboxDir(),
		authorizer:    authorizer,
	}
}

func (t *toolMkdir) Name() string { return ToolNameMkdir }

func (t *toolMkdir) Info() llmstream.ToolInfo {
	return llmstream.ToolInfo{
		Name:        ToolNameMkdir,
		Description: strings.TrimSpace(descriptionMkdir),
		Parameters: map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Directory to create (absolute, or relative to sandbox dir). Parent directories are created as needed.",
			},
			"request_permission": map[string]any{
				"type":        "boolean",
				"description": "Optionally request the user's permission. Set to true for material access outside sandbox dir",
			},
		},
		Required: []string{"path"},
	}
}

func (t *toolMkdir) Run(ctx context.Context, call llmstream.ToolCall) llmstream.ToolResult {
	var params paramsMkdir
	if err := json.Unmarshal([]byte(call.Input), &params); err != nil {
		return NewToolErrorResult(call, fmt.Sprintf("error parsing parameters: %s", err), err)
	}
	if strings.TrimSpace(params.Path) == "" {
		return llmstream.NewErrorToolResult("path is required", call)
	}

	absPath, _, normErr := NormalizePath(params.Path, t.sandboxAbsDir, WantPathTypeDir, false)
	if normErr != nil {
		return NewToolErrorResult(call, normErr.Error(), normErr)
	}

	if t.authorizer != nil {
		if authErr := t.authorizer.IsAuthorizedForWrite(params.RequestPermission, "", ToolNameMkdir, absPath); authErr != nil {
			return NewAuthDeniedToolResult(call, authErr)
		}
	}

	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return NewToolErrorResult(call, err.Error(), err)
	}

	return llmstream.ToolResult{
		CallID: call.CallID,
		Name:   call.Name,
		Type:   call.Type,
		Result: fmt.Sprintf("created directory %s", absPath),
	}
}
