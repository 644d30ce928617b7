// Package mcp adapts Model Context Protocol servers into llmstream.Tool, so MCP-hosted
// tools are dispatched through the same registry as built-in tools (mcp.<server>.<tool>).
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/turnstile/turnstile/internal/llmstream"
)

const (
	// JSON-RPC canonical error codes, per spec.
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// Caller invokes a tool on a single MCP server. It is implemented by transport-specific
// clients (stdio, HTTP streaming, etc.); this package does not implement a transport.
type Caller interface {
	CallTool(ctx context.Context, req CallRequest) (CallResponse, error)
}

// CallRequest describes a single MCP tool invocation.
type CallRequest struct {
	Tool    string          // MCP-local tool name (without the server prefix).
	Payload json.RawMessage // JSON-encoded tool arguments.
}

// CallResponse captures an MCP tool result.
type CallResponse struct {
	Result     json.RawMessage
	Structured json.RawMessage
}

// Error represents a JSON-RPC error returned by an MCP server.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Server describes one configured MCP server: its name (used as the tool name prefix),
// a Caller to dispatch through, and the tool descriptions it advertises.
type Server struct {
	Name  string
	Tools []llmstream.ToolInfo
	Call  Caller
}

// BuildTools returns one llmstream.Tool per (server, tool) pair, named
// "mcp.<server>.<tool>" per the wire contract. A failing CallTool never fails the
// turn: it surfaces as an error ToolResult.
func BuildTools(servers []Server) []llmstream.Tool {
	var tools []llmstream.Tool
	for _, srv := range servers {
		for _, info := range srv.Tools {
			tools = append(tools, &mcpTool{server: srv.Name, toolName: info.Name, info: info, caller: srv.Call})
		}
	}
	return tools
}

type mcpTool struct {
	server   string
	toolName string
	info     llmstream.ToolInfo
	caller   Caller
}

func (t *mcpTool) Name() string {
	return fmt.Sprintf("mcp.%s.%s", t.server, t.toolName)
}

func (t *mcpTool) Info() llmstream.ToolInfo {
	info := t.info
	info.Name = t.Name()
	return info
}

func (t *mcpTool) Run(ctx context.Context, call llmstream.ToolCall) llmstream.ToolResult {
	if t.caller == nil {
		return llmstream.NewErrorToolResult(fmt.Sprintf("mcp server %q is not connected", t.server), call)
	}

	resp, err := t.caller.CallTool(ctx, CallRequest{Tool: t.toolName, Payload: json.RawMessage(call.Input)})
	if err != nil {
		var rpcErr *Error
		if e, ok := err.(*Error); ok {
			rpcErr = e
		}
		msg := err.Error()
		if rpcErr != nil {
			msg = fmt.Sprintf("mcp error %d: %s", rpcErr.Code, rpcErr.Message)
		}
		return llmstream.ToolResult{CallID: call.CallID, Name: call.Name, Type: call.Type, Result: msg, IsError: true, SourceErr: err}
	}

	payload := resp.Result
	if len(resp.Structured) > 0 {
		payload = resp.Structured
	}
	return llmstream.ToolResult{CallID: call.CallID, Name: call.Name, Type: call.Type, Result: string(payload)}
}
