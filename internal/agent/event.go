package agent

import "github.com/turnstile/turnstile/internal/llmstream"

// EventType categorises agent events emitted from SendUserMessage.
type EventType string

const (
	EventTypeError                 EventType = "error"
	EventTypeCanceled              EventType = "canceled"
	EventTypeDoneSuccess           EventType = "done_success"
	EventTypeAssistantText         EventType = "assistant_text"
	EventTypeAssistantReasoning    EventType = "assistant_reasoning"
	// EventTypeTextDelta carries one incremental fragment of assistant text, forwarded
	// as it arrives. TextContent.Content is the cumulative text so far; Delta is just
	// the new fragment. Raw mode forwards these verbatim; Aggregate mode folds them
	// into a single EventTypeAssistantText block per item.
	EventTypeTextDelta EventType = "text_delta"
	// EventTypeReasoningDelta is EventTypeTextDelta's reasoning counterpart.
	EventTypeReasoningDelta        EventType = "reasoning_delta"
	EventTypeToolCall              EventType = "tool_call"
	EventTypeToolComplete          EventType = "tool_complete"
	EventTypeAssistantTurnComplete EventType = "assistant_turn_complete"
	EventTypeWarning               EventType = "warning"
	EventTypeRetry                 EventType = "retry"
)

// Event conveys progress or status updates from the agent loop.
type Event struct {
	Agent AgentMeta

	Type  EventType
	Error error

	// Delta is the new fragment added to TextContent/ReasoningContent by this event.
	// Only set on EventTypeTextDelta and EventTypeReasoningDelta.
	Delta string

	TextContent llmstream.TextContent

	ReasoningContent llmstream.ReasoningContent

	Tool       string
	ToolCall   *llmstream.ToolCall
	ToolResult *llmstream.ToolResult

	Turn *llmstream.Turn
}

// AgentMeta carries metadata describing which agent produced an event.
type AgentMeta struct {
	ID    string
	Depth int
}
