package session

import (
	"encoding/json"

	"github.com/turnstile/turnstile/internal/llmstream"
)

// wireItem is the on-disk, JSON-stable encoding of an llmstream.Turn. llmstream.Turn
// holds Parts as a []ContentPart interface slice, which does not round-trip through
// encoding/json on its own, so each part is tagged with its kind on the way out and
// switched back to its concrete type on the way in.
type wireItem struct {
	Role         string          `json:"role"`
	ProviderID   string          `json:"provider_id,omitempty"`
	Parts        []wirePart      `json:"parts,omitempty"`
	Usage        llmstream.TokenUsage `json:"usage"`
	FinishReason string          `json:"finish_reason,omitempty"`
}

type wirePart struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func roleToWire(r llmstream.Role) string {
	switch r {
	case llmstream.RoleUser:
		return "user"
	case llmstream.RoleSystem:
		return "system"
	case llmstream.RoleAssistant:
		return "assistant"
	default:
		return "user"
	}
}

func roleFromWire(s string) llmstream.Role {
	switch s {
	case "system":
		return llmstream.RoleSystem
	case "assistant":
		return llmstream.RoleAssistant
	default:
		return llmstream.RoleUser
	}
}

func toWireItem(t llmstream.Turn) wireItem {
	item := wireItem{
		Role:         roleToWire(t.Role),
		ProviderID:   t.ProviderID,
		Usage:        t.Usage,
		FinishReason: string(t.FinishReason),
	}
	for _, part := range t.Parts {
		wp, ok := toWirePart(part)
		if !ok {
			continue
		}
		item.Parts = append(item.Parts, wp)
	}
	return item
}

func toWirePart(part llmstream.ContentPart) (wirePart, bool) {
	var kind string
	switch part.(type) {
	case llmstream.TextContent:
		kind = "text"
	case llmstream.ReasoningContent:
		kind = "reasoning"
	case llmstream.ToolCall:
		kind = "tool_call"
	case llmstream.ToolResult:
		kind = "tool_result"
	default:
		return wirePart{}, false
	}
	data, err := json.Marshal(part)
	if err != nil {
		return wirePart{}, false
	}
	return wirePart{Kind: kind, Data: data}, true
}

func fromWireItem(item wireItem) (llmstream.Turn, bool) {
	turn := llmstream.Turn{
		Role:         roleFromWire(item.Role),
		ProviderID:   item.ProviderID,
		Usage:        item.Usage,
		FinishReason: llmstream.FinishReason(item.FinishReason),
	}
	for _, wp := range item.Parts {
		part, ok := fromWirePart(wp)
		if !ok {
			continue
		}
		turn.Parts = append(turn.Parts, part)
	}
	return turn, true
}

func fromWirePart(wp wirePart) (llmstream.ContentPart, bool) {
	switch wp.Kind {
	case "text":
		var c llmstream.TextContent
		if err := json.Unmarshal(wp.Data, &c); err != nil {
			return nil, false
		}
		return c, true
	case "reasoning":
		var c llmstream.ReasoningContent
		if err := json.Unmarshal(wp.Data, &c); err != nil {
			return nil, false
		}
		return c, true
	case "tool_call":
		var c llmstream.ToolCall
		if err := json.Unmarshal(wp.Data, &c); err != nil {
			return nil, false
		}
		return c, true
	case "tool_result":
		var c llmstream.ToolResult
		if err := json.Unmarshal(wp.Data, &c); err != nil {
			return nil, false
		}
		return c, true
	default:
		return nil, false
	}
}
