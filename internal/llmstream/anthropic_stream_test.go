package llmstream

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicConvertUsage(t *testing.T) {
	usage := anthropicConvertUsage(anthropic.Usage{
		InputTokens:              100,
		CacheReadInputTokens:     40,
		CacheCreationInputTokens: 10,
		OutputTokens:             25,
	})
	assert.Equal(t, int64(150), usage.TotalInputTokens)
	assert.Equal(t, int64(40), usage.CachedInputTokens)
	assert.Equal(t, int64(25), usage.TotalOutputTokens)
}

func TestAnthropicMapFinishReason(t *testing.T) {
	assert.Equal(t, FinishReasonEndTurn, anthropicMapFinishReason(anthropic.StopReasonEndTurn, false))
	assert.Equal(t, FinishReasonMaxTokens, anthropicMapFinishReason(anthropic.StopReasonMaxTokens, false))
	assert.Equal(t, FinishReasonToolUse, anthropicMapFinishReason(anthropic.StopReasonToolUse, false))
	assert.Equal(t, FinishReasonPermissionDenied, anthropicMapFinishReason(anthropic.StopReasonRefusal, false))
	assert.Equal(t, FinishReasonToolUse, anthropicMapFinishReason(anthropic.StopReason("unknown"), true))
	assert.Equal(t, FinishReasonUnknown, anthropicMapFinishReason(anthropic.StopReason("unknown"), false))
}

func TestAnthropicContentBlocksForTurn_DropsUnsignedReasoning(t *testing.T) {
	turn := Turn{
		Role: RoleAssistant,
		Parts: []ContentPart{
			TextContent{Content: "hello"},
			ReasoningContent{Content: "thinking without a signature"},
		},
	}
	blocks, err := anthropicContentBlocksForTurn(turn)
	require.NoError(t, err)
	require.Len(t, blocks, 1, "unsigned reasoning carried from another provider must be dropped")
}

func TestAnthropicContentBlocksForTurn_ToolCallAndResult(t *testing.T) {
	turn := Turn{
		Role: RoleAssistant,
		Parts: []ContentPart{
			ToolCall{CallID: "call_1", Name: "list_files", Input: `{"path":"."}`},
		},
	}
	blocks, err := anthropicContentBlocksForTurn(turn)
	require.NoError(t, err)
	require.Len(t, blocks, 1)

	resultTurn := Turn{
		Role: RoleUser,
		Parts: []ContentPart{
			ToolResult{CallID: "call_1", Name: "list_files", Result: "a.go\nb.go"},
		},
	}
	blocks, err = anthropicContentBlocksForTurn(resultTurn)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
}
