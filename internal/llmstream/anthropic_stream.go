package llmstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/turnstile/turnstile/internal/llmmodel"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// sendAsyncAnthropic sends sc.turns to Anthropic using the Messages API + Streaming, sending
// events back on out. It follows the same division of responsibility as
// sendAsyncOpenAIResponses: errors are logged and returned for the caller to retry/report, and
// a debouncer sits between the provider's raw deltas and out.
func (sc *streamingConversation) sendAsyncAnthropic(ctx context.Context, out chan Event, opt *SendOptions, modelInfo llmmodel.ModelInfo) (Turn, error) {
	if err := ctx.Err(); err != nil {
		return Turn{}, sc.LogWrappedErr("anthropic_send_async.context", err)
	}

	apiKey := llmmodel.GetAPIKey(sc.modelID)
	if apiKey == "" {
		return Turn{}, sc.LogNewErr("anthropic_send_async.api_key_missing", "model_id", string(sc.modelID), "provider", modelInfo.ProviderID)
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := llmmodel.GetAPIEndpointURL(sc.modelID); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)

	params, err := sc.buildAnthropicParams(modelInfo, opt)
	if err != nil {
		return Turn{}, sc.LogWrappedErr("anthropic_send_async.build_params", err)
	}

	debugPrint(debugHTTPRequests, "HTTP REQUEST: messages.new(streaming=true)", params)

	stream := client.Messages.NewStreaming(ctx, params)
	if stream == nil {
		return Turn{}, sc.LogNewErr("anthropic_send_async.stream_unavailable")
	}
	defer stream.Close()

	toDebouncer := make(chan Event, 1024)
	debounceDone := make(chan struct{})
	defer func() {
		close(toDebouncer)
		<-debounceDone
	}()
	go func() {
		debounceEvents(ctx, toDebouncer, out)
		close(debounceDone)
	}()

	message := anthropic.Message{}
	builders := newAnthropicBlockBuilders()

	for stream.Next() {
		evt := stream.Current()

		if err := message.Accumulate(evt); err != nil {
			return Turn{}, sc.LogWrappedErr("anthropic_send_async.accumulate", err)
		}

		processed := anthropicProcessEvent(evt, builders)
		for _, ev := range processed {
			if !trySendEvent(ctx, toDebouncer, ev) {
				return Turn{}, sc.LogWrappedErr("anthropic_send_async.context", context.Canceled)
			}
		}
	}

	if err := stream.Err(); err != nil {
		return Turn{}, sc.LogWrappedErr("anthropic_send_async.stream", err)
	}

	newTurn := anthropicBuildTurn(message)
	return newTurn, nil
}

// anthropicBlockState tracks accumulation for one content block index while streaming.
type anthropicBlockState struct {
	kind      string // "text", "thinking", "tool_use"
	text      strings.Builder
	partial   strings.Builder // input_json_delta accumulation, for tool_use blocks
	toolID    string
	toolName  string
	sawOutput bool
}

type anthropicBlockBuilders struct {
	byIndex map[int64]*anthropicBlockState
}

func newAnthropicBlockBuilders() *anthropicBlockBuilders {
	return &anthropicBlockBuilders{byIndex: make(map[int64]*anthropicBlockState)}
}

// anthropicProcessEvent maps one Anthropic streaming event into zero or more of our Events.
// Unlike OpenAI's event model (item IDs), Anthropic addresses blocks by a per-message index, so
// we key debounced delta IDs on that index.
func anthropicProcessEvent(evt anthropic.MessageStreamEventUnion, builders *anthropicBlockBuilders) []Event {
	switch e := evt.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		state := &anthropicBlockState{kind: e.ContentBlock.Type}
		if e.ContentBlock.Type == "tool_use" {
			state.toolID = e.ContentBlock.ID
			state.toolName = e.ContentBlock.Name
		}
		builders.byIndex[e.Index] = state
		return nil

	case anthropic.ContentBlockDeltaEvent:
		state := builders.byIndex[e.Index]
		if state == nil {
			state = &anthropicBlockState{}
			builders.byIndex[e.Index] = state
		}
		idStr := strconv.FormatInt(e.Index, 10)
		switch e.Delta.Type {
		case "text_delta":
			if e.Delta.Text == "" {
				return nil
			}
			state.text.WriteString(e.Delta.Text)
			return []Event{{Type: EventTypeTextDelta, Delta: e.Delta.Text, Text: &TextContent{ProviderID: idStr, Content: state.text.String()}, Done: false}}
		case "thinking_delta":
			if e.Delta.Thinking == "" {
				return nil
			}
			state.text.WriteString(e.Delta.Thinking)
			return []Event{{Type: EventTypeReasoningDelta, Delta: e.Delta.Thinking, Reasoning: &ReasoningContent{ProviderID: idStr, Content: state.text.String()}, Done: false}}
		case "input_json_delta":
			state.partial.WriteString(e.Delta.PartialJSON)
			return nil
		}
		return nil

	case anthropic.ContentBlockStopEvent:
		state := builders.byIndex[e.Index]
		if state == nil {
			return nil
		}
		idStr := strconv.FormatInt(e.Index, 10)
		switch state.kind {
		case "text":
			return []Event{{Type: EventTypeTextDelta, Delta: "", Text: &TextContent{ProviderID: idStr, Content: state.text.String()}, Done: true}}
		case "thinking":
			return []Event{{Type: EventTypeReasoningDelta, Delta: "", Reasoning: &ReasoningContent{ProviderID: idStr, Content: state.text.String()}, Done: true}}
		case "tool_use":
			input := state.partial.String()
			if strings.TrimSpace(input) == "" {
				input = "{}"
			}
			return []Event{{Type: EventTypeToolUse, ToolCall: &ToolCall{
				ProviderID: state.toolID,
				CallID:     state.toolID,
				Name:       state.toolName,
				Type:       "function_call",
				Input:      input,
			}}}
		}
		return nil
	}
	return nil
}

// anthropicBuildTurn converts the fully-accumulated Anthropic message into our Turn shape.
func anthropicBuildTurn(message anthropic.Message) Turn {
	parts := make([]ContentPart, 0, len(message.Content))
	hasToolUse := false
	for _, block := range message.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			parts = append(parts, TextContent{Content: b.Text})
		case anthropic.ThinkingBlock:
			parts = append(parts, ReasoningContent{Content: b.Thinking})
		case anthropic.ToolUseBlock:
			hasToolUse = true
			input := string(b.Input)
			if strings.TrimSpace(input) == "" {
				input = "{}"
			}
			parts = append(parts, ToolCall{ProviderID: b.ID, CallID: b.ID, Name: b.Name, Type: "function_call", Input: input})
		}
	}

	return Turn{
		Role:         RoleAssistant,
		ProviderID:   message.ID,
		Parts:        parts,
		Usage:        anthropicConvertUsage(message.Usage),
		FinishReason: anthropicMapFinishReason(message.StopReason, hasToolUse),
	}
}

func anthropicConvertUsage(u anthropic.Usage) TokenUsage {
	return TokenUsage{
		TotalInputTokens:  u.InputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens,
		CachedInputTokens: u.CacheReadInputTokens,
		TotalOutputTokens: u.OutputTokens,
	}
}

func anthropicMapFinishReason(reason anthropic.StopReason, hasToolUse bool) FinishReason {
	switch reason {
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return FinishReasonEndTurn
	case anthropic.StopReasonMaxTokens:
		return FinishReasonMaxTokens
	case anthropic.StopReasonToolUse:
		return FinishReasonToolUse
	case anthropic.StopReasonRefusal:
		return FinishReasonPermissionDenied
	default:
		if hasToolUse {
			return FinishReasonToolUse
		}
		return FinishReasonUnknown
	}
}

// buildAnthropicParams converts sc.turns (system + conversation history) into Anthropic's
// Messages API request shape.
func (sc *streamingConversation) buildAnthropicParams(modelInfo llmmodel.ModelInfo, opt *SendOptions) (anthropic.MessageNewParams, error) {
	modelID := modelInfo.ProviderModelID
	if modelID == "" {
		return anthropic.MessageNewParams{}, fmt.Errorf("model %q missing provider model id", string(sc.modelID))
	}

	maxTokens := modelInfo.MaxOutput
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		MaxTokens: maxTokens,
	}

	for _, turn := range sc.turns {
		if turn.Role == RoleSystem {
			params.System = append(params.System, anthropic.TextBlockParam{Text: turn.TextContent()})
			continue
		}

		blocks, err := anthropicContentBlocksForTurn(turn)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		if len(blocks) == 0 {
			continue
		}

		switch turn.Role {
		case RoleUser:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(blocks...))
		case RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(blocks...))
		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("unsupported role for anthropic turn: %v", turn.Role)
		}
	}

	if opt != nil && opt.TemperaturePresent {
		params.Temperature = anthropic.Float(opt.Temperature)
	}

	if modelInfo.CanReason {
		// Anthropic's "extended thinking" requires an explicit token budget; default to a
		// conservative fraction of MaxTokens when the model supports reasoning at all.
		budget := maxTokens / 2
		if budget > 0 {
			params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
		}
	}

	if len(sc.tools) > 0 {
		toolParams, err := anthropicBuildToolParams(sc.tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = toolParams
	}

	return params, nil
}

func anthropicContentBlocksForTurn(turn Turn) ([]anthropic.ContentBlockParamUnion, error) {
	var blocks []anthropic.ContentBlockParamUnion
	for _, part := range turn.Parts {
		switch p := part.(type) {
		case TextContent:
			if p.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(p.Content))
			}
		case ReasoningContent:
			// Anthropic requires a signature to replay thinking blocks verbatim; without one
			// (ex: reasoning carried over from another provider) we drop it rather than send an
			// invalid block.
			continue
		case ToolCall:
			var input any
			if p.Input != "" {
				if err := json.Unmarshal([]byte(p.Input), &input); err != nil {
					return nil, fmt.Errorf("tool call %s: invalid input JSON: %w", p.CallID, err)
				}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(p.CallID, input, p.Name))
		case ToolResult:
			blocks = append(blocks, anthropic.NewToolResultBlock(p.CallID, p.Result, p.IsError))
		case ImageContent:
			if len(p.Data) == 0 {
				continue
			}
			blocks = append(blocks, anthropic.NewImageBlockBase64(p.MimeType, base64.StdEncoding.EncodeToString(p.Data)))
		case FileRefContent:
			// Anthropic takes file attachments as base64-encoded PDF documents; any other
			// file type, or one that can't be read off disk, is dropped rather than failing
			// the whole request (mirrors how a signature-less ReasoningContent is dropped
			// above).
			if !strings.HasSuffix(strings.ToLower(p.Path), ".pdf") {
				continue
			}
			data, err := os.ReadFile(p.Path)
			if err != nil {
				continue
			}
			blocks = append(blocks, anthropic.NewDocumentBlockBase64("application/pdf", base64.StdEncoding.EncodeToString(data)))
		}
	}
	return blocks, nil
}

func anthropicBuildToolParams(tools []Tool) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		info := tool.Info()
		if info.Name == "" {
			return nil, fmt.Errorf("tool name is required")
		}

		schema := toolInputSchema(info)
		inputSchema := anthropic.ToolInputSchemaParam{
			Properties: schema["properties"],
		}
		if required, ok := schema["required"].([]string); ok {
			inputSchema.Required = required
		}

		result = append(result, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        info.Name,
				Description: anthropic.String(info.Description),
				InputSchema: inputSchema,
			},
		})
	}
	return result, nil
}
