package llmstream

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/turnstile/turnstile/internal/llmmodel"

	"google.golang.org/genai"
)

// sendAsyncGemini sends sc.turns to Gemini using Models.GenerateContentStream, sending events
// back on out. Gemini's streaming protocol is chunkier than OpenAI's or Anthropic's: each part
// (text, thought, or function call) typically arrives whole rather than as a JSON-token stream,
// so unlike the other two providers there's no partial-input accumulation for tool calls.
func (sc *streamingConversation) sendAsyncGemini(ctx context.Context, out chan Event, opt *SendOptions, modelInfo llmmodel.ModelInfo) (Turn, error) {
	if err := ctx.Err(); err != nil {
		return Turn{}, sc.LogWrappedErr("gemini_send_async.context", err)
	}

	apiKey := llmmodel.GetAPIKey(sc.modelID)
	if apiKey == "" {
		return Turn{}, sc.LogNewErr("gemini_send_async.api_key_missing", "model_id", string(sc.modelID), "provider", modelInfo.ProviderID)
	}

	clientConfig := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if baseURL := llmmodel.GetAPIEndpointURL(sc.modelID); baseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return Turn{}, sc.LogWrappedErr("gemini_send_async.client", err)
	}

	modelID := modelInfo.ProviderModelID
	if modelID == "" {
		return Turn{}, sc.LogNewErr("gemini_send_async.missing_model_id", "model_id", string(sc.modelID))
	}

	contents, err := sc.buildGeminiContents()
	if err != nil {
		return Turn{}, sc.LogWrappedErr("gemini_send_async.build_contents", err)
	}
	genConfig, err := sc.buildGeminiConfig(modelInfo, opt)
	if err != nil {
		return Turn{}, sc.LogWrappedErr("gemini_send_async.build_config", err)
	}

	debugPrint(debugHTTPRequests, "HTTP REQUEST: models.generateContentStream", contents)

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

	builders := newGeminiBlockBuilders()
	var usage TokenUsage
	var finishReason FinishReason
	var sendErr error

	for resp, streamErr := range client.Models.GenerateContentStream(ctx, modelID, contents, genConfig) {
		if ctx.Err() != nil {
			sendErr = sc.LogWrappedErr("gemini_send_async.context", ctx.Err())
			break
		}
		if streamErr != nil {
			sendErr = sc.LogWrappedErr("gemini_send_async.stream", streamErr)
			break
		}
		if resp == nil {
			continue
		}

		if resp.UsageMetadata != nil {
			usage = geminiConvertUsage(*resp.UsageMetadata)
		}

		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" && len(resp.Candidates) == 0 {
			sendErr = sc.LogNewErr("gemini_send_async.blocked", "reason", string(resp.PromptFeedback.BlockReason))
			break
		}

		if len(resp.Candidates) == 0 {
			continue
		}
		candidate := resp.Candidates[0]
		if candidate.FinishReason != "" {
			finishReason = geminiMapFinishReason(candidate.FinishReason, builders.hasToolCall)
		}
		if candidate.Content == nil {
			continue
		}

		for _, part := range candidate.Content.Parts {
			ev, toolCall := geminiProcessPart(part, builders)
			if ev != nil && !trySendEvent(ctx, toDebouncer, *ev) {
				sendErr = sc.LogWrappedErr("gemini_send_async.context", context.Canceled)
				break
			}
			if toolCall != nil {
				builders.toolCalls = append(builders.toolCalls, *toolCall)
			}
		}
		if sendErr != nil {
			break
		}
	}

	if sendErr != nil {
		return Turn{}, sendErr
	}

	for _, ev := range builders.finalize() {
		trySendEvent(ctx, toDebouncer, ev)
	}

	if finishReason == FinishReasonUnknown {
		if builders.hasToolCall {
			finishReason = FinishReasonToolUse
		} else {
			finishReason = FinishReasonEndTurn
		}
	}

	parts := make([]ContentPart, 0, len(builders.toolCalls)+2)
	if builders.text.Len() > 0 {
		parts = append(parts, TextContent{Content: builders.text.String()})
	}
	if builders.thinking.Len() > 0 {
		parts = append(parts, ReasoningContent{Content: builders.thinking.String()})
	}
	for _, tc := range builders.toolCalls {
		parts = append(parts, tc)
	}

	return Turn{
		Role:         RoleAssistant,
		Parts:        parts,
		Usage:        usage,
		FinishReason: finishReason,
	}, nil
}

// geminiBlockBuilders accumulates the (at most one) text stream and (at most one) thinking
// stream Gemini emits per turn; unlike Anthropic, Gemini doesn't address blocks by index, so
// there's no need to track more than a single running builder per kind.
type geminiBlockBuilders struct {
	text        strings.Builder
	thinking    strings.Builder
	toolCalls   []ToolCall
	hasToolCall bool
}

func newGeminiBlockBuilders() *geminiBlockBuilders {
	return &geminiBlockBuilders{}
}

// finalize emits Done events for any text/thinking content accumulated during streaming.
// Gemini has no discrete per-block stop event, so "done" is only known once the stream ends.
func (b *geminiBlockBuilders) finalize() []Event {
	var events []Event
	if b.text.Len() > 0 {
		events = append(events, Event{Type: EventTypeTextDelta, Text: &TextContent{ProviderID: "text", Content: b.text.String()}, Done: true})
	}
	if b.thinking.Len() > 0 {
		events = append(events, Event{Type: EventTypeReasoningDelta, Reasoning: &ReasoningContent{ProviderID: "thinking", Content: b.thinking.String()}, Done: true})
	}
	return events
}

func geminiProcessPart(part *genai.Part, builders *geminiBlockBuilders) (*Event, *ToolCall) {
	switch {
	case part.FunctionCall != nil:
		builders.hasToolCall = true
		args := part.FunctionCall.Args
		if args == nil {
			args = map[string]any{}
		}
		raw, err := json.Marshal(args)
		if err != nil {
			raw = []byte("{}")
		}
		id := part.FunctionCall.ID
		if id == "" {
			id = geminiGenerateToolCallID()
		}
		tc := ToolCall{ProviderID: id, CallID: id, Name: part.FunctionCall.Name, Type: "function_call", Input: string(raw)}
		return &Event{Type: EventTypeToolUse, ToolCall: &tc}, &tc

	case part.Thought:
		if part.Text == "" {
			return nil, nil
		}
		builders.thinking.WriteString(part.Text)
		return &Event{Type: EventTypeReasoningDelta, Delta: part.Text, Reasoning: &ReasoningContent{ProviderID: "thinking", Content: builders.thinking.String()}, Done: false}, nil

	case part.Text != "":
		builders.text.WriteString(part.Text)
		return &Event{Type: EventTypeTextDelta, Delta: part.Text, Text: &TextContent{ProviderID: "text", Content: builders.text.String()}, Done: false}, nil
	}
	return nil, nil
}

func geminiConvertUsage(u genai.GenerateContentResponseUsageMetadata) TokenUsage {
	cached := int64(u.CachedContentTokenCount)
	input := int64(u.PromptTokenCount) - cached
	if input < 0 {
		input = 0
	}
	return TokenUsage{
		TotalInputTokens:  input + cached,
		CachedInputTokens: cached,
		TotalOutputTokens: int64(u.CandidatesTokenCount),
	}
}

func geminiMapFinishReason(reason genai.FinishReason, hasToolCall bool) FinishReason {
	switch reason {
	case genai.FinishReasonStop:
		if hasToolCall {
			return FinishReasonToolUse
		}
		return FinishReasonEndTurn
	case genai.FinishReasonMaxTokens:
		return FinishReasonMaxTokens
	case genai.FinishReasonSafety, genai.FinishReasonRecitation, genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent, genai.FinishReasonSPII:
		return FinishReasonPermissionDenied
	default:
		return FinishReasonUnknown
	}
}

func geminiGenerateToolCallID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return "call_" + hex.EncodeToString(b)
}

// buildGeminiContents converts sc.turns (excluding the system turn, handled separately via
// GenerateContentConfig.SystemInstruction) into Gemini's Content/Part shape.
func (sc *streamingConversation) buildGeminiContents() ([]*genai.Content, error) {
	var contents []*genai.Content
	for _, turn := range sc.turns {
		if turn.Role == RoleSystem {
			continue
		}

		role := "user"
		if turn.Role == RoleAssistant {
			role = "model"
		}

		var parts []*genai.Part
		for _, part := range turn.Parts {
			switch p := part.(type) {
			case TextContent:
				if p.Content != "" {
					parts = append(parts, &genai.Part{Text: p.Content})
				}
			case ReasoningContent:
				if p.Content != "" {
					parts = append(parts, &genai.Part{Text: p.Content, Thought: true})
				}
			case ToolCall:
				var args map[string]any
				if p.Input != "" {
					if err := json.Unmarshal([]byte(p.Input), &args); err != nil {
						return nil, fmt.Errorf("tool call %s: invalid input JSON: %w", p.CallID, err)
					}
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: p.CallID, Name: p.Name, Args: args}})
			case ToolResult:
				responseMap := map[string]any{"output": p.Result}
				if p.IsError {
					responseMap = map[string]any{"error": p.Result}
				}
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{ID: p.CallID, Name: p.Name, Response: responseMap}})
			case ImageContent:
				if len(p.Data) > 0 {
					parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: p.MimeType, Data: p.Data}})
				}
			case FileRefContent:
				// Gemini accepts arbitrary file bytes inline via the same Blob mechanism as
				// images; an unreadable path is dropped rather than failing the whole request.
				data, err := os.ReadFile(p.Path)
				if err != nil {
					continue
				}
				mimeType := mime.TypeByExtension(filepath.Ext(p.Path))
				if mimeType == "" {
					mimeType = "application/octet-stream"
				}
				parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}})
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents, nil
}

func (sc *streamingConversation) buildGeminiConfig(modelInfo llmmodel.ModelInfo, opt *SendOptions) (*genai.GenerateContentConfig, error) {
	maxTokens := modelInfo.MaxOutput
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
	}

	for _, turn := range sc.turns {
		if turn.Role == RoleSystem {
			if text := turn.TextContent(); text != "" {
				config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: text}}}
			}
			break
		}
	}

	if modelInfo.CanReason {
		config.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}

	if opt != nil && opt.TemperaturePresent {
		temp := float32(opt.Temperature)
		config.Temperature = &temp
	}

	if len(sc.tools) > 0 {
		tools, err := geminiBuildTools(sc.tools)
		if err != nil {
			return nil, err
		}
		config.Tools = tools
	}

	return config, nil
}

func geminiBuildTools(tools []Tool) ([]*genai.Tool, error) {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		info := tool.Info()
		if info.Name == "" {
			return nil, fmt.Errorf("tool name is required")
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 info.Name,
			Description:          info.Description,
			ParametersJsonSchema: toolInputSchema(info),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}, nil
}
