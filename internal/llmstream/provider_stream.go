package llmstream

import (
	"context"
	"fmt"

	"github.com/tiktoken-go/tokenizer"
	"github.com/turnstile/turnstile/internal/llmmodel"
	"github.com/turnstile/turnstile/internal/ratelimit"
)

// RateLimits describes a provider's advertised throughput ceiling. A zero field means the
// provider doesn't publish a limit along that dimension.
type RateLimits struct {
	RequestsPerMinute  int
	TokensPerMinute    int
	ConcurrentRequests int
}

// ProviderCapabilities describes what a transport supports, so a caller can reject or adapt
// a request before any network I/O instead of discovering the limitation from a mid-stream
// error.
type ProviderCapabilities struct {
	Streaming       bool
	ToolUse         bool
	FunctionCalling bool
	Vision          bool

	// MaxContext is the provider's advertised context window, in tokens. Zero means unknown.
	MaxContext int64

	RateLimits RateLimits
}

// ProviderStream is the transport contract a streamingConversation drives, one implementation
// per llmmodel.ProviderAPIType this package supports. Name/Capabilities/HealthCheck let a
// caller reason about a provider before a stream ever opens; Open does the request/response
// work that used to be hardcoded per-apiType inline in SendAsync.
type ProviderStream interface {
	Name() string
	Capabilities(modelInfo llmmodel.ModelInfo) ProviderCapabilities
	HealthCheck(modelInfo llmmodel.ModelInfo) error
	Open(ctx context.Context, sc *streamingConversation, out chan<- Event, opt *SendOptions, modelInfo llmmodel.ModelInfo) (Turn, error)
}

// defaultRateLimits is the rate-limit fixture this package ships with for every provider until
// real per-account-tier limits are plumbed through. Values mirror the RateLimits test fixture
// in cortex-core's provider_stream.rs (60 req/min, 1M tokens/min, 10 concurrent).
var defaultRateLimits = RateLimits{RequestsPerMinute: 60, TokensPerMinute: 1_000_000, ConcurrentRequests: 10}

type openAIResponsesStream struct{}

func (openAIResponsesStream) Name() string { return string(llmmodel.ProviderTypeOpenAIResponses) }

func (openAIResponsesStream) Capabilities(modelInfo llmmodel.ModelInfo) ProviderCapabilities {
	return commonCapabilities(modelInfo)
}

func (openAIResponsesStream) HealthCheck(modelInfo llmmodel.ModelInfo) error {
	return healthCheckAPIKey(modelInfo)
}

func (openAIResponsesStream) Open(ctx context.Context, sc *streamingConversation, out chan<- Event, opt *SendOptions, modelInfo llmmodel.ModelInfo) (Turn, error) {
	return sc.sendAsyncOpenAIResponses(ctx, out, opt, modelInfo)
}

type anthropicStream struct{}

func (anthropicStream) Name() string { return string(llmmodel.ProviderTypeAnthropic) }

func (anthropicStream) Capabilities(modelInfo llmmodel.ModelInfo) ProviderCapabilities {
	return commonCapabilities(modelInfo)
}

func (anthropicStream) HealthCheck(modelInfo llmmodel.ModelInfo) error {
	return healthCheckAPIKey(modelInfo)
}

func (anthropicStream) Open(ctx context.Context, sc *streamingConversation, out chan<- Event, opt *SendOptions, modelInfo llmmodel.ModelInfo) (Turn, error) {
	return sc.sendAsyncAnthropic(ctx, out, opt, modelInfo)
}

type geminiStream struct{}

func (geminiStream) Name() string { return string(llmmodel.ProviderTypeGemini) }

func (geminiStream) Capabilities(modelInfo llmmodel.ModelInfo) ProviderCapabilities {
	return commonCapabilities(modelInfo)
}

func (geminiStream) HealthCheck(modelInfo llmmodel.ModelInfo) error {
	return healthCheckAPIKey(modelInfo)
}

func (geminiStream) Open(ctx context.Context, sc *streamingConversation, out chan<- Event, opt *SendOptions, modelInfo llmmodel.ModelInfo) (Turn, error) {
	return sc.sendAsyncGemini(ctx, out, opt, modelInfo)
}

// commonCapabilities is shared by all three transports: each streams, supports tool/function
// calling, and takes its context window and vision support straight from llmmodel's catalog.
func commonCapabilities(modelInfo llmmodel.ModelInfo) ProviderCapabilities {
	return ProviderCapabilities{
		Streaming:       true,
		ToolUse:         true,
		FunctionCalling: true,
		Vision:          modelInfo.SupportsImages,
		MaxContext:      modelInfo.ContextWindow,
		RateLimits:      defaultRateLimits,
	}
}

// healthCheckAPIKey is the health check shared by all three transports. Rather than spend a
// real request on a ping, it confirms the credential a stream would need is actually
// configured — a minimal, low-cost check that doesn't add a network dependency to a preflight
// step run before every stream open.
func healthCheckAPIKey(modelInfo llmmodel.ModelInfo) error {
	if llmmodel.GetAPIKey(modelInfo.ID) == "" {
		return fmt.Errorf("no API key configured for provider %s", modelInfo.ProviderID)
	}
	return nil
}

// toLimiterLimits converts a provider's advertised RateLimits into the token-bucket shape
// ratelimit.Limiter sizes itself from: RequestsPerMinute becomes the bucket's steady-state
// refill rate, ConcurrentRequests becomes its burst (how many requests may fire back-to-back
// before the steady rate kicks in).
func (r RateLimits) toLimiterLimits() ratelimit.Limits {
	burst := r.ConcurrentRequests
	if burst <= 0 {
		burst = 1
	}
	return ratelimit.Limits{
		RequestsPerSecond: float64(r.RequestsPerMinute) / 60,
		Burst:             burst,
	}
}

// ProviderRateLimitsMap returns, for every provider this package knows how to stream from, the
// ratelimit.Limits a Limiter should be sized with — per SPEC_FULL.md's rate-limiting section,
// which calls for the limiter to be "sized from ProviderCapabilities.RateLimits" rather than a
// single static default shared by every provider.
func ProviderRateLimitsMap() map[string]ratelimit.Limits {
	providers := []llmmodel.ProviderID{llmmodel.ProviderIDOpenAI, llmmodel.ProviderIDAnthropic, llmmodel.ProviderIDGemini}
	streams := []ProviderStream{openAIResponsesStream{}, anthropicStream{}, geminiStream{}}

	out := make(map[string]ratelimit.Limits, len(providers))
	for i, providerID := range providers {
		// Capabilities() only varies its RateLimits by model today (it doesn't), so an
		// empty ModelInfo is enough here; this intentionally does not consult
		// per-model Vision/MaxContext fields, which are meaningless at this granularity.
		out[string(providerID)] = streams[i].Capabilities(llmmodel.ModelInfo{}).RateLimits.toLimiterLimits()
	}
	return out
}

// providerStreamFor returns the ProviderStream implementation for apiType. selectAPIType only
// ever returns a member of apiTypePriority, so the default case here is unreachable in
// practice; it falls back to OpenAI Responses rather than panicking.
func providerStreamFor(apiType llmmodel.ProviderAPIType) ProviderStream {
	switch apiType {
	case llmmodel.ProviderTypeAnthropic:
		return anthropicStream{}
	case llmmodel.ProviderTypeGemini:
		return geminiStream{}
	default:
		return openAIResponsesStream{}
	}
}

// estimateTokens gives a rough preflight token count for turns, used to reject a request
// against a provider's MaxContext before any network I/O. It undercounts (ignores tool
// schemas, image/file attachments, and per-message framing overhead) but is cheap and needs no
// request round-trip.
func estimateTokens(turns []Turn) int64 {
	enc, err := tokenizer.Get(tokenizer.O200kBase)
	if err != nil {
		return 0
	}
	var total int64
	for _, t := range turns {
		for _, p := range t.Parts {
			var text string
			switch part := p.(type) {
			case TextContent:
				text = part.Content
			case ReasoningContent:
				text = part.Content
			case ToolResult:
				text = part.Result
			}
			if text == "" {
				continue
			}
			if count, err := enc.Count(text); err == nil {
				total += int64(count)
			} else {
				total += int64(len(text) / 4)
			}
		}
	}
	return total
}
