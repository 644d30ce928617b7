package aggregator

import (
	"github.com/turnstile/turnstile/internal/agent"
	"github.com/turnstile/turnstile/internal/llmstream"
)

// runAggregate buffers assistant text/reasoning per (kind, ProviderID) and flushes a
// merged block whenever that ProviderID changes or the turn completes. Non-text
// events (tool calls, errors, retries, completion) pass through untouched, flushing
// any open buffer first so ordering downstream still reflects what happened.
func runAggregate(in <-chan agent.Event, out chan<- Record) {
	buf := newItemBuffer()

	for ev := range in {
		switch ev.Type {
		case agent.EventTypeTextDelta:
			buf.appendText(ev.TextContent.ProviderID, ev.Delta, out)
		case agent.EventTypeReasoningDelta:
			buf.appendReasoning(ev.ReasoningContent.ProviderID, ev.Delta, out)
		case agent.EventTypeAssistantText, agent.EventTypeAssistantReasoning:
			// Content already folded in via the preceding delta events above;
			// Aggregate mode emits its own merged block on flush instead.
		default:
			buf.flush(out)
			out <- Record{Event: ev}
		}
	}
	buf.flush(out)
}

type itemBuffer struct {
	textProviderID string
	text           string
	hasText        bool

	reasoningProviderID string
	reasoning           string
	hasReasoning        bool
}

func newItemBuffer() *itemBuffer { return &itemBuffer{} }

// appendText merges content into the open buffer for providerID: a repeated
// ProviderID means a further TextContent block belonging to the same item (the
// teacher's own llmstream.TextContent doc notes providers may emit several
// TextContent per ProviderID), so it's concatenated rather than treated as a replay.
func (b *itemBuffer) appendText(providerID, content string, out chan<- Record) {
	if b.hasText && providerID != b.textProviderID {
		b.flushText(out)
	}
	if b.hasText {
		b.text += content
	} else {
		b.text = content
	}
	b.textProviderID = providerID
	b.hasText = true
}

func (b *itemBuffer) appendReasoning(providerID, content string, out chan<- Record) {
	if b.hasReasoning && providerID != b.reasoningProviderID {
		b.flushReasoning(out)
	}
	if b.hasReasoning {
		b.reasoning += content
	} else {
		b.reasoning = content
	}
	b.reasoningProviderID = providerID
	b.hasReasoning = true
}

func (b *itemBuffer) flush(out chan<- Record) {
	b.flushText(out)
	b.flushReasoning(out)
}

func (b *itemBuffer) flushText(out chan<- Record) {
	if !b.hasText {
		return
	}
	out <- Record{Event: agent.Event{
		Type:        agent.EventTypeAssistantText,
		TextContent: llmstream.TextContent{ProviderID: b.textProviderID, Content: b.text},
	}}
	b.hasText = false
	b.text = ""
}

func (b *itemBuffer) flushReasoning(out chan<- Record) {
	if !b.hasReasoning {
		return
	}
	out <- Record{Event: agent.Event{
		Type:             agent.EventTypeAssistantReasoning,
		ReasoningContent: llmstream.ReasoningContent{ProviderID: b.reasoningProviderID, Content: b.reasoning},
	}}
	b.hasReasoning = false
	b.reasoning = ""
}
