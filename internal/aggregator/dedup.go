package aggregator

import (
	"github.com/turnstile/turnstile/internal/agent"
)

// dedupTracker mirrors llmstream's debounceEvents sentBytes approach: it remembers
// how many bytes of each (event kind, ProviderID) text/reasoning stream have already
// been forwarded, so a provider-stream retry that replays a delta whose content is a
// prefix of what's already been sent doesn't duplicate output downstream.
type dedupTracker struct {
	sentLen map[string]int
}

func newDedupTracker() *dedupTracker {
	return &dedupTracker{sentLen: make(map[string]int)}
}

func dedupKey(kind, providerID string) string {
	return kind + "|" + providerID
}

// alreadySent reports whether ev's content is entirely covered by what's already
// been forwarded for its (kind, ProviderID), and advances the tracked length
// otherwise. EventTypeTextDelta and EventTypeAssistantText share the "text" kind (and
// likewise for reasoning) so that a final block whose content was already delivered
// via preceding deltas is recognised as fully sent and dropped, per spec.md's "Raw ...
// OutputItemDone is suppressed for text items whose deltas were already emitted."
func (d *dedupTracker) alreadySent(ev agent.Event) bool {
	switch ev.Type {
	case agent.EventTypeTextDelta, agent.EventTypeAssistantText:
		return d.observe("text", ev.TextContent.ProviderID, ev.TextContent.Content)
	case agent.EventTypeReasoningDelta, agent.EventTypeAssistantReasoning:
		return d.observe("reasoning", ev.ReasoningContent.ProviderID, ev.ReasoningContent.Content)
	default:
		return false
	}
}

func (d *dedupTracker) observe(kind, providerID, content string) bool {
	key := dedupKey(kind, providerID)
	prevLen := d.sentLen[key]
	if len(content) <= prevLen {
		return true
	}
	d.sentLen[key] = len(content)
	return false
}
