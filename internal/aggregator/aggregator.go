// Package aggregator sits between agent.Agent's event channel and the UI boundary,
// picking how assistant text/reasoning is framed for a consumer: untouched as it
// arrives, merged into one block per item, or serialized as JSON records. It
// generalizes the teacher's debounceEvents (internal to llmstream, tuned for raw wire
// dedup) into the spec's four named modes.
package aggregator

import (
	"encoding/json"

	"github.com/turnstile/turnstile/internal/agent"
)

// Mode selects how the Aggregator frames events for its consumer.
type Mode int

const (
	// Raw forwards events unchanged, as they arrive, except that a text/reasoning event
	// whose content was already fully forwarded for its ProviderID is dropped.
	Raw Mode = iota
	// Aggregate buffers per-item (per ProviderID) text/reasoning and emits one merged
	// block when the item's ProviderID changes or the turn completes.
	Aggregate
	// Json serializes every event as one JSON record.
	Json
	// Auto picks Raw if the active provider supports streaming, else Aggregate.
	Auto
)

// Record is what Aggregator.Run emits downstream. Exactly one of Event/JSON is set,
// depending on Mode: Raw and Aggregate populate Event, Json populates JSON.
type Record struct {
	Event agent.Event
	JSON  []byte
}

// Aggregator consumes an agent.Event stream and reframes it per Mode.
type Aggregator struct {
	Mode Mode

	// StreamingCapable is consulted only when Mode is Auto.
	StreamingCapable bool
}

// New constructs an Aggregator. If mode is Auto, streamingCapable picks between Raw
// and Aggregate behavior for the lifetime of the returned Aggregator.
func New(mode Mode, streamingCapable bool) *Aggregator {
	return &Aggregator{Mode: mode, StreamingCapable: streamingCapable}
}

func (a *Aggregator) effectiveMode() Mode {
	if a.Mode != Auto {
		return a.Mode
	}
	if a.StreamingCapable {
		return Raw
	}
	return Aggregate
}

// Run reframes events from in and sends Records to out until in is closed, then
// closes out. Dedup on retry mirrors the teacher's sequence-index approach: a
// per-(kind, ProviderID) cursor tracks how much text has already been forwarded, so a
// replayed event whose content is a prefix of what's already been sent is dropped.
func (a *Aggregator) Run(in <-chan agent.Event, out chan<- Record) {
	defer close(out)

	mode := a.effectiveMode()

	switch mode {
	case Json:
		for ev := range in {
			b, err := json.Marshal(newJSONEnvelope(ev))
			if err != nil {
				continue
			}
			out <- Record{JSON: b}
		}
	case Aggregate:
		runAggregate(in, out)
	default: // Raw
		sent := newDedupTracker()
		for ev := range in {
			if sent.alreadySent(ev) {
				continue
			}
			out <- Record{Event: ev}
		}
	}
}

type jsonEnvelope struct {
	Type  string      `json:"type"`
	Event agent.Event `json:"event"`
}

func newJSONEnvelope(ev agent.Event) jsonEnvelope {
	return jsonEnvelope{Type: string(ev.Type), Event: ev}
}
