package trace

import "sort"

// Kind identifies what happened in a single simulation event.
type Kind string

const (
	KindNodeInit            Kind = "node_init"
	KindTopicPublish        Kind = "topic_publish"
	KindTopicSubscribe      Kind = "topic_subscribe"
	KindMessageDelivered    Kind = "message_delivered"
	KindQoSNegotiated       Kind = "qos_negotiated"
	KindError               Kind = "error"
	KindRecovery            Kind = "recovery"
	KindShutdown            Kind = "shutdown"
	KindCallbackStart       Kind = "callback_start"
	KindCallbackEnd         Kind = "callback_end"
	KindLifecycleTransition Kind = "lifecycle_transition"
)

// Event is one observed occurrence during simulation. Timestamp is
// monotonic simulation time in seconds. Payload carries event-specific
// attributes (QoS fields, message ids, lifecycle states).
type Event struct {
	Kind      Kind           `json:"kind"`
	Timestamp float64        `json:"timestamp"`
	Actor     string         `json:"actor,omitempty"`
	Topic     string         `json:"topic,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// PayloadString returns a payload attribute as a string, or "" if absent.
func (e Event) PayloadString(key string) string {
	if e.Payload == nil {
		return ""
	}
	if s, ok := e.Payload[key].(string); ok {
		return s
	}
	return ""
}

// PayloadNumber returns a numeric payload attribute.
func (e Event) PayloadNumber(key string) (float64, bool) {
	if e.Payload == nil {
		return 0, false
	}
	switch v := e.Payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Trace is an immutable ordered sequence of events. Events are totally
// ordered by timestamp; events sharing a timestamp keep their insertion
// order. The engine only ever reads a trace.
type Trace struct {
	events []Event
}

// New builds a trace from captured events, sorting by timestamp with a
// stable sort so insertion order breaks ties.
func New(events []Event) Trace {
	copied := make([]Event, len(events))
	copy(copied, events)
	sort.SliceStable(copied, func(i, j int) bool {
		return copied[i].Timestamp < copied[j].Timestamp
	})
	return Trace{events: copied}
}

// Len reports the number of events.
func (t Trace) Len() int { return len(t.events) }

// Events returns the ordered event sequence. Callers must not mutate it.
func (t Trace) Events() []Event { return t.events }

// OfKind returns events of a single kind, in trace order.
func (t Trace) OfKind(kind Kind) []Event {
	var out []Event
	for _, e := range t.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// OnTopic returns events of a kind limited to one topic.
func (t Trace) OnTopic(kind Kind, topic string) []Event {
	var out []Event
	for _, e := range t.events {
		if e.Kind == kind && e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

// Topics returns every topic that appears in at least one event of the
// given kinds, in first-seen order.
func (t Trace) Topics(kinds ...Kind) []string {
	want := map[Kind]bool{}
	for _, k := range kinds {
		want[k] = true
	}
	seen := map[string]bool{}
	var out []string
	for _, e := range t.events {
		if e.Topic == "" || (len(want) > 0 && !want[e.Kind]) {
			continue
		}
		if !seen[e.Topic] {
			seen[e.Topic] = true
			out = append(out, e.Topic)
		}
	}
	return out
}

// Duration is the simulated time span covered by the trace.
func (t Trace) Duration() float64 {
	if len(t.events) < 2 {
		return 0
	}
	return t.events[len(t.events)-1].Timestamp - t.events[0].Timestamp
}
