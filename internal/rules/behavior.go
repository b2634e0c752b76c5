package rules

import (
	"fmt"
	"sort"
	"strings"

	"tracecheck/internal/trace"
)

type messageFlowPattern struct{ named }

// Evaluate checks that every publish is followed, within the configured
// delivery window, by a message_delivered event for the same topic (or
// the same message id when the payload carries one).
func (r messageFlowPattern) Evaluate(t trace.Trace, ctx Context) Result {
	pubs := t.OfKind(trace.KindTopicPublish)
	if len(pubs) == 0 {
		return r.done(fail("no topic_publish events in trace"))
	}
	deliveries := t.OfKind(trace.KindMessageDelivered)
	window := ctx.Config.DeliveryWindow() / 1000.0

	undelivered := 0
	var firstMiss string
	for _, pub := range pubs {
		if !deliveredWithin(pub, deliveries, window) {
			undelivered++
			if firstMiss == "" {
				firstMiss = fmt.Sprintf("%s at t=%g", pub.Topic, pub.Timestamp)
			}
		}
	}
	if undelivered > 0 {
		return r.done(fail(fmt.Sprintf("%d of %d publishes had no delivery within %gms (first: %s)",
			undelivered, len(pubs), ctx.Config.DeliveryWindow(), firstMiss)))
	}
	return r.done(pass(fmt.Sprintf("all %d publishes delivered within window", len(pubs))))
}

func deliveredWithin(pub trace.Event, deliveries []trace.Event, window float64) bool {
	msgID := pub.PayloadString("message_id")
	for _, d := range deliveries {
		if d.Topic != pub.Topic {
			continue
		}
		if d.Timestamp < pub.Timestamp || d.Timestamp-pub.Timestamp > window {
			continue
		}
		if msgID != "" && d.PayloadString("message_id") != "" && d.PayloadString("message_id") != msgID {
			continue
		}
		return true
	}
	return false
}

// lifecycleEdges is the allowed transition set for managed lifecycle
// nodes, after the ROS2 primary states.
var lifecycleEdges = map[string][]string{
	"unconfigured": {"inactive", "finalized"},
	"inactive":     {"active", "unconfigured", "finalized"},
	"active":       {"inactive", "finalized"},
}

type lifecycleTransitionValidity struct{ named }

// Evaluate checks lifecycle_transition events per actor against the
// allowed edge set. Passes vacuously when no node is lifecycle-managed.
func (r lifecycleTransitionValidity) Evaluate(t trace.Trace, ctx Context) Result {
	transitions := t.OfKind(trace.KindLifecycleTransition)
	if len(transitions) == 0 {
		return r.done(pass("no lifecycle-managed nodes in trace"))
	}
	var invalid []string
	for _, e := range transitions {
		from := e.PayloadString("from")
		to := e.PayloadString("to")
		if from == "" || to == "" {
			invalid = append(invalid, fmt.Sprintf("%s: transition at t=%g missing from/to states", e.Actor, e.Timestamp))
			continue
		}
		if !edgeAllowed(from, to) {
			invalid = append(invalid, fmt.Sprintf("%s: %s -> %s", e.Actor, from, to))
		}
	}
	if len(invalid) > 0 {
		return r.done(fail(fmt.Sprintf("invalid lifecycle transitions: %s", strings.Join(invalid, "; "))))
	}
	return r.done(pass(fmt.Sprintf("all %d lifecycle transitions valid", len(transitions))))
}

func edgeAllowed(from, to string) bool {
	for _, next := range lifecycleEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

type errorHandling struct{ named }

// Evaluate checks that every error event is followed by a recovery or
// shutdown event from the same actor. Silently dropped errors fail.
// Passes vacuously when the trace contains no errors.
func (r errorHandling) Evaluate(t trace.Trace, ctx Context) Result {
	events := t.Events()
	var unhandled []string
	errors := 0
	for i, e := range events {
		if e.Kind != trace.KindError {
			continue
		}
		errors++
		handled := false
		for _, later := range events[i+1:] {
			if later.Actor != e.Actor {
				continue
			}
			if later.Kind == trace.KindRecovery || later.Kind == trace.KindShutdown {
				handled = true
				break
			}
		}
		if !handled {
			unhandled = append(unhandled, fmt.Sprintf("%s at t=%g", e.Actor, e.Timestamp))
		}
	}
	if errors == 0 {
		return r.done(pass("no error events in trace"))
	}
	if len(unhandled) > 0 {
		sort.Strings(unhandled)
		return r.done(fail(fmt.Sprintf("%d of %d errors neither recovered nor shut down: %s",
			len(unhandled), errors, strings.Join(unhandled, ", "))))
	}
	return r.done(pass(fmt.Sprintf("all %d errors recovered or terminated gracefully", errors)))
}
