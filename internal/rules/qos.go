package rules

import (
	"fmt"
	"sort"
	"strings"

	"tracecheck/internal/trace"
)

// qosProfile is one endpoint's declared policy, taken from a
// qos_negotiated event payload.
type qosProfile struct {
	actor       string
	role        string // publisher or subscriber
	reliability string // reliable or best_effort
	durability  string // transient_local or volatile
	depth       int
}

func qosProfiles(t trace.Trace) map[string][]qosProfile {
	out := map[string][]qosProfile{}
	for _, e := range t.OfKind(trace.KindQoSNegotiated) {
		depth := 0
		if d, ok := e.PayloadNumber("depth"); ok {
			depth = int(d)
		}
		out[e.Topic] = append(out[e.Topic], qosProfile{
			actor:       e.Actor,
			role:        e.PayloadString("role"),
			reliability: e.PayloadString("reliability"),
			durability:  e.PayloadString("durability"),
			depth:       depth,
		})
	}
	return out
}

// strength orders policy values so that "offered must be at least as
// strict as requested" is a simple comparison.
var reliabilityStrength = map[string]int{"best_effort": 1, "reliable": 2}
var durabilityStrength = map[string]int{"volatile": 1, "transient_local": 2}

type qosProfileConsistency struct{ named }

// Evaluate checks DDS-style endpoint matching per topic: every
// subscriber's requested reliability and durability must be offered by
// every publisher on the same topic. Passes vacuously when the trace
// negotiated no QoS.
func (r qosProfileConsistency) Evaluate(t trace.Trace, ctx Context) Result {
	profiles := qosProfiles(t)
	if len(profiles) == 0 {
		return r.done(pass("no qos_negotiated events in trace"))
	}
	topics := make([]string, 0, len(profiles))
	for topic := range profiles {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	var mismatches []string
	for _, topic := range topics {
		var pubs, subs []qosProfile
		for _, p := range profiles[topic] {
			switch p.role {
			case "publisher":
				pubs = append(pubs, p)
			case "subscriber":
				subs = append(subs, p)
			}
		}
		for _, pub := range pubs {
			for _, sub := range subs {
				if reliabilityStrength[pub.reliability] < reliabilityStrength[sub.reliability] {
					mismatches = append(mismatches, fmt.Sprintf("%s: publisher %s offers %s, subscriber %s requests %s",
						topic, pub.actor, pub.reliability, sub.actor, sub.reliability))
				}
				if durabilityStrength[pub.durability] < durabilityStrength[sub.durability] {
					mismatches = append(mismatches, fmt.Sprintf("%s: publisher %s offers %s durability, subscriber %s requests %s",
						topic, pub.actor, pub.durability, sub.actor, sub.durability))
				}
			}
		}
	}
	if len(mismatches) > 0 {
		return r.done(fail(fmt.Sprintf("incompatible qos profiles: %s", strings.Join(mismatches, "; "))))
	}
	return r.done(pass(fmt.Sprintf("qos profiles compatible on all %d negotiated topics", len(topics))))
}

type qosPolicyCompliance struct{ named }

// Evaluate checks declared profiles against configured per-topic
// minimum requirements. A configured topic that never negotiated QoS
// fails; with no requirements configured the rule passes vacuously.
func (r qosPolicyCompliance) Evaluate(t trace.Trace, ctx Context) Result {
	requirements := ctx.Config.QoSRequirements
	if len(requirements) == 0 {
		return r.done(pass("no qos requirements configured"))
	}
	profiles := qosProfiles(t)
	topics := make([]string, 0, len(requirements))
	for topic := range requirements {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	var violations []string
	for _, topic := range topics {
		req := requirements[topic]
		declared := profiles[topic]
		if len(declared) == 0 {
			violations = append(violations, fmt.Sprintf("%s: no qos_negotiated events", topic))
			continue
		}
		for _, p := range declared {
			if req.Reliability != "" && reliabilityStrength[p.reliability] < reliabilityStrength[req.Reliability] {
				violations = append(violations, fmt.Sprintf("%s: %s declares %s, requires %s",
					topic, p.actor, p.reliability, req.Reliability))
			}
			if req.Durability != "" && durabilityStrength[p.durability] < durabilityStrength[req.Durability] {
				violations = append(violations, fmt.Sprintf("%s: %s declares %s durability, requires %s",
					topic, p.actor, p.durability, req.Durability))
			}
			if req.MinDepth > 0 && p.depth < req.MinDepth {
				violations = append(violations, fmt.Sprintf("%s: %s history depth %d below required %d",
					topic, p.actor, p.depth, req.MinDepth))
			}
		}
	}
	if len(violations) > 0 {
		return r.done(fail(fmt.Sprintf("qos policy violations: %s", strings.Join(violations, "; "))))
	}
	return r.done(pass(fmt.Sprintf("declared qos satisfies requirements on all %d topics", len(topics))))
}
