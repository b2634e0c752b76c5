package rules

import (
	"fmt"
	"sort"
	"strings"

	"tracecheck/internal/trace"
)

type latencyBound struct{ named }

// Evaluate measures publish-to-delivery latency per message and fails
// when the worst observed latency exceeds the configured bound. The
// measured value is the maximum latency in milliseconds. Passes
// vacuously when nothing was delivered.
func (r latencyBound) Evaluate(t trace.Trace, ctx Context) Result {
	bound := ctx.Config.LatencyBound()
	latencies := deliveryLatencies(t)
	if len(latencies) == 0 {
		return r.done(pass("no message deliveries in trace"))
	}
	maxMs := 0.0
	sum := 0.0
	over := 0
	for _, l := range latencies {
		ms := l * 1000
		sum += ms
		if ms > maxMs {
			maxMs = ms
		}
		if ms > bound {
			over++
		}
	}
	avg := sum / float64(len(latencies))
	if over > 0 {
		return r.done(measured(fail(fmt.Sprintf("%d of %d deliveries exceeded %gms latency bound (max %.2fms)",
			over, len(latencies), bound, maxMs)), maxMs))
	}
	return r.done(measured(pass(fmt.Sprintf("latency within %gms bound (avg %.2fms, max %.2fms)", bound, avg, maxMs)), maxMs))
}

// deliveryLatencies pairs each message_delivered event with its publish.
// Matching prefers message ids and falls back to the closest earlier
// publish on the same topic.
func deliveryLatencies(t trace.Trace) []float64 {
	pubs := t.OfKind(trace.KindTopicPublish)
	var out []float64
	for _, d := range t.OfKind(trace.KindMessageDelivered) {
		msgID := d.PayloadString("message_id")
		best := -1.0
		for _, p := range pubs {
			if p.Topic != d.Topic || p.Timestamp > d.Timestamp {
				continue
			}
			if msgID != "" && p.PayloadString("message_id") != "" {
				if p.PayloadString("message_id") == msgID {
					best = d.Timestamp - p.Timestamp
					break
				}
				continue
			}
			lat := d.Timestamp - p.Timestamp
			if best < 0 || lat < best {
				best = lat
			}
		}
		if best >= 0 {
			out = append(out, best)
		}
	}
	return out
}

type throughputMinimum struct{ named }

// Evaluate checks the publish rate of each topic with a configured
// minimum over the trace window. A configured topic with no publishes
// fails; with no minimums configured the rule passes vacuously. The
// measured value is the lowest rate relative to its minimum, in Hz.
func (r throughputMinimum) Evaluate(t trace.Trace, ctx Context) Result {
	minimums := ctx.Config.ThroughputMinimums
	if len(minimums) == 0 {
		return r.done(pass("no throughput minimums configured"))
	}
	topics := make([]string, 0, len(minimums))
	for topic := range minimums {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	var violations []string
	worst := -1.0
	for _, topic := range topics {
		pubs := t.OnTopic(trace.KindTopicPublish, topic)
		if len(pubs) == 0 {
			violations = append(violations, fmt.Sprintf("%s: no publish events", topic))
			continue
		}
		span := pubs[len(pubs)-1].Timestamp - pubs[0].Timestamp
		if span <= 0 {
			violations = append(violations, fmt.Sprintf("%s: only one publish, rate unmeasurable", topic))
			continue
		}
		rate := float64(len(pubs)-1) / span
		if worst < 0 || rate < worst {
			worst = rate
		}
		if rate < minimums[topic] {
			violations = append(violations, fmt.Sprintf("%s: %.2fHz below minimum %gHz", topic, rate, minimums[topic]))
		}
	}
	if len(violations) > 0 {
		res := fail(fmt.Sprintf("throughput violations: %s", strings.Join(violations, "; ")))
		if worst >= 0 {
			res = measured(res, worst)
		}
		return r.done(res)
	}
	return r.done(measured(pass(fmt.Sprintf("all %d topics meet throughput minimums", len(topics))), worst))
}

type resourceUsage struct{ named }

// Evaluate counts the distinct nodes and topic endpoints the trace
// created and compares the total against max_entities when configured.
// The measured value is the entity count.
func (r resourceUsage) Evaluate(t trace.Trace, ctx Context) Result {
	nodes := map[string]bool{}
	publishers := map[string]bool{}
	subscribers := map[string]bool{}
	for _, e := range t.Events() {
		switch e.Kind {
		case trace.KindNodeInit:
			nodes[e.Actor] = true
		case trace.KindTopicPublish:
			publishers[e.Actor+"|"+e.Topic] = true
		case trace.KindTopicSubscribe:
			subscribers[e.Actor+"|"+e.Topic] = true
		}
	}
	total := len(nodes) + len(publishers) + len(subscribers)
	summary := fmt.Sprintf("%d nodes, %d publisher endpoints, %d subscriber endpoints",
		len(nodes), len(publishers), len(subscribers))
	if ctx.Config.MaxEntities > 0 && total > ctx.Config.MaxEntities {
		return r.done(measured(fail(fmt.Sprintf("%d entities exceed max_entities %d (%s)",
			total, ctx.Config.MaxEntities, summary)), float64(total)))
	}
	return r.done(measured(pass(summary), float64(total)))
}
