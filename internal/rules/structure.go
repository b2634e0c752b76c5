package rules

import (
	"fmt"
	"sort"
	"strings"

	"tracecheck/internal/trace"
)

// Structure rules check the static shape of the simulated system:
// which nodes came up, in what order, and whether the topic graph is
// fully connected. They fail when the trace carries no relevant events
// at all: a system that never initialized anything is a modeling
// defect, not a vacuous pass.

type requiredNodesPresent struct{ named }

func (r requiredNodesPresent) Evaluate(t trace.Trace, ctx Context) Result {
	inits := t.OfKind(trace.KindNodeInit)
	if len(inits) == 0 {
		return r.done(fail("no node_init events in trace"))
	}
	seen := map[string]bool{}
	for _, e := range inits {
		seen[e.Actor] = true
	}
	var missing []string
	for _, node := range ctx.Config.RequiredNodes {
		if !seen[node] {
			missing = append(missing, node)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return r.done(fail(fmt.Sprintf("missing required nodes: %s", strings.Join(missing, ", "))))
	}
	return r.done(pass(fmt.Sprintf("%d nodes initialized, all required nodes present", len(seen))))
}

type initializationOrder struct{ named }

func (r initializationOrder) Evaluate(t trace.Trace, ctx Context) Result {
	inits := t.OfKind(trace.KindNodeInit)
	if len(inits) == 0 {
		return r.done(fail("no node_init events in trace"))
	}
	// position of each node's first initialization
	first := map[string]int{}
	for i, e := range inits {
		if _, ok := first[e.Actor]; !ok {
			first[e.Actor] = i
		}
	}
	// every node of group i must initialize before any node of group i+1
	prevMax := -1
	prevGroup := ""
	for _, group := range ctx.Config.InitializationOrder {
		groupMax := -1
		for _, node := range group {
			pos, ok := first[node]
			if !ok {
				return r.done(fail(fmt.Sprintf("node %s in initialization_order never initialized", node)))
			}
			if pos <= prevMax {
				return r.done(fail(fmt.Sprintf("node %s initialized before group [%s] completed", node, prevGroup)))
			}
			if pos > groupMax {
				groupMax = pos
			}
		}
		prevMax = groupMax
		prevGroup = strings.Join(group, ", ")
	}
	return r.done(pass("node initialization order matches configured dependency chain"))
}

type requiredTopicsPresent struct{ named }

func (r requiredTopicsPresent) Evaluate(t trace.Trace, ctx Context) Result {
	pubs := t.OfKind(trace.KindTopicPublish)
	if len(pubs) == 0 {
		return r.done(fail("no topic_publish events in trace"))
	}
	seen := map[string]bool{}
	for _, e := range pubs {
		seen[e.Topic] = true
	}
	var missing []string
	for _, topic := range ctx.Config.RequiredTopics {
		if !seen[topic] {
			missing = append(missing, topic)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return r.done(fail(fmt.Sprintf("missing required topics: %s", strings.Join(missing, ", "))))
	}
	return r.done(pass(fmt.Sprintf("%d topics published, all required topics present", len(seen))))
}

type topicConnectionCompleteness struct{ named }

func (r topicConnectionCompleteness) Evaluate(t trace.Trace, ctx Context) Result {
	published := map[string]bool{}
	subscribed := map[string]bool{}
	for _, e := range t.Events() {
		switch e.Kind {
		case trace.KindTopicPublish:
			published[e.Topic] = true
		case trace.KindTopicSubscribe:
			subscribed[e.Topic] = true
		}
	}
	if len(published) == 0 && len(subscribed) == 0 {
		return r.done(fail("no topic activity in trace"))
	}
	var orphaned []string
	for topic := range published {
		if !subscribed[topic] {
			orphaned = append(orphaned, topic+" (no subscribers)")
		}
	}
	for topic := range subscribed {
		if !published[topic] {
			orphaned = append(orphaned, topic+" (no publishers)")
		}
	}
	if len(orphaned) > 0 {
		sort.Strings(orphaned)
		return r.done(fail(fmt.Sprintf("orphaned topics: %s", strings.Join(orphaned, ", "))))
	}
	return r.done(pass(fmt.Sprintf("all %d topics have matching publishers and subscribers", len(published))))
}
