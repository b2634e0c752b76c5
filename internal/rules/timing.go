package rules

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"tracecheck/internal/trace"
)

type publishIntervalConsistency struct{ named }

// Evaluate compares mean inter-publish intervals per topic against the
// configured rate targets within the configured tolerance. A target
// topic with fewer than two publishes fails; with no targets configured
// the rule passes vacuously. The measured value is the worst relative
// deviation observed.
func (r publishIntervalConsistency) Evaluate(t trace.Trace, ctx Context) Result {
	targets := ctx.Config.PublishRateTargets
	if len(targets) == 0 {
		return r.done(pass("no publish rate targets configured"))
	}
	tolerance := ctx.Config.RateTolerance()
	topics := make([]string, 0, len(targets))
	for topic := range targets {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	var violations []string
	worst := 0.0
	for _, topic := range topics {
		pubs := t.OnTopic(trace.KindTopicPublish, topic)
		if len(pubs) < 2 {
			violations = append(violations, fmt.Sprintf("%s: %d publish events, interval unmeasurable", topic, len(pubs)))
			continue
		}
		expected := 1.0 / targets[topic]
		span := pubs[len(pubs)-1].Timestamp - pubs[0].Timestamp
		actual := span / float64(len(pubs)-1)
		deviation := math.Abs(actual-expected) / expected
		if deviation > worst {
			worst = deviation
		}
		if deviation > tolerance {
			violations = append(violations, fmt.Sprintf("%s: mean interval %.4fs, expected %.4fs (%.0f%% off)",
				topic, actual, expected, deviation*100))
		}
	}
	if len(violations) > 0 {
		return r.done(measured(fail(fmt.Sprintf("publish interval violations: %s", strings.Join(violations, "; "))), worst))
	}
	return r.done(measured(pass(fmt.Sprintf("publish intervals within %.0f%% of targets for %d topics",
		tolerance*100, len(topics))), worst))
}

type callbackDurationBound struct{ named }

// Evaluate pairs callback_start/callback_end events per actor and fails
// when any callback runs longer than the configured bound. An unclosed
// callback fails. Passes vacuously when the trace records no callbacks.
// The measured value is the longest callback in milliseconds.
func (r callbackDurationBound) Evaluate(t trace.Trace, ctx Context) Result {
	bound := ctx.Config.CallbackBound()
	events := t.Events()

	open := map[string]float64{} // actor -> start timestamp
	maxMs := 0.0
	count := 0
	over := 0
	var unclosed []string
	for _, e := range events {
		switch e.Kind {
		case trace.KindCallbackStart:
			open[e.Actor] = e.Timestamp
		case trace.KindCallbackEnd:
			start, ok := open[e.Actor]
			if !ok {
				continue
			}
			delete(open, e.Actor)
			count++
			ms := (e.Timestamp - start) * 1000
			if ms > maxMs {
				maxMs = ms
			}
			if ms > bound {
				over++
			}
		}
	}
	for actor := range open {
		unclosed = append(unclosed, actor)
	}
	if count == 0 && len(unclosed) == 0 {
		return r.done(pass("no callback events in trace"))
	}
	if len(unclosed) > 0 {
		sort.Strings(unclosed)
		return r.done(fail(fmt.Sprintf("callbacks never completed for: %s", strings.Join(unclosed, ", "))))
	}
	if over > 0 {
		return r.done(measured(fail(fmt.Sprintf("%d of %d callbacks exceeded %gms bound (max %.2fms)",
			over, count, bound, maxMs)), maxMs))
	}
	return r.done(measured(pass(fmt.Sprintf("all %d callbacks within %gms bound (max %.2fms)", count, bound, maxMs)), maxMs))
}
