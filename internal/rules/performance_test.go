package rules

import (
	"math"
	"strings"
	"testing"

	"tracecheck/internal/config"
	"tracecheck/internal/trace"
)

func TestLatencyBound(t *testing.T) {
	rule := builtinRule(t, "latency-bound")

	// nothing delivered: vacuous pass
	if res := rule.Evaluate(trace.New(publishesAt("/scan", 0, 1)), evalCtx(nil)); !res.Passed {
		t.Fatalf("expected vacuous pass: %s", res.Message)
	}

	// 150ms latency against the 100ms default bound
	late := trace.New([]trace.Event{
		{Kind: trace.KindTopicPublish, Timestamp: 1.0, Actor: "sensor", Topic: "/scan"},
		{Kind: trace.KindMessageDelivered, Timestamp: 1.15, Actor: "planner", Topic: "/scan"},
	})
	res := rule.Evaluate(late, evalCtx(nil))
	if res.Passed {
		t.Fatalf("expected latency failure: %s", res.Message)
	}
	if res.MeasuredValue == nil || math.Abs(*res.MeasuredValue-150) > 0.01 {
		t.Fatalf("expected measured 150ms, got %+v", res.MeasuredValue)
	}

	// same trace passes with a raised bound
	relaxed := &config.Config{LatencyBoundMs: f64(200)}
	if res := rule.Evaluate(late, evalCtx(relaxed)); !res.Passed {
		t.Fatalf("expected pass under 200ms bound: %s", res.Message)
	}

	// deliveries with message ids match their own publish, not the closest
	matched := trace.New([]trace.Event{
		{Kind: trace.KindTopicPublish, Timestamp: 1.0, Actor: "sensor", Topic: "/scan", Payload: map[string]any{"message_id": "m-1"}},
		{Kind: trace.KindTopicPublish, Timestamp: 1.1, Actor: "sensor", Topic: "/scan", Payload: map[string]any{"message_id": "m-2"}},
		{Kind: trace.KindMessageDelivered, Timestamp: 1.12, Actor: "planner", Topic: "/scan", Payload: map[string]any{"message_id": "m-1"}},
	})
	res = rule.Evaluate(matched, evalCtx(nil))
	if res.Passed {
		t.Fatalf("expected 120ms via id match to fail: %s", res.Message)
	}
	if res.MeasuredValue == nil || math.Abs(*res.MeasuredValue-120) > 0.01 {
		t.Fatalf("expected measured 120ms, got %+v", res.MeasuredValue)
	}
}

func TestThroughputMinimum(t *testing.T) {
	rule := builtinRule(t, "throughput-minimum")

	// no minimums configured: vacuous pass
	if res := rule.Evaluate(trace.New(nil), evalCtx(nil)); !res.Passed {
		t.Fatalf("expected vacuous pass: %s", res.Message)
	}

	cfg := &config.Config{ThroughputMinimums: map[string]float64{"/scan": 10}}

	// 4 publishes over 0.3s is 10Hz exactly
	steady := trace.New(publishesAt("/scan", 0.0, 0.1, 0.2, 0.3))
	res := rule.Evaluate(steady, evalCtx(cfg))
	if !res.Passed {
		t.Fatalf("expected pass: %s", res.Message)
	}
	if res.MeasuredValue == nil || math.Abs(*res.MeasuredValue-10) > 0.01 {
		t.Fatalf("expected measured 10Hz, got %+v", res.MeasuredValue)
	}

	// 2Hz falls below the 10Hz minimum
	slow := trace.New(publishesAt("/scan", 0.0, 0.5, 1.0))
	if res := rule.Evaluate(slow, evalCtx(cfg)); res.Passed {
		t.Fatalf("expected throughput failure: %s", res.Message)
	}

	// a configured topic with no publishes fails
	silent := trace.New(publishesAt("/odom", 0.0, 0.1))
	res = rule.Evaluate(silent, evalCtx(cfg))
	if res.Passed || !strings.Contains(res.Message, "no publish events") {
		t.Fatalf("expected silent topic failure: %+v", res)
	}
}

func TestResourceUsage(t *testing.T) {
	rule := builtinRule(t, "resource-usage")

	tr := trace.New([]trace.Event{
		{Kind: trace.KindNodeInit, Timestamp: 0.0, Actor: "sensor"},
		{Kind: trace.KindNodeInit, Timestamp: 0.1, Actor: "planner"},
		{Kind: trace.KindTopicPublish, Timestamp: 0.2, Actor: "sensor", Topic: "/scan"},
		{Kind: trace.KindTopicPublish, Timestamp: 0.3, Actor: "sensor", Topic: "/scan"},
		{Kind: trace.KindTopicSubscribe, Timestamp: 0.2, Actor: "planner", Topic: "/scan"},
	})

	// 2 nodes + 1 publisher endpoint + 1 subscriber endpoint
	res := rule.Evaluate(tr, evalCtx(nil))
	if !res.Passed {
		t.Fatalf("expected unbounded pass: %s", res.Message)
	}
	if res.MeasuredValue == nil || *res.MeasuredValue != 4 {
		t.Fatalf("expected 4 entities, got %+v", res.MeasuredValue)
	}

	if res := rule.Evaluate(tr, evalCtx(&config.Config{MaxEntities: 3})); res.Passed {
		t.Fatalf("expected max_entities violation: %s", res.Message)
	}
	if res := rule.Evaluate(tr, evalCtx(&config.Config{MaxEntities: 4})); !res.Passed {
		t.Fatalf("expected pass at the bound: %s", res.Message)
	}
}
