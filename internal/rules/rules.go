package rules

import (
	"fmt"

	"tracecheck/internal/config"
	"tracecheck/internal/trace"
)

// Level is an escalating validation tier. Higher levels run strict
// supersets of the rules of lower levels.
type Level int

const (
	Basic Level = iota + 1
	Standard
	Comprehensive
)

func (l Level) String() string {
	switch l {
	case Basic:
		return "basic"
	case Standard:
		return "standard"
	case Comprehensive:
		return "comprehensive"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel maps a level selector to a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "basic":
		return Basic, nil
	case "standard":
		return Standard, nil
	case "comprehensive":
		return Comprehensive, nil
	}
	return 0, ConfigurationError{Field: "level", Msg: fmt.Sprintf("unknown validation level %q (want basic, standard or comprehensive)", s)}
}

// Category is the cross-cutting grouping of a rule, used for reporting.
type Category string

const (
	Structure   Category = "structure"
	Behavior    Category = "behavior"
	Performance Category = "performance"
	Timing      Category = "timing"
	QoS         Category = "qos"
)

// Categories lists all categories in reporting order.
func Categories() []Category {
	return []Category{Structure, Behavior, Performance, Timing, QoS}
}

// ConfigurationError reports invalid validation parameters. It fails
// fast, before any rule executes.
type ConfigurationError struct {
	Field string
	Msg   string
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Msg)
}

// Context carries the externally supplied expectations a rule checks
// against. Rules only ever read it.
type Context struct {
	Config *config.Config
}

// Result is a single rule's verdict. Message explains a failure;
// MeasuredValue carries a numeric observation (latency, rate) for
// downstream statistical comparison.
type Result struct {
	RuleName      string   `json:"rule_name"`
	Category      Category `json:"category"`
	Passed        bool     `json:"passed"`
	Message       string   `json:"message"`
	MeasuredValue *float64 `json:"measured_value,omitempty"`
}

func pass(msg string) Result { return Result{Passed: true, Message: msg} }
func fail(msg string) Result { return Result{Passed: false, Message: msg} }

func measured(r Result, v float64) Result {
	r.MeasuredValue = &v
	return r
}

// Rule is a single named check over a trace. Evaluation must be
// deterministic, side-effect-free and must never mutate the trace.
type Rule interface {
	Name() string
	Category() Category
	MinLevel() Level
	Evaluate(t trace.Trace, ctx Context) Result
}

// Registry holds the canonical ordered rule set. Registration order is
// the execution and reporting order, so reports are reproducible.
type Registry struct {
	rules  []Rule
	byName map[string]bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: map[string]bool{}}
}

// Register appends a rule. Duplicate names are rejected.
func (r *Registry) Register(rule Rule) error {
	if r.byName[rule.Name()] {
		return ConfigurationError{Field: "rules", Msg: fmt.Sprintf("duplicate rule %q", rule.Name())}
	}
	r.byName[rule.Name()] = true
	r.rules = append(r.rules, rule)
	return nil
}

// RulesFor returns all rules active at the requested level, in
// registration order. Raising the level never drops a rule a lower
// level included.
func (r *Registry) RulesFor(level Level) ([]Rule, error) {
	if level < Basic || level > Comprehensive {
		return nil, ConfigurationError{Field: "level", Msg: fmt.Sprintf("unknown validation level %d", int(level))}
	}
	var out []Rule
	for _, rule := range r.rules {
		if rule.MinLevel() <= level {
			out = append(out, rule)
		}
	}
	return out, nil
}

// All returns every registered rule in registration order.
func (r *Registry) All() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Builtin returns a registry loaded with the full built-in catalog.
func Builtin() *Registry {
	reg := NewRegistry()
	for _, rule := range []Rule{
		requiredNodesPresent{named{"required-nodes-present", Structure, Basic}},
		initializationOrder{named{"initialization-order", Structure, Basic}},
		requiredTopicsPresent{named{"required-topics-present", Structure, Basic}},
		topicConnectionCompleteness{named{"topic-connection-completeness", Structure, Basic}},
		messageFlowPattern{named{"message-flow-pattern", Behavior, Basic}},
		lifecycleTransitionValidity{named{"lifecycle-transition-validity", Behavior, Standard}},
		publishIntervalConsistency{named{"publish-interval-consistency", Timing, Standard}},
		latencyBound{named{"latency-bound", Performance, Standard}},
		qosProfileConsistency{named{"qos-profile-consistency", QoS, Standard}},
		callbackDurationBound{named{"callback-duration-bound", Timing, Comprehensive}},
		throughputMinimum{named{"throughput-minimum", Performance, Comprehensive}},
		resourceUsage{named{"resource-usage", Performance, Comprehensive}},
		errorHandling{named{"error-handling", Behavior, Comprehensive}},
		qosPolicyCompliance{named{"qos-policy-compliance", QoS, Comprehensive}},
	} {
		if err := reg.Register(rule); err != nil {
			panic(err)
		}
	}
	return reg
}

// named carries the static metadata every builtin rule shares.
type named struct {
	name     string
	category Category
	minLevel Level
}

func (n named) Name() string       { return n.name }
func (n named) Category() Category { return n.category }
func (n named) MinLevel() Level    { return n.minLevel }

// done stamps a rule's identity onto its result.
func (n named) done(r Result) Result {
	r.RuleName = n.name
	r.Category = n.category
	return r
}
