package validator

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"tracecheck/internal/config"
	"tracecheck/internal/report"
	"tracecheck/internal/rules"
	"tracecheck/internal/trace"
)

// Engine executes a registry's rule set against a trace. It is
// stateless per call apart from a memo of the last produced report,
// kept for convenience re-rendering.
type Engine struct {
	Registry *rules.Registry
	// Workers bounds parallel rule evaluation; 0 means GOMAXPROCS.
	Workers int
	Now     func() time.Time

	mu   sync.Mutex
	last *report.Report
}

// New returns an engine over the given registry, or the built-in
// catalog when registry is nil.
func New(registry *rules.Registry) *Engine {
	if registry == nil {
		registry = rules.Builtin()
	}
	return &Engine{Registry: registry, Now: time.Now}
}

// Validate runs every rule active at the requested level against the
// trace and aggregates the results. Rules are evaluated in parallel but
// the report's result order is always registry order. A rule's internal
// failure is absorbed as a failed result; only configuration problems
// and cancellation abort the run.
func (e *Engine) Validate(ctx context.Context, t trace.Trace, level rules.Level, cfg *config.Config) (*report.Report, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, rules.ConfigurationError{Field: "config", Msg: err.Error()}
	}
	active, err := e.Registry.RulesFor(level)
	if err != nil {
		return nil, err
	}
	rctx := rules.Context{Config: cfg}

	results := make([]rules.Result, len(active))
	workers := e.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, rule := range active {
		wg.Add(1)
		go func(i int, rule rules.Rule) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = evaluate(rule, t, rctx)
		}(i, rule)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
	}

	var now time.Time
	if e.Now != nil {
		now = e.Now()
	}
	rep := report.Build(level, results, now)
	e.mu.Lock()
	e.last = rep
	e.mu.Unlock()
	return rep, nil
}

// evaluate isolates one rule: a panic inside Evaluate becomes a failed
// result so the remaining rules still run.
func evaluate(rule rules.Rule, t trace.Trace, rctx rules.Context) (res rules.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = rules.Result{
				RuleName: rule.Name(),
				Category: rule.Category(),
				Passed:   false,
				Message:  fmt.Sprintf("rule evaluation failed: %v", r),
			}
		}
	}()
	return rule.Evaluate(t, rctx)
}

// Last returns the most recently produced report, if any.
func (e *Engine) Last() *report.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// PrintSummary re-renders the last report. Purely presentational.
func (e *Engine) PrintSummary(w io.Writer) error {
	rep := e.Last()
	if rep == nil {
		return fmt.Errorf("no validation has run yet")
	}
	rep.PrintSummary(w)
	return nil
}

// SaveResults writes the last report to path. Purely presentational.
func (e *Engine) SaveResults(path string) error {
	rep := e.Last()
	if rep == nil {
		return fmt.Errorf("no validation has run yet")
	}
	return rep.Save(path)
}
