package policy

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultEvalBudget bounds the wall-clock cost of a single Evaluate call.
const DefaultEvalBudget = 5 * time.Millisecond

// Engine evaluates PolicyInput against the current rule generation.
// Reload swaps the generation atomically; in-flight Evaluate calls keep
// running against whichever generation they loaded at entry.
type Engine struct {
	current    atomic.Pointer[RuleSet]
	generation atomic.Uint64
	budget     time.Duration
	mu         sync.Mutex // serializes Reload only
	onLog      func(kind string, args ...any)
}

// NewEngine returns an engine seeded with an empty (allow-everything)
// rule set and the default evaluation budget.
func NewEngine() *Engine {
	e := &Engine{budget: DefaultEvalBudget}
	e.current.Store(&RuleSet{})
	return e
}

// OnLog registers a callback for internal diagnostics (policy.internal_error,
// policy_timeout) the caller wants journaled or logged.
func (e *Engine) OnLog(fn func(kind string, args ...any)) {
	e.onLog = fn
}

// SetBudget overrides the per-call evaluation budget.
func (e *Engine) SetBudget(d time.Duration) {
	if d > 0 {
		e.budget = d
	}
}

// Evaluate runs the currently loaded rule set against in. It never blocks
// on Reload: it reads a stable snapshot pointer before interpreting rules.
// Evaluation is CPU-bound and runs inline on the caller's goroutine — no
// per-call goroutine or channel, matching the <5ms hot-path budget — and a
// recover guards against a malformed rule panicking mid-interpretation.
// The per-call budget is enforced by checking elapsed wall-clock time after
// the (normally sub-millisecond) interpreter returns, rather than by racing
// a timer against it.
func (e *Engine) Evaluate(in PolicyInput) (decision PolicyDecision) {
	rs := e.current.Load()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			if e.onLog != nil {
				e.onLog("policy.internal_error", "panic", r)
			}
			decision = PolicyDecision{Allowed: false, DenyReasons: []string{"policy_internal_error"}}
		}
	}()

	decision = rs.evaluate(in)
	if elapsed := time.Since(start); elapsed > e.budget {
		if e.onLog != nil {
			e.onLog("policy_timeout", "command", in.Command, "elapsed", elapsed)
		}
		return PolicyDecision{Allowed: false, DenyReasons: []string{"policy_timeout"}}
	}
	return decision
}

// Reload compiles the given rules and, on success, swaps them in as the
// new generation. On compile failure the previous generation is kept and
// an error is returned.
func (e *Engine) Reload(rules []Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	rs, err := compileRuleSet(rules)
	if err != nil {
		return err
	}
	e.current.Store(rs)
	e.generation.Add(1)
	return nil
}

// RuleCount reports the size of the currently loaded generation, mainly
// for diagnostics and tests.
func (e *Engine) RuleCount() int {
	return len(e.current.Load().Rules)
}

// Generation reports how many times Reload has successfully swapped in
// a new rule set, for callers (the durable policy-generation-history
// registry) that want to record each reload without re-deriving it from
// rule content.
func (e *Engine) Generation() uint64 {
	return e.generation.Load()
}
