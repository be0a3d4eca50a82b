package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// Conditions is a conjunction: a rule matches an input only when every
// populated field matches. Unset fields are ignored (treated as "any").
type Conditions struct {
	Command           []string          `yaml:"command,omitempty"`
	Persona           []string          `yaml:"persona,omitempty"`
	ArgsMatch         string            `yaml:"args_match,omitempty"` // regex tested against the joined args
	RequireCapability map[string]string `yaml:"require_capability,omitempty"`
	ApprovalGranted   *bool             `yaml:"approval_granted,omitempty"`

	argsMatchRe *regexp.Regexp
}

func (c *Conditions) compile() error {
	if c.ArgsMatch == "" {
		return nil
	}
	re, err := regexp.Compile(c.ArgsMatch)
	if err != nil {
		return fmt.Errorf("args_match %q: %w", c.ArgsMatch, err)
	}
	c.argsMatchRe = re
	return nil
}

func (c *Conditions) matches(in PolicyInput) bool {
	if len(c.Command) > 0 && !containsString(c.Command, in.Command) {
		return false
	}
	if len(c.Persona) > 0 && !containsString(c.Persona, in.Persona) {
		return false
	}
	if c.argsMatchRe != nil && !c.argsMatchRe.MatchString(strings.Join(in.Args, " ")) {
		return false
	}
	for tag, want := range c.RequireCapability {
		if in.Capabilities[tag] != want {
			return false
		}
	}
	if c.ApprovalGranted != nil && in.ApprovalGranted != *c.ApprovalGranted {
		return false
	}
	return true
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Rule is one clause of the engine's allow predicate. A rule with a
// non-empty DenyReason contributes that reason when it matches; a rule
// with an empty DenyReason is a positive disjunct — matching it adds its
// ID to RuleRefs, but it does not override a deny reason contributed by
// another matching rule, and inputs no rule denies are allowed anyway.
type Rule struct {
	ID           string     `yaml:"id"`
	When         Conditions `yaml:"when"`
	DenyReason   string     `yaml:"deny_reason,omitempty"`
	MinIsolation string     `yaml:"min_isolation,omitempty"` // surfaced to the ACK kernel via PolicyDecision.MinIsolation
}

// RuleSet is one reloadable generation of the policy.
type RuleSet struct {
	Rules []Rule
}

func compileRuleSet(rules []Rule) (*RuleSet, error) {
	for i := range rules {
		if rules[i].ID == "" {
			return nil, fmt.Errorf("policy: rule at index %d missing id", i)
		}
		if err := rules[i].When.compile(); err != nil {
			return nil, fmt.Errorf("policy: rule %s: %w", rules[i].ID, err)
		}
	}
	return &RuleSet{Rules: rules}, nil
}

// evaluate runs the rule interpreter. An empty rule set is the zero-policy
// path: no rule matches, no deny reason accumulates, and the input is
// allowed by the same code path as any other unmatched input.
func (rs *RuleSet) evaluate(in PolicyInput) PolicyDecision {
	var decision PolicyDecision
	seenReason := map[string]bool{}
	for _, rule := range rs.Rules {
		if !rule.When.matches(in) {
			continue
		}
		decision.RuleRefs = append(decision.RuleRefs, rule.ID)
		if rule.MinIsolation != "" {
			decision.MinIsolation = append(decision.MinIsolation, rule.MinIsolation)
		}
		if rule.DenyReason == "" {
			decision.Allowed = true
			continue
		}
		if !seenReason[rule.DenyReason] {
			seenReason[rule.DenyReason] = true
			decision.DenyReasons = append(decision.DenyReasons, rule.DenyReason)
		}
	}
	if len(decision.DenyReasons) > 0 {
		decision.Allowed = false
		return decision
	}
	if len(rs.Rules) == 0 {
		decision.Allowed = true
		return decision
	}
	// No deny rule fired. If nothing positively allowed it either, the
	// input falls through open (no rule matched it at all).
	if !decision.Allowed {
		decision.Allowed = true
	}
	return decision
}
