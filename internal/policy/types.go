// Package policy evaluates declarative rules against ACK commands and
// reloads them at runtime without blocking in-flight evaluations.
package policy

// PolicyInput is the tuple the engine evaluates.
type PolicyInput struct {
	Command         string
	Persona         string
	Args            []string
	Capabilities    map[string]string
	ApprovalGranted bool
}

// PolicyDecision is the result of an evaluation. Allowed is false iff
// DenyReasons is non-empty.
type PolicyDecision struct {
	Allowed     bool
	DenyReasons []string // deduplicated, insertion order is not meaningful
	RuleRefs    []string

	// MinIsolation collects every matched rule's min_isolation side
	// channel (spec SPEC_FULL.md §4.6): the ACK Kernel folds these against
	// the persona's own baseline to pick the strictest applicable
	// sandbox.Level, rather than trusting a caller-supplied level.
	MinIsolation []string
}

func (d PolicyDecision) hasReason(reason string) bool {
	for _, r := range d.DenyReasons {
		if r == reason {
			return true
		}
	}
	return false
}
