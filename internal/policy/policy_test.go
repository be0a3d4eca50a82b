package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEmptyRuleSetAllowsEverything(t *testing.T) {
	e := NewEngine()
	d := e.Evaluate(PolicyInput{Command: "ack.exec", Persona: "nova"})
	if !d.Allowed || len(d.DenyReasons) != 0 {
		t.Fatalf("zero-policy path should allow, got %+v", d)
	}
}

func TestAllowedIffDenyReasonsEmpty(t *testing.T) {
	e := NewEngine()
	if err := e.Reload([]Rule{
		{ID: "block-rm", When: Conditions{Command: []string{"ack.exec"}, ArgsMatch: `rm -rf`}, DenyReason: "destructive_command"},
	}); err != nil {
		t.Fatalf("reload: %v", err)
	}

	denied := e.Evaluate(PolicyInput{Command: "ack.exec", Args: []string{"rm", "-rf", "/"}})
	if denied.Allowed {
		t.Fatal("expected deny")
	}
	if len(denied.DenyReasons) == 0 {
		t.Fatal("allowed=false must imply non-empty deny_reasons")
	}

	allowed := e.Evaluate(PolicyInput{Command: "ack.exec", Args: []string{"git", "status"}})
	if !allowed.Allowed {
		t.Fatal("expected allow")
	}
	if len(allowed.DenyReasons) != 0 {
		t.Fatal("allowed=true must imply empty deny_reasons")
	}
}

func TestApprovalGrantedGatesRule(t *testing.T) {
	e := NewEngine()
	granted := true
	if err := e.Reload([]Rule{
		{ID: "require-approval", When: Conditions{Command: []string{"ack.undo"}, ApprovalGranted: &[]bool{false}[0]}, DenyReason: "approval_required"},
		{ID: "approved-undo", When: Conditions{Command: []string{"ack.undo"}, ApprovalGranted: &granted}},
	}); err != nil {
		t.Fatalf("reload: %v", err)
	}

	d := e.Evaluate(PolicyInput{Command: "ack.undo", ApprovalGranted: false})
	if d.Allowed {
		t.Fatal("expected deny without approval")
	}

	d2 := e.Evaluate(PolicyInput{Command: "ack.undo", ApprovalGranted: true})
	if !d2.Allowed {
		t.Fatalf("expected allow with approval, got %+v", d2)
	}
}

func TestReloadRejectsMalformedPolicyKeepsPreviousGeneration(t *testing.T) {
	e := NewEngine()
	if err := e.Reload([]Rule{{ID: "ok", When: Conditions{Command: []string{"ack.exec"}}}}); err != nil {
		t.Fatalf("reload: %v", err)
	}
	before := e.RuleCount()

	err := e.Reload([]Rule{{When: Conditions{Command: []string{"ack.exec"}}}}) // missing ID
	if err == nil {
		t.Fatal("expected error for rule missing id")
	}
	if e.RuleCount() != before {
		t.Fatalf("generation changed after rejected reload: before=%d after=%d", before, e.RuleCount())
	}
}

func TestReloadRejectsBadRegex(t *testing.T) {
	e := NewEngine()
	err := e.Reload([]Rule{{ID: "bad", When: Conditions{ArgsMatch: "("}}})
	if err == nil {
		t.Fatal("expected compile error for invalid regex")
	}
}

func TestEvaluateExceedingBudgetReturnsTimeout(t *testing.T) {
	e := NewEngine()
	e.SetBudget(1) // effectively zero; any real work should exceed it
	d := e.Evaluate(PolicyInput{Command: "ack.exec"})
	if d.Allowed {
		t.Fatalf("expected timeout deny, got %+v", d)
	}
	if !d.hasReason("policy_timeout") {
		t.Fatalf("expected policy_timeout reason, got %+v", d.DenyReasons)
	}
}

func TestLoadFileAndWatchReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	initial := []byte("rules:\n  - id: block-exec\n    when:\n      command: [ack.exec]\n    deny_reason: blocked\n")
	if err := os.WriteFile(path, initial, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	e := NewEngine()
	if err := e.LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	d := e.Evaluate(PolicyInput{Command: "ack.exec"})
	if d.Allowed {
		t.Fatal("expected deny from loaded policy")
	}

	stop := make(chan struct{})
	defer close(stop)
	if err := e.Watch(path, stop); err != nil {
		t.Fatalf("watch: %v", err)
	}

	updated := []byte("rules: []\n")
	if err := os.WriteFile(path, updated, 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.Evaluate(PolicyInput{Command: "ack.exec"}).Allowed {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("policy did not hot-reload within deadline")
}
