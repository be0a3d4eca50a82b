package ack

import (
	"context"
	"testing"

	"github.com/shelldone/agentd/internal/capability"
	"github.com/shelldone/agentd/internal/journal"
	"github.com/shelldone/agentd/internal/policy"
	"github.com/shelldone/agentd/internal/snapshot"
)

func newTestKernel(t *testing.T) (*Kernel, *journal.Journal) {
	t.Helper()
	jDir := t.TempDir()
	j, err := journal.Open(jDir, 0)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })

	snapDir := t.TempDir()
	st, err := snapshot.Open(snapDir, j)
	if err != nil {
		t.Fatalf("open snapshot store: %v", err)
	}

	pol := policy.NewEngine()
	return NewKernel(j, pol, st, nil), j
}

func testSession() *capability.Session {
	return capability.NewSession("s1", capability.DefaultServerManifest(), capability.PersonaNova, capability.HintBudget{}, capability.ApprovalPolicy{})
}

func TestExecDeniedByPolicyNeverSpawns(t *testing.T) {
	k, j := newTestKernel(t)
	if err := k.policy.Reload([]policy.Rule{
		{ID: "block-destructive", When: policy.Conditions{Command: []string{"ack.exec"}, ArgsMatch: `rm -rf`}, DenyReason: "destructive_path"},
	}); err != nil {
		t.Fatalf("reload policy: %v", err)
	}

	sess := testSession()
	_, err := k.Exec(context.Background(), sess, "rm -rf /", nil, false)
	if err == nil {
		t.Fatal("expected policy denial")
	}
	ackErr, ok := err.(*Error)
	if !ok || ackErr.Kind != KindPolicyDenied {
		t.Fatalf("expected PolicyDenied, got %v", err)
	}
	if len(ackErr.Reasons) == 0 || ackErr.Reasons[0] != "destructive_path" {
		t.Fatalf("expected destructive_path reason, got %v", ackErr.Reasons)
	}

	events, err := j.Range(1, 10)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected exactly start+denied events, got %d", len(events))
	}
	if events[0].Kind != "ack.exec.start" || events[1].Kind != "policy.denied" {
		t.Fatalf("unexpected event kinds: %s, %s", events[0].Kind, events[1].Kind)
	}
}

func TestUndoVerifiesMerkleRootAndReappliesSnapshot(t *testing.T) {
	k, j := newTestKernel(t)
	sess := testSession()

	for i := 0; i < 30; i++ {
		if _, err := j.Append(journal.EventBody{Kind: "test.event", SessionID: sess.ID, Payload: i}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	hdr, err := k.snapshot.CreateSnapshot(0)
	if err != nil {
		t.Fatalf("create snapshot: %v", err)
	}

	result, err := k.Undo(context.Background(), sess, hdr.SnapshotID, true)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if result.RestoredEventCount != 30 {
		t.Fatalf("restored count = %d, want 30", result.RestoredEventCount)
	}

	tail, err := j.Tail(1)
	if err != nil || len(tail) != 1 || tail[0].Kind != "ack.undo.applied" {
		t.Fatalf("expected ack.undo.applied as terminal event, got %+v err=%v", tail, err)
	}
}

func TestGuardRequestIsPendingUntilApproved(t *testing.T) {
	k, _ := newTestKernel(t)
	sess := testSession()

	result, err := k.Guard(context.Background(), sess, GuardRequest{Command: "ack.exec", Reason: "needs elevated fs access"})
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	if result.Status != "pending" {
		t.Fatalf("status = %s, want pending", result.Status)
	}
	if !k.ApproveGuard(result.ApprovalID) {
		t.Fatal("approve should succeed for a known approval id")
	}
	if k.ApproveGuard("not-a-real-id") {
		t.Fatal("approve should fail for an unknown approval id")
	}
}

func TestPlanRecordsAcceptedOrRejectedEvent(t *testing.T) {
	k, j := newTestKernel(t)
	sess := testSession()

	if err := k.Plan(context.Background(), sess, true, map[string]any{"steps": 3}); err != nil {
		t.Fatalf("plan: %v", err)
	}
	if err := k.Form(context.Background(), sess, false, map[string]any{"reason": "cancelled"}); err != nil {
		t.Fatalf("form: %v", err)
	}

	events, err := j.Range(1, 10)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(events) != 2 || events[0].Kind != "ack.plan.accepted" || events[1].Kind != "ack.form.rejected" {
		t.Fatalf("unexpected events: %+v", events)
	}
}
