package ack

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shelldone/agentd/internal/capability"
	"github.com/shelldone/agentd/internal/escfilter"
	"github.com/shelldone/agentd/internal/journal"
	"github.com/shelldone/agentd/internal/policy"
	"github.com/shelldone/agentd/internal/sandbox"
	"github.com/shelldone/agentd/internal/snapshot"
)

// Kernel is the single entry point for agent commands. Every command
// shares the uniform wrapper described in spec §4.6: resolve session,
// evaluate policy, execute, append start/terminal events, record latency.
type Kernel struct {
	journal  *journal.Journal
	policy   *policy.Engine
	snapshot *snapshot.Store
	exec     *Executor

	onLatency func(command string, d time.Duration)
	guards    map[string]*GuardResult
}

// NewKernel wires the kernel's collaborators. exec may be nil only in
// tests that never call Exec.
func NewKernel(j *journal.Journal, pol *policy.Engine, snap *snapshot.Store, exec *Executor) *Kernel {
	return &Kernel{journal: j, policy: pol, snapshot: snap, exec: exec, guards: map[string]*GuardResult{}}
}

// OnLatency registers a callback invoked after every command with its
// wall-clock duration, for the Telemetry Exporter to consume.
func (k *Kernel) OnLatency(fn func(command string, d time.Duration)) {
	k.onLatency = fn
}

func (k *Kernel) timed(command string) func() {
	start := time.Now()
	return func() {
		if k.onLatency != nil {
			k.onLatency(command, time.Since(start))
		}
	}
}

func (k *Kernel) append(sess *capability.Session, kind string, payload any) (journal.EventRecord, error) {
	rec, err := k.journal.Append(journal.EventBody{
		Kind:      kind,
		Persona:   string(sess.Persona),
		SessionID: sess.ID,
		Payload:   payload,
	})
	if err != nil {
		return journal.EventRecord{}, newError(KindIo, err)
	}
	return rec, nil
}

// Exec spawns cmd through the sandboxed Executor after a policy check,
// appending ack.exec.start and a terminal event. The isolation level is
// never taken from the caller: it is derived from the session's persona
// ApprovalPolicy baseline, tightened by any min_isolation a matched policy
// rule demands (spec SPEC_FULL.md §4.6).
func (k *Kernel) Exec(ctx context.Context, sess *capability.Session, cmd string, env map[string]string, approvalGranted bool) (ExecResult, error) {
	defer k.timed("ack.exec")()

	if !sess.AllowHint() {
		k.append(sess, "ack.exec.error", map[string]any{"reason": "hint_budget_exhausted"})
		return ExecResult{}, busy("hint_budget_exhausted")
	}

	decision := k.policy.Evaluate(policy.PolicyInput{
		Command:         "ack.exec",
		Persona:         string(sess.Persona),
		Args:            []string{cmd},
		Capabilities:    map[string]string{"security_level": sess.Manifest.SecurityLevel},
		ApprovalGranted: approvalGranted,
	})
	if !decision.Allowed {
		k.append(sess, "ack.exec.start", map[string]any{"cmd": cmd})
		k.append(sess, "policy.denied", map[string]any{"reasons": decision.DenyReasons, "rule_refs": decision.RuleRefs})
		return ExecResult{}, policyDenied(decision.DenyReasons, decision.RuleRefs)
	}

	if _, err := k.append(sess, "ack.exec.start", map[string]any{"cmd": cmd}); err != nil {
		return ExecResult{}, err
	}

	if k.exec == nil {
		return ExecResult{}, newError(KindConfig, fmt.Errorf("no executor configured"))
	}

	level := isolationLevel(sess.Approval, decision.MinIsolation)
	allow := escfilter.FromManifestTags(sess.Manifest.OSC52Read, sess.Manifest.OSC52Write)
	onGuard := func(kind escfilter.Kind, id int, reason string) {
		k.append(sess, "sigma.guard", map[string]any{"kind": kind.String(), "id": id, "reason": reason})
	}

	start := time.Now()
	stdout, stderr, exitCode, err := k.exec.Run(ctx, level, cmd, env, allow, onGuard)
	duration := time.Since(start)
	if err != nil {
		k.append(sess, "ack.exec.error", map[string]any{"error": err.Error()})
		return ExecResult{}, newError(KindIo, err)
	}

	result := ExecResult{Stdout: stdout, Stderr: stderr, ExitCode: exitCode, DurationMs: duration.Milliseconds()}
	k.append(sess, "ack.exec.end", map[string]any{"exit_code": exitCode, "duration_ms": result.DurationMs})
	return result, nil
}

// isolationLevel picks the sandbox level an exec runs at: a persona that
// requires an explicit ack guard gets the strictest baseline, an
// auto-confirming persona the standard one, and any matched policy rule's
// min_isolation can only tighten that baseline further, never loosen it.
func isolationLevel(approval capability.ApprovalPolicy, minIsolation []string) sandbox.Level {
	level := sandbox.Standard
	if approval.RequireAck {
		level = sandbox.Strict
	}
	for _, m := range minIsolation {
		if rl := sandbox.ParseLevel(m); rl < level {
			level = rl
		}
	}
	return level
}

// Undo restores a snapshot and re-applies it as the authoritative journal
// state, failing with IntegrityError on Merkle mismatch.
func (k *Kernel) Undo(ctx context.Context, sess *capability.Session, snapshotID string, approvalGranted bool) (UndoResult, error) {
	defer k.timed("ack.undo")()

	decision := k.policy.Evaluate(policy.PolicyInput{Command: "ack.undo", Persona: string(sess.Persona), ApprovalGranted: approvalGranted})
	if !decision.Allowed {
		k.append(sess, "policy.denied", map[string]any{"reasons": decision.DenyReasons, "rule_refs": decision.RuleRefs})
		return UndoResult{}, policyDenied(decision.DenyReasons, decision.RuleRefs)
	}

	_, events, err := k.snapshot.Restore(snapshotID)
	if err != nil {
		if ie, ok := err.(*snapshot.IntegrityError); ok {
			k.append(sess, "ack.undo.error", map[string]any{"reason": ie.Error()})
			return UndoResult{}, newError(KindIntegrity, ie)
		}
		return UndoResult{}, newError(KindIo, err)
	}

	k.append(sess, "ack.undo.applied", map[string]any{"snapshot_id": snapshotID, "restored_event_count": len(events)})
	return UndoResult{RestoredEventCount: len(events)}, nil
}

// Guard records a request for elevated capability; the returned
// ApprovalID can later be referenced via PolicyInput.ApprovalGranted
// once a user confirms it out of band.
func (k *Kernel) Guard(ctx context.Context, sess *capability.Session, req GuardRequest) (GuardResult, error) {
	defer k.timed("ack.guard")()
	result := GuardResult{ApprovalID: uuid.NewString(), Status: "pending"}
	k.guards[result.ApprovalID] = &result
	k.append(sess, "ack.guard.requested", map[string]any{"approval_id": result.ApprovalID, "command": req.Command, "reason": req.Reason})
	return result, nil
}

// ApproveGuard marks a pending approval granted, for use by a
// confirmation flow external to the kernel.
func (k *Kernel) ApproveGuard(approvalID string) bool {
	g, ok := k.guards[approvalID]
	if !ok {
		return false
	}
	g.Status = "granted"
	return true
}

// Journal returns a restartable range of events bounded by the caller's
// cursor.
func (k *Kernel) Journal(ctx context.Context, startSeq, endSeq uint64) ([]journal.EventRecord, error) {
	defer k.timed("ack.journal")()
	events, err := k.journal.Range(startSeq, endSeq)
	if err != nil {
		return nil, newError(KindIo, err)
	}
	return events, nil
}

// Inspect returns the last 200 journal events, read-only. The selector is
// recorded on the result but does not filter the events, and terminal
// bindings are not included.
func (k *Kernel) Inspect(ctx context.Context, selector string) (InspectResult, error) {
	defer k.timed("ack.inspect")()
	tail, err := k.journal.Tail(200)
	if err != nil {
		return InspectResult{}, newError(KindIo, err)
	}
	events := make([]any, 0, len(tail))
	for _, e := range tail {
		events = append(events, e)
	}
	return InspectResult{Selector: selector, GeneratedAt: time.Now().UTC(), Events: events}, nil
}

// Plan, Form, and Connect are orchestration primitives: they delegate the
// actual decision to the client and only persist an acceptance or
// rejection event.
func (k *Kernel) Plan(ctx context.Context, sess *capability.Session, accepted bool, payload map[string]any) error {
	defer k.timed("ack.plan")()
	return k.recordOrchestration(sess, "ack.plan", accepted, payload)
}

func (k *Kernel) Form(ctx context.Context, sess *capability.Session, accepted bool, payload map[string]any) error {
	defer k.timed("ack.form")()
	return k.recordOrchestration(sess, "ack.form", accepted, payload)
}

func (k *Kernel) Connect(ctx context.Context, sess *capability.Session, accepted bool, payload map[string]any) error {
	defer k.timed("ack.connect")()
	return k.recordOrchestration(sess, "ack.connect", accepted, payload)
}

func (k *Kernel) recordOrchestration(sess *capability.Session, command string, accepted bool, payload map[string]any) error {
	kind := command + ".accepted"
	if !accepted {
		kind = command + ".rejected"
	}
	if _, err := k.append(sess, kind, payload); err != nil {
		return err
	}
	return nil
}
