package ack

import "time"

// ExecResult is the outcome of an exec command.
type ExecResult struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	DurationMs int64
}

// UndoResult is the outcome of an undo command.
type UndoResult struct {
	RestoredEventCount int
}

// GuardRequest asks for an elevated-capability approval.
type GuardRequest struct {
	Command string
	Reason  string
}

// GuardResult records the outcome of a guard request; subsequent ACK
// calls reference ApprovalID via PolicyInput.ApprovalGranted.
type GuardResult struct {
	ApprovalID string
	Status     string // pending | granted | denied
}

// InspectResult is a read-only view of the most recent journal events.
// Selector is echoed back as given; it does not filter Events, and no
// terminal bindings are included.
type InspectResult struct {
	Selector    string
	GeneratedAt time.Time
	Events      []any
}
