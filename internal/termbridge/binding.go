// Package termbridge unifies control of external terminal emulators: a
// consent-gated binding state machine, a versioned capability map, and
// an Adapter Port abstraction routing spawn/focus/send_text/clipboard.
package termbridge

import (
	"fmt"
	"time"
)

// State is a TerminalBinding's position in its lifecycle state machine.
type State int

const (
	Unknown State = iota
	Discovered
	Consented
	Active
	Revoked
	Terminated
)

func (s State) String() string {
	switch s {
	case Discovered:
		return "discovered"
	case Consented:
		return "consented"
	case Active:
		return "active"
	case Revoked:
		return "revoked"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// TerminalBinding uniquely identifies an external window/pane. The
// registry service owns the binding; adapters hold non-owning references
// (a binding ID, never a pointer into adapter-local state).
type TerminalBinding struct {
	BindingID        string
	TerminalKind     string
	IPCEndpoint      string
	WindowToken      string
	PaneToken        string
	CreatedAt        time.Time
	CurrentDirectory string
	ConsentGrantedAt *time.Time
	RequiresOptIn    bool

	state State
}

// State reports the binding's current lifecycle state.
func (b *TerminalBinding) State() State { return b.state }

// Register transitions Unknown → Discovered.
func (b *TerminalBinding) Register() error {
	return b.transition(Unknown, Discovered)
}

// Consent transitions Discovered → Consented and stamps the consent time.
func (b *TerminalBinding) Consent() error {
	if err := b.transition(Discovered, Consented); err != nil {
		return err
	}
	now := time.Now().UTC()
	b.ConsentGrantedAt = &now
	return nil
}

// OptOut transitions Consented → Revoked.
func (b *TerminalBinding) OptOut() error {
	return b.transition(Consented, Revoked)
}

// Bind transitions Consented → Active.
func (b *TerminalBinding) Bind() error {
	return b.transition(Consented, Active)
}

// CloseOrLost transitions Active → Terminated.
func (b *TerminalBinding) CloseOrLost() error {
	return b.transition(Active, Terminated)
}

func (b *TerminalBinding) transition(from, to State) error {
	if b.state != from {
		return fmt.Errorf("termbridge: binding %s cannot transition %s -> %s from state %s", b.BindingID, from, to, b.state)
	}
	b.state = to
	return nil
}

// AcceptsOperations reports whether the binding's state permits
// spawn/focus/send_text/duplicate/close/clipboard operations. Discovered
// bindings requiring opt-in are surfaced to UX but refuse operations.
func (b *TerminalBinding) AcceptsOperations() bool {
	return b.state == Active
}
