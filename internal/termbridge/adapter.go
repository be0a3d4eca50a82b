package termbridge

import (
	"context"
	"errors"
	"time"
)

// Kind is the error taxonomy for adapter operations.
type Kind string

const (
	KindNotSupported Kind = "NotSupported"
	KindUnauthorized Kind = "Unauthorized"
	KindTimeout      Kind = "Timeout"
	KindIo           Kind = "Io"
	KindPolicyDenied         Kind = "PolicyDenied"
	KindBusy                 Kind = "Busy"
	KindConfirmationRequired Kind = "ConfirmationRequired"
)

// Error is the structured error an Adapter Port call returns on failure.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Msg }

func notSupported(msg string) *Error { return &Error{Kind: KindNotSupported, Msg: msg} }
func unauthorized(msg string) *Error { return &Error{Kind: KindUnauthorized, Msg: msg} }

// DefaultDiscoverTimeout bounds a single adapter probe during discover().
const DefaultDiscoverTimeout = 3 * time.Second

// Adapter is the Adapter Port abstraction: a uniform interface over a
// concrete terminal emulator integration, whether local (shelled out on
// the same host) or remote (an SDK bridge over WebRTC/WebSocket).
type Adapter interface {
	// Probe reports this adapter's terminal capability, or ok=false if
	// the adapter's backing terminal is unreachable within ctx.
	Probe(ctx context.Context) (TerminalCapability, bool)

	Spawn(ctx context.Context, b *TerminalBinding, command string, cwd string, env map[string]string) error
	Focus(ctx context.Context, b *TerminalBinding) error
	SendText(ctx context.Context, b *TerminalBinding, payload string) error
	UpdateCwd(ctx context.Context, b *TerminalBinding, cwd string) error
	Close(ctx context.Context, b *TerminalBinding) error
	ClipboardRead(ctx context.Context, b *TerminalBinding, channel string) (string, error)
	ClipboardWrite(ctx context.Context, b *TerminalBinding, channel, payload string) error
}

// ErrNotImplemented is returned by adapter methods a given transport does
// not back (e.g. clipboard on a terminal with no clipboard integration).
var ErrNotImplemented = errors.New("termbridge: operation not supported by this adapter")
