package termbridge

import (
	"bytes"
	"context"
	"fmt"

	"github.com/shelldone/agentd/internal/sandbox"
)

// LocalAdapter controls a terminal emulator the agentd process can reach
// directly on the same host, shelling out through the isolation-aware
// sandbox rather than exec.Command directly.
type LocalAdapter struct {
	Terminal string
	probeFn  func(ctx context.Context) (TerminalCapability, bool)
	level    sandbox.Level
}

// NewLocalAdapter returns a LocalAdapter for the named terminal binary,
// running its commands at the given sandbox isolation level; probing is
// delegated to probe, and with a nil probe the terminal reports unsupported.
func NewLocalAdapter(terminal string, level sandbox.Level, probe func(ctx context.Context) (TerminalCapability, bool)) *LocalAdapter {
	return &LocalAdapter{Terminal: terminal, probeFn: probe, level: level}
}

func (a *LocalAdapter) Probe(ctx context.Context) (TerminalCapability, bool) {
	if a.probeFn == nil {
		return TerminalCapability{}, false
	}
	return a.probeFn(ctx)
}

func (a *LocalAdapter) run(ctx context.Context, args ...string) (string, error) {
	sbx, err := sandbox.New(sandbox.Config{Isolation: a.level})
	if err != nil {
		return "", &Error{Kind: KindIo, Msg: err.Error()}
	}
	defer sbx.Destroy()

	c, err := sbx.Exec(ctx, a.Terminal, args)
	if err != nil {
		return "", &Error{Kind: KindIo, Msg: err.Error()}
	}
	var out bytes.Buffer
	c.Stdout = &out
	if err := c.Run(); err != nil {
		return "", &Error{Kind: KindIo, Msg: err.Error()}
	}
	return out.String(), nil
}

func (a *LocalAdapter) Spawn(ctx context.Context, b *TerminalBinding, command string, cwd string, env map[string]string) error {
	_, err := a.run(ctx, "--cwd", cwd, "-e", command)
	return err
}

func (a *LocalAdapter) Focus(ctx context.Context, b *TerminalBinding) error {
	_, err := a.run(ctx, "--focus-window", b.WindowToken)
	return err
}

func (a *LocalAdapter) SendText(ctx context.Context, b *TerminalBinding, payload string) error {
	_, err := a.run(ctx, "--pane", b.PaneToken, "--send-text", payload)
	return err
}

func (a *LocalAdapter) UpdateCwd(ctx context.Context, b *TerminalBinding, cwd string) error {
	b.CurrentDirectory = cwd
	return nil
}

func (a *LocalAdapter) Close(ctx context.Context, b *TerminalBinding) error {
	_, err := a.run(ctx, "--close-pane", b.PaneToken)
	return err
}

func (a *LocalAdapter) ClipboardRead(ctx context.Context, b *TerminalBinding, channel string) (string, error) {
	return "", notSupported(fmt.Sprintf("%s local adapter has no clipboard integration for channel %s", a.Terminal, channel))
}

func (a *LocalAdapter) ClipboardWrite(ctx context.Context, b *TerminalBinding, channel, payload string) error {
	return notSupported(fmt.Sprintf("%s local adapter has no clipboard integration for channel %s", a.Terminal, channel))
}
