package ack

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/creack/pty"

	"github.com/shelldone/agentd/internal/escfilter"
	"github.com/shelldone/agentd/internal/ptyproxy"
	"github.com/shelldone/agentd/internal/sandbox"
)

// Executor spawns ACK exec commands inside a sandboxed child process.
// The isolation level is chosen per call so a persona's ApprovalPolicy
// or a policy rule's min_isolation can tighten it. Output is routed
// through a PTY Proxy so escape sequences the child emits are sanitized
// before the caller ever sees them, per spec §4.6/§4.8.
type Executor struct {
	deny []string
}

// NewExecutor returns an Executor that masks the given paths from every
// sandboxed command regardless of isolation level.
func NewExecutor(deny []string) *Executor {
	return &Executor{deny: deny}
}

// GuardFunc is invoked whenever the PTY Proxy drops a sequence for the
// running command, so the caller can append a sigma.guard journal event.
type GuardFunc func(kind escfilter.Kind, id int, reason string)

// Run executes cmd behind a PTY wrapped in the Escape Filter, honoring the
// given allowlist (normally derived from the session's negotiated
// capability manifest), and returns the filtered output and exit code.
// The PTY merges the child's stderr into its output, so the stderr result
// is always empty. err is non-nil only when the sandbox or PTY cannot be
// set up; a command that exits non-zero reports that through exitCode.
func (e *Executor) Run(ctx context.Context, level sandbox.Level, cmd string, env map[string]string, allow *escfilter.Allowlist, onGuard GuardFunc) (stdout, stderr string, exitCode int, err error) {
	sbx, err := sandbox.New(sandbox.Config{Isolation: level, Deny: e.deny, Timeout: 30 * time.Second})
	if err != nil {
		return "", "", -1, fmt.Errorf("ack: sandbox setup: %w", err)
	}
	defer sbx.Destroy()

	c, err := sbx.Exec(ctx, "/bin/sh", []string{"-c", cmd})
	if err != nil {
		return "", "", -1, fmt.Errorf("ack: sandbox exec: %w", err)
	}
	for k, v := range env {
		c.Env = append(c.Env, k+"="+v)
	}

	ptmx, err := pty.Start(c)
	if err != nil {
		return "", "", -1, fmt.Errorf("ack: pty start: %w", err)
	}
	if c.Process != nil {
		_ = sbx.PostStart(c.Process.Pid)
	}

	proxy := ptyproxy.New(ptmx, allow)
	if onGuard != nil {
		proxy.OnGuard(func(kind escfilter.Kind, id int, reason string) { onGuard(kind, id, reason) })
	}

	var outBuf bytes.Buffer
	_, copyErr := io.Copy(&outBuf, proxy)
	_ = copyErr // the master read returns EIO once the child's slave side closes; expected, not a failure

	runErr := c.Wait()
	proxy.Close()

	exitCode = 0
	if runErr != nil {
		if ee, ok := runErr.(interface{ ExitCode() int }); ok {
			exitCode = ee.ExitCode()
		} else {
			exitCode = -1
		}
	}
	return outBuf.String(), "", exitCode, nil
}
