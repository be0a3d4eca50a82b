package ptyproxy

import (
	"io"
	"os"
	"testing"

	"github.com/shelldone/agentd/internal/escfilter"
)

// pipePTY returns a read/write pair that stands in for a creack/pty master
// end without actually spawning a child process.
func pipePTY(t *testing.T) (*os.File, *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() { r.Close(); w.Close() })
	return r, w
}

func TestEscapeSandboxDropsOSC1337AndForwardsPlainBytes(t *testing.T) {
	r, w := pipePTY(t)
	p := New(r, escfilter.DefaultAllowlist())

	var guards []struct {
		kind escfilter.Kind
		id   int
	}
	p.OnGuard(func(kind escfilter.Kind, id int, reason string) {
		guards = append(guards, struct {
			kind escfilter.Kind
			id   int
		}{kind, id})
	})

	payload := []byte("\x1b]1337;File=name=test.txt;size=4:AAAA\x07hello")
	go func() {
		w.Write(payload)
		w.Close()
	}()

	out, err := io.ReadAll(p)
	if err != nil && err != io.EOF {
		t.Fatalf("read: %v", err)
	}
	if string(out) != "hello" {
		t.Fatalf("forwarded bytes = %q, want %q", out, "hello")
	}
	if len(guards) != 1 || guards[0].kind != escfilter.OSC || guards[0].id != 1337 {
		t.Fatalf("expected one OSC 1337 guard event, got %+v", guards)
	}
	if p.DropCount() != 1 {
		t.Fatalf("drop count = %d, want 1", p.DropCount())
	}
}

func TestSafeBytesPassThroughIdentically(t *testing.T) {
	r, w := pipePTY(t)
	p := New(r, escfilter.DefaultAllowlist())

	payload := []byte("plain output with \x1b[1mSGR\x1b[0m formatting\n")
	go func() {
		w.Write(payload)
		w.Close()
	}()

	out, err := io.ReadAll(p)
	if err != nil && err != io.EOF {
		t.Fatalf("read: %v", err)
	}
	if string(out) != string(payload) {
		t.Fatalf("output = %q, want identical pass-through %q", out, payload)
	}
}

func TestGuardEveryThrottlesFloodOfDrops(t *testing.T) {
	r, w := pipePTY(t)
	p := New(r, escfilter.DefaultAllowlist())
	p.SetGuardEvery(3)

	var guardCount int
	p.OnGuard(func(kind escfilter.Kind, id int, reason string) { guardCount++ })

	// Six APC sequences: always dropped by the default allowlist.
	go func() {
		for i := 0; i < 6; i++ {
			w.Write([]byte("\x1b_apc-payload\x1b\\"))
		}
		w.Close()
	}()

	buf := make([]byte, 4096)
	total := 0
	for {
		n, err := p.Read(buf)
		total += n
		if err != nil {
			break
		}
	}
	if total != 0 {
		t.Fatalf("expected no bytes forwarded from pure-APC stream, got %d", total)
	}
	if guardCount != 2 {
		t.Fatalf("guard count = %d, want 2 (6 drops / every 3)", guardCount)
	}
}

func TestWriteForwardsClientInputUnmodified(t *testing.T) {
	r, w := pipePTY(t)
	p := New(r, escfilter.DefaultAllowlist())

	input := []byte("\x1b]1337;File=x\x07not filtered on write")
	n, err := p.Write(input)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != len(input) {
		t.Fatalf("wrote %d bytes, want %d", n, len(input))
	}

	got := make([]byte, len(input))
	if _, err := io.ReadFull(w, got); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != string(input) {
		t.Fatalf("client write was altered: got %q want %q", got, input)
	}
}

func TestSpoolEvictsOldestOnOverflowAndReportsSpill(t *testing.T) {
	s := NewSpool(10)
	var spilled []int
	s.OnSpill(func(droppedBytes int) { spilled = append(spilled, droppedBytes) })

	s.Push([]byte("12345"))
	s.Push([]byte("67890"))
	s.Push([]byte("abcde")) // forces eviction of the first chunk

	if len(spilled) != 1 || spilled[0] != 5 {
		t.Fatalf("expected one spill of 5 bytes, got %v", spilled)
	}
	if s.Len() != 10 {
		t.Fatalf("spool size = %d, want 10", s.Len())
	}

	chunks := s.Drain()
	if len(chunks) != 2 || string(chunks[0]) != "67890" || string(chunks[1]) != "abcde" {
		t.Fatalf("unexpected drained chunks: %v", chunks)
	}
	if s.Len() != 0 {
		t.Fatal("spool should be empty after Drain")
	}
}

func TestLegacyKillSwitchOnlyRecordsWhileActive(t *testing.T) {
	l := NewLegacy(80, 24)
	defer l.Close()

	l.Write([]byte("before activation\r\n"))
	if l.ScrollbackLen() != 0 {
		t.Fatalf("expected no scrollback before activation, got %d lines", l.ScrollbackLen())
	}

	l.Activate()
	for i := 0; i < 30; i++ {
		l.Write([]byte("line filling the scrollback\r\n"))
	}
	if l.ScrollbackLen() == 0 {
		t.Fatal("expected scrollback to accumulate once activated")
	}

	snap := l.Snapshot()
	if len(snap) == 0 {
		t.Fatal("expected a non-empty reconnect snapshot")
	}

	l.Deactivate()
	before := l.ScrollbackLen()
	l.Write([]byte("should not be recorded\r\n"))
	if l.ScrollbackLen() != before {
		t.Fatal("expected no further scrollback growth once deactivated")
	}
}
