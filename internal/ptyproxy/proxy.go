// Package ptyproxy wraps a child process's PTY pair with transparent
// escape-sanitation: output read from the child passes through the Escape
// Filter before reaching the controlling session, while client writes are
// forwarded unmodified.
package ptyproxy

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/shelldone/agentd/internal/escfilter"
)

// DefaultGuardEvery bounds how often a dropped sequence emits a sigma.guard
// event, to avoid flooding the journal under a hostile or noisy child.
const DefaultGuardEvery = 1

// Proxy wraps a (master, child) PTY pair, filtering the read side through
// an escfilter.Parser and forwarding writes unmodified.
type Proxy struct {
	ptmx *os.File

	parser     *escfilter.Parser
	guardEvery int
	dropCount  atomic.Uint64

	mu      sync.Mutex
	onGuard func(kind escfilter.Kind, id int, reason string)
	spool   *Spool

	readBuf []byte          // reused scratch for the raw PTY read
	records []escfilter.Record // reused scratch for parser output
}

// New wraps ptmx (the master end of a creack/pty pair) with the given
// allowlist. A nil allowlist uses escfilter.DefaultAllowlist.
func New(ptmx *os.File, allow *escfilter.Allowlist) *Proxy {
	p := &Proxy{
		ptmx:       ptmx,
		parser:     escfilter.NewParser(allow),
		guardEvery: DefaultGuardEvery,
	}
	p.parser.OnDrop(p.handleDrop)
	return p
}

// SetGuardEvery overrides how many dropped/replaced sequences occur between
// emitted sigma.guard events (default 1: every occurrence).
func (p *Proxy) SetGuardEvery(n int) {
	if n < 1 {
		n = 1
	}
	p.guardEvery = n
}

// OnGuard registers the callback invoked when a dropped sequence crosses
// the guardEvery threshold, so callers can journal sigma.guard.
func (p *Proxy) OnGuard(fn func(kind escfilter.Kind, id int, reason string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onGuard = fn
}

// WithSpool attaches a bounded local spool used as a fallback sink for
// filtered output when the control-plane journal is unreachable.
func (p *Proxy) WithSpool(s *Spool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spool = s
}

func (p *Proxy) handleDrop(kind escfilter.Kind, id int, reason string) {
	n := p.dropCount.Add(1)
	if n%uint64(p.guardEvery) != 0 {
		return
	}
	p.mu.Lock()
	cb := p.onGuard
	p.mu.Unlock()
	if cb != nil {
		cb(kind, id, reason)
	}
}

// DropCount reports how many sequences have been dropped or replaced since
// the proxy was created.
func (p *Proxy) DropCount() uint64 {
	return p.dropCount.Load()
}

// Read filters one chunk of PTY output through the Escape Filter, writing
// only the bytes of Pass records into dst and returning their total length.
// Dropped/replaced sequences never reach dst. It satisfies io.Reader.
func (p *Proxy) Read(dst []byte) (int, error) {
	if cap(p.readBuf) < len(dst) {
		p.readBuf = make([]byte, len(dst))
	}
	buf := p.readBuf[:len(dst)]
	n, err := p.ptmx.Read(buf)
	if n == 0 {
		return 0, err
	}

	p.records = p.parser.Feed(buf[:n], p.records[:0])

	written := 0
	for _, rec := range p.records {
		if rec.Action != escfilter.Pass {
			continue
		}
		if written+len(rec.Payload) > len(dst) {
			// Caller's buffer is smaller than the filtered output; spill the
			// remainder to the spool rather than truncate silently.
			p.spillOverflow(rec.Payload[len(dst)-written:])
			rec.Payload = rec.Payload[:len(dst)-written]
		}
		copy(dst[written:], rec.Payload)
		written += len(rec.Payload)
	}
	return written, err
}

func (p *Proxy) spillOverflow(b []byte) {
	p.mu.Lock()
	s := p.spool
	p.mu.Unlock()
	if s != nil && len(b) > 0 {
		s.Push(append([]byte(nil), b...))
	}
}

// Write forwards client input to the child unmodified; input bytes carry
// no escape-sequence semantics the filter needs to police.
func (p *Proxy) Write(b []byte) (int, error) {
	return p.ptmx.Write(b)
}

// Close closes the underlying PTY master.
func (p *Proxy) Close() error {
	return p.ptmx.Close()
}

var _ io.ReadWriteCloser = (*Proxy)(nil)
