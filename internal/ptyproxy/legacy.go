package ptyproxy

import (
	"fmt"
	"strings"
	"sync"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/vt"
)

// legacyScrollbackLines bounds the ring buffer capturing history scrolled
// off the top of the legacy emulator's grid.
const legacyScrollbackLines = 50000

// Legacy maintains a server-side VT emulation of the filtered PTY stream,
// used as a kill-switch downgrade path: when a session can't negotiate a
// capability-aware client, Legacy still produces a reconnect snapshot
// (scrollback + grid + cursor) that any terminal emulator can render
// directly as plain ANSI.
type Legacy struct {
	emu        *vt.Emulator
	scrollback []string
	sbHead     int
	sbLen      int

	mu           sync.Mutex
	altScreen    bool
	cursorHidden bool
	cols, rows   int
	active       bool // kill-switch: only recorded while downgraded
}

// NewLegacy creates a Legacy emulator sized cols x rows. It starts inactive;
// call Activate to begin mirroring filtered output into it.
func NewLegacy(cols, rows int) *Legacy {
	l := &Legacy{
		emu:        vt.NewEmulator(cols, rows),
		scrollback: make([]string, legacyScrollbackLines),
		cols:       cols,
		rows:       rows,
	}
	l.emu.SetCallbacks(vt.Callbacks{
		ScrollOut: func(lines []uv.Line) {
			if l.altScreen {
				return
			}
			for _, line := range lines {
				rendered := line.Render()
				if l.sbLen == len(l.scrollback) {
					l.scrollback[l.sbHead] = ""
				}
				l.scrollback[l.sbHead] = rendered
				l.sbHead = (l.sbHead + 1) % len(l.scrollback)
				if l.sbLen < len(l.scrollback) {
					l.sbLen++
				}
			}
		},
		ScrollbackClear: func() {
			for i := range l.scrollback {
				l.scrollback[i] = ""
			}
			l.sbLen = 0
			l.sbHead = 0
		},
		AltScreen:        func(on bool) { l.altScreen = on },
		CursorVisibility: func(visible bool) { l.cursorHidden = !visible },
	})
	return l
}

// Activate flips the kill-switch on: subsequent Write calls feed the
// emulator. Idempotent.
func (l *Legacy) Activate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = true
}

// Deactivate flips the kill-switch off; Write becomes a no-op until the
// next Activate.
func (l *Legacy) Deactivate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = false
}

// Active reports whether the legacy downgrade path is currently engaged.
func (l *Legacy) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Write feeds already-filtered PTY output into the emulator, a no-op
// while the kill-switch is disengaged.
func (l *Legacy) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.active {
		return len(p), nil
	}
	return l.emu.Write(p)
}

// Resize changes the emulator's dimensions.
func (l *Legacy) Resize(cols, rows int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.emu.Resize(cols, rows)
	l.cols = cols
	l.rows = rows
}

// Snapshot renders a reconnect payload: scrollback, a full grid repaint,
// and cursor position/visibility restore, as plain ANSI bytes.
func (l *Legacy) Snapshot() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()

	var buf strings.Builder

	lines := l.scrollbackLines()
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteString("\r\n")
	}
	if len(lines) > 0 {
		for range l.rows - 1 {
			buf.WriteByte('\n')
		}
	}

	buf.WriteString("\x1b[m\x1b[H")
	buf.WriteString(l.emu.Render())

	pos := l.emu.CursorPosition()
	fmt.Fprintf(&buf, "\x1b[%d;%dH", pos.Y+1, pos.X+1)

	if l.cursorHidden {
		buf.WriteString("\x1b[?25l")
	} else {
		buf.WriteString("\x1b[?25h")
	}

	return []byte(buf.String())
}

// ScrollbackLen reports the number of scrollback lines currently stored.
func (l *Legacy) ScrollbackLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sbLen
}

// Close releases the emulator's resources.
func (l *Legacy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.emu.Close()
}

func (l *Legacy) scrollbackLines() []string {
	if l.sbLen == 0 {
		return nil
	}
	lines := make([]string, l.sbLen)
	start := (l.sbHead - l.sbLen + len(l.scrollback)) % len(l.scrollback)
	for i := range l.sbLen {
		lines[i] = l.scrollback[(start+i)%len(l.scrollback)]
	}
	return lines
}
