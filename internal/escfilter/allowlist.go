package escfilter

// OSC52Policy controls whether OSC 52 clipboard sequences are allowed through,
// mirroring the capability manifest's osc52_read/osc52_write tags.
type OSC52Policy int

const (
	OSC52Deny OSC52Policy = iota
	OSC52Confirm
	OSC52Whitelist
	OSC52Allow
)

// Allowlist is the data-driven table of permitted escape sequences. The
// zero value matches nothing; use DefaultAllowlist for the spec's hardened
// default.
type Allowlist struct {
	// CSIFinals is the set of permitted CSI final bytes (the byte that ends
	// the CSI sequence, e.g. 'm' for SGR, 'H' for cursor position).
	CSIFinals map[byte]bool
	// OSCIdentifiers is the set of permitted OSC numeric identifiers.
	OSCIdentifiers map[int]bool
	// DCSPreambles is the set of permitted DCS preamble prefixes (tmux/screen
	// passthrough wrappers), matched against the start of the DCS payload.
	DCSPreambles [][]byte
	// OSC52Read/OSC52Write gate OSC 52 specifically, on top of OSCIdentifiers.
	OSC52Read  OSC52Policy
	OSC52Write OSC52Policy
	// MaxSequenceBytes bounds a single buffered OSC/DCS/APC/PM/SOS payload
	// before it is dropped as an overflow (default 64 KiB per spec).
	MaxSequenceBytes int
}

// DefaultAllowlist returns the spec's "hardened" default table:
// CSI final bytes in the standard range, OSC 0/2/4/8/52/133/1337, DCS only
// for recognized tmux/screen preambles, APC/PM/SOS always dropped.
func DefaultAllowlist() *Allowlist {
	a := &Allowlist{
		CSIFinals:        make(map[byte]bool),
		OSCIdentifiers:   map[int]bool{0: true, 2: true, 4: true, 8: true, 52: true, 133: true, 1337: true},
		OSC52Read:        OSC52Confirm,
		OSC52Write:       OSC52Whitelist,
		MaxSequenceBytes: 64 * 1024,
	}
	// Standard CSI final byte range: 0x40-0x7E ('@' through '~').
	for b := byte(0x40); b <= 0x7E; b++ {
		a.CSIFinals[b] = true
	}
	a.DCSPreambles = [][]byte{
		[]byte("tmux;"), // tmux passthrough wrapper
		[]byte("1000p"), // screen DA2-style preamble
	}
	return a
}

// FromManifestTags builds an Allowlist starting from DefaultAllowlist but
// honoring a session's negotiated osc52_read/osc52_write capability tags,
// so the PTY Proxy enforces the manifest actually agreed during handshake
// rather than always the hardened default.
func FromManifestTags(osc52Read, osc52Write string) *Allowlist {
	a := DefaultAllowlist()
	a.OSC52Read = parseOSC52Policy(osc52Read, a.OSC52Read)
	a.OSC52Write = parseOSC52Policy(osc52Write, a.OSC52Write)
	return a
}

func parseOSC52Policy(tag string, fallback OSC52Policy) OSC52Policy {
	switch tag {
	case "deny":
		return OSC52Deny
	case "confirm":
		return OSC52Confirm
	case "whitelist":
		return OSC52Whitelist
	case "allow":
		return OSC52Allow
	default:
		return fallback
	}
}

// AllowsCSI reports whether the final byte of a CSI sequence is permitted.
func (a *Allowlist) AllowsCSI(final byte) bool {
	return a.CSIFinals[final]
}

// AllowsOSC reports whether an OSC identifier is permitted, honoring the
// OSC 52 read/write capability gates and always dropping OSC 1337
// file-upload subcommands.
func (a *Allowlist) AllowsOSC(id int, body []byte) bool {
	if !a.OSCIdentifiers[id] {
		return false
	}
	switch id {
	case 52:
		return a.allowsOSC52(body)
	case 1337:
		return !isFileUploadSubcommand(body)
	default:
		return true
	}
}

func (a *Allowlist) allowsOSC52(body []byte) bool {
	// body is what follows "52;": "c;<base64>" (clipboard write) or a
	// query form ending in '?'.
	isQuery := len(body) > 0 && body[len(body)-1] == '?'
	if isQuery {
		return a.OSC52Read != OSC52Deny
	}
	return a.OSC52Write != OSC52Deny
}

func isFileUploadSubcommand(body []byte) bool {
	const prefix = "File="
	for i := 0; i+len(prefix) <= len(body); i++ {
		if string(body[i:i+len(prefix)]) == prefix {
			return true
		}
	}
	return false
}

// AllowsDCS reports whether a DCS payload matches a recognized preamble.
func (a *Allowlist) AllowsDCS(payload []byte) bool {
	for _, pre := range a.DCSPreambles {
		if len(payload) >= len(pre) && string(payload[:len(pre)]) == string(pre) {
			return true
		}
	}
	return false
}
