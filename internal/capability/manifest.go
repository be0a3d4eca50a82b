// Package capability turns an incoming client manifest into a
// session-scoped CapabilityManifest, detecting mandatory downgrades and
// binding the result to a Persona-scoped Session.
package capability

// Manifest is the closed set of feature tags a terminal session
// negotiates. It is immutable after creation: Negotiate always returns a
// new value rather than mutating an existing one.
type Manifest struct {
	Keyboard          string `json:"keyboard"` // legacy | kitty
	Graphics          string `json:"graphics"` // minimal | kitty | sixel
	OSC52Read         string `json:"osc52_read"`
	OSC52Write        string `json:"osc52_write"`
	UnicodeVersion    string `json:"unicode_version"`
	SecurityLevel     string `json:"security_level"` // sandbox | trusted | hardened
	MaxClipboardBytes int    `json:"max_clipboard_bytes"`
	BracketedPaste    bool   `json:"bracketed_paste"`
}

// keyboardPreference and graphicsPreference list set-tag values from most
// to least capable; Intersect picks the most capable member present in
// both manifests.
var (
	keyboardPreference = []string{"kitty", "legacy"}
	graphicsPreference = []string{"sixel", "kitty", "minimal"}
)

// strictness orders enum tags from least to most restrictive; Intersect
// picks whichever of the two inputs appears later (stricter).
var (
	osc52ReadStrictness  = []string{"allow", "confirm", "deny"}
	osc52WriteStrictness = []string{"allow", "whitelist", "deny"}
	securityStrictness   = []string{"sandbox", "trusted", "hardened"}
)

// Equal reports whether every tag matches, per the spec's manifest
// equality invariant.
func (m Manifest) Equal(other Manifest) bool {
	return m == other
}

// DefaultServerManifest is the most capable manifest agentd offers before
// any client-driven downgrade.
func DefaultServerManifest() Manifest {
	return Manifest{
		Keyboard:          "kitty",
		Graphics:          "kitty",
		OSC52Read:         "confirm",
		OSC52Write:        "whitelist",
		UnicodeVersion:    "15.0",
		SecurityLevel:     "hardened",
		MaxClipboardBytes: 1 << 20,
		BracketedPaste:    true,
	}
}

// Offer is the wire-level capability shape a client sends during handshake
// (spec §6): set tags (keyboard, graphics) arrive as preference-ordered
// arrays and osc52 arrives nested under read/write, unlike the single-
// valued Manifest Intersect operates on internally.
type Offer struct {
	Keyboard          []string `json:"keyboard"`
	Graphics          []string `json:"graphics"`
	OSC52             OfferOSC52 `json:"osc52"`
	SecurityLevel     string   `json:"security_level"`
	UnicodeVersion    string   `json:"unicode_version"`
	MaxClipboardBytes int      `json:"max_clipboard_bytes"`
	BracketedPaste    bool     `json:"bracketed_paste"`
}

// OfferOSC52 is the nested osc52.{read,write} pair from the §6 wire shape.
type OfferOSC52 struct {
	Read  string `json:"read"`
	Write string `json:"write"`
}

// ManifestFromOffer collapses a client's wire-level Offer into the
// single-valued Manifest shape Intersect expects: for each set tag, the
// most capable value present in the client's offered array (per that
// tag's own preference order) is kept, and enum/scalar tags pass through
// unchanged.
func ManifestFromOffer(o Offer) Manifest {
	return Manifest{
		Keyboard:          firstPreferred(keyboardPreference, o.Keyboard),
		Graphics:          firstPreferred(graphicsPreference, o.Graphics),
		OSC52Read:         o.OSC52.Read,
		OSC52Write:        o.OSC52.Write,
		UnicodeVersion:    o.UnicodeVersion,
		SecurityLevel:     o.SecurityLevel,
		MaxClipboardBytes: o.MaxClipboardBytes,
		BracketedPaste:    o.BracketedPaste,
	}
}

// OfferFromManifest wraps a single-valued Manifest back into wire-level
// Offer shape (single-element arrays for set tags), for callers — such as
// agentctl — that only ever want to offer one concrete value per tag.
func OfferFromManifest(m Manifest) Offer {
	return Offer{
		Keyboard:          []string{m.Keyboard},
		Graphics:          []string{m.Graphics},
		OSC52:             OfferOSC52{Read: m.OSC52Read, Write: m.OSC52Write},
		SecurityLevel:     m.SecurityLevel,
		UnicodeVersion:    m.UnicodeVersion,
		MaxClipboardBytes: m.MaxClipboardBytes,
		BracketedPaste:    m.BracketedPaste,
	}
}

// firstPreferred returns the first entry of pref that appears anywhere in
// offered, or offered's own first element if none of offered's values are
// in pref, or "" if offered is empty.
func firstPreferred(pref, offered []string) string {
	for _, p := range pref {
		for _, v := range offered {
			if v == p {
				return p
			}
		}
	}
	if len(offered) > 0 {
		return offered[0]
	}
	return ""
}

func indexOf(set []string, v string) int {
	for i, s := range set {
		if s == v {
			return i
		}
	}
	return -1
}

func pickPreferred(pref []string, a, b string) string {
	for _, v := range pref {
		if v == a && v == b {
			return v
		}
	}
	// Neither side names the same preferred value in common: fall back to
	// the least capable member that either side recognizes.
	for i := len(pref) - 1; i >= 0; i-- {
		if pref[i] == a || pref[i] == b {
			return pref[i]
		}
	}
	return a
}

func pickStricter(order []string, a, b string) string {
	ia, ib := indexOf(order, a), indexOf(order, b)
	if ia < 0 {
		return b
	}
	if ib < 0 {
		return a
	}
	if ia > ib {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Intersect combines the server's supported manifest with a client-offered
// manifest per the spec's §4.5 per-tag semantics, returning the negotiated
// manifest and the list of tags where the client offered something the
// server could not fully satisfy (a "downgrade").
func Intersect(server, client Manifest) (Manifest, []string) {
	var downgrades []string
	note := func(tag, serverV, clientV string) {
		if serverV != clientV {
			downgrades = append(downgrades, tag)
		}
	}

	out := Manifest{
		Keyboard:          pickPreferred(keyboardPreference, server.Keyboard, client.Keyboard),
		Graphics:          pickPreferred(graphicsPreference, server.Graphics, client.Graphics),
		OSC52Read:         pickStricter(osc52ReadStrictness, server.OSC52Read, client.OSC52Read),
		OSC52Write:        pickStricter(osc52WriteStrictness, server.OSC52Write, client.OSC52Write),
		SecurityLevel:     pickStricter(securityStrictness, server.SecurityLevel, client.SecurityLevel),
		MaxClipboardBytes: minInt(server.MaxClipboardBytes, client.MaxClipboardBytes),
		BracketedPaste:    server.BracketedPaste && client.BracketedPaste,
		UnicodeVersion:    client.UnicodeVersion,
	}
	if client.UnicodeVersion == "" {
		out.UnicodeVersion = server.UnicodeVersion
	}

	note("keyboard", out.Keyboard, client.Keyboard)
	note("graphics", out.Graphics, client.Graphics)
	note("osc52_read", out.OSC52Read, client.OSC52Read)
	note("osc52_write", out.OSC52Write, client.OSC52Write)
	note("security_level", out.SecurityLevel, client.SecurityLevel)
	if out.MaxClipboardBytes < client.MaxClipboardBytes {
		downgrades = append(downgrades, "max_clipboard_bytes")
	}
	if out.BracketedPaste != client.BracketedPaste {
		downgrades = append(downgrades, "bracketed_paste")
	}

	return out, downgrades
}
