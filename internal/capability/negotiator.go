package capability

import (
	"fmt"

	"github.com/google/uuid"
)

// Negotiator binds an incoming client manifest to a new session, picking
// the effective manifest per Intersect's per-tag semantics and recording
// any downgrade the client suffered.
type Negotiator struct {
	server   Manifest
	profiles ProfileSet
	onEvent  func(kind string, payload map[string]any)
}

// NewNegotiator returns a Negotiator offering server as its supported
// manifest and validating personas against profiles.
func NewNegotiator(server Manifest, profiles ProfileSet) *Negotiator {
	if profiles == nil {
		profiles = DefaultProfileSet()
	}
	return &Negotiator{server: server, profiles: profiles}
}

// OnEvent registers a callback invoked once per negotiation with a
// "sigma.downgrade" event per tag the server could not fully honor, and
// exactly one "capability.negotiated" event summarizing the outcome. The
// caller is expected to append these to the event journal.
func (n *Negotiator) OnEvent(fn func(kind string, payload map[string]any)) {
	n.onEvent = fn
}

// Negotiate validates the requested persona against the per-persona
// allowlist, intersects the client manifest with the server's supported
// manifest, and returns a new Session bound to the result. Determinism:
// identical (clientManifest, persona) inputs against an unchanged profile
// set always produce a bit-identical negotiated manifest.
func (n *Negotiator) Negotiate(clientManifest Manifest, persona Persona) (*Session, error) {
	profile, ok := n.profiles[persona]
	if !ok {
		return nil, fmt.Errorf("capability: persona %q is not in the allowlist", persona)
	}

	manifest, downgrades := Intersect(n.server, clientManifest)
	for _, tag := range downgrades {
		n.emit("sigma.downgrade", map[string]any{"tag": tag})
	}

	sess := NewSession(uuid.NewString(), manifest, persona, profile.Budget, profile.Approval)
	n.emit("capability.negotiated", map[string]any{
		"session_id": sess.ID,
		"persona":    string(persona),
		"downgrades": downgrades,
	})
	return sess, nil
}

func (n *Negotiator) emit(kind string, payload map[string]any) {
	if n.onEvent != nil {
		n.onEvent(kind, payload)
	}
}
