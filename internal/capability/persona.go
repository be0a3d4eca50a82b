package capability

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// Persona names the three-valued session role enum.
type Persona string

const (
	PersonaNova Persona = "nova"
	PersonaCore Persona = "core"
	PersonaFlux Persona = "flux"
)

func (p Persona) valid() bool {
	switch p {
	case PersonaNova, PersonaCore, PersonaFlux:
		return true
	}
	return false
}

// HintBudget is the token-bucket rate limit applied to a persona's hint
// traffic, expressed as a refill rate and burst/cooldown window.
type HintBudget struct {
	TokensPerMinute int           `yaml:"tokens_per_minute"`
	Cooldown        time.Duration `yaml:"cooldown"`
}

// Limiter builds the x/time/rate limiter this budget describes. A
// TokensPerMinute of 0 means unlimited (nil limiter).
func (b HintBudget) Limiter() *rate.Limiter {
	if b.TokensPerMinute <= 0 {
		return nil
	}
	perSecond := rate.Limit(float64(b.TokensPerMinute) / 60.0)
	burst := b.TokensPerMinute
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(perSecond, burst)
}

// ApprovalPolicy governs whether a persona's commands execute immediately
// or require an explicit ACK guard approval first.
type ApprovalPolicy struct {
	AutoConfirm bool `yaml:"auto_confirm"`
	RequireAck  bool `yaml:"require_ack"`
}

// Profile is one persona's full configuration, as loaded from the
// persona profile section of agentd.yaml.
type Profile struct {
	Persona    Persona        `yaml:"persona"`
	Budget     HintBudget     `yaml:"hint_budget"`
	Approval   ApprovalPolicy `yaml:"approval"`
}

// ProfileSet is the loaded persona → Profile table. It supports the same
// mixed scalar/mapping YAML idiom as a path list: a bare persona name
// maps to sensible defaults, or a full mapping overrides budget/approval.
type ProfileSet map[Persona]Profile

// UnmarshalYAML accepts a YAML sequence of either persona name scalars or
// full profile mappings.
func (ps *ProfileSet) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return &yaml.TypeError{Errors: []string{"expected sequence of persona profiles"}}
	}
	result := ProfileSet{}
	for _, item := range value.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			p := Persona(item.Value)
			if !p.valid() {
				return fmt.Errorf("capability: unknown persona %q", item.Value)
			}
			result[p] = DefaultProfile(p)
		case yaml.MappingNode:
			var profile Profile
			if err := item.Decode(&profile); err != nil {
				return err
			}
			if !profile.Persona.valid() {
				return fmt.Errorf("capability: unknown persona %q", profile.Persona)
			}
			result[profile.Persona] = profile
		}
	}
	*ps = result
	return nil
}

// MarshalYAML serializes ProfileSet back to the sequence shape
// UnmarshalYAML expects, so a loaded-then-saved agentd.yaml round-trips.
func (ps ProfileSet) MarshalYAML() (any, error) {
	var nodes []*yaml.Node
	for _, p := range []Persona{PersonaNova, PersonaCore, PersonaFlux} {
		profile, ok := ps[p]
		if !ok {
			continue
		}
		var n yaml.Node
		if err := n.Encode(profile); err != nil {
			return nil, err
		}
		nodes = append(nodes, &n)
	}
	return &yaml.Node{Kind: yaml.SequenceNode, Content: nodes}, nil
}

// DefaultProfile returns the built-in fallback profile for a persona,
// used when agentd.yaml omits an explicit entry.
func DefaultProfile(p Persona) Profile {
	switch p {
	case PersonaCore:
		return Profile{Persona: p, Budget: HintBudget{TokensPerMinute: 120, Cooldown: 2 * time.Second}, Approval: ApprovalPolicy{AutoConfirm: true}}
	case PersonaFlux:
		return Profile{Persona: p, Budget: HintBudget{TokensPerMinute: 30, Cooldown: 10 * time.Second}, Approval: ApprovalPolicy{RequireAck: true}}
	default: // nova: conservative default
		return Profile{Persona: PersonaNova, Budget: HintBudget{TokensPerMinute: 60, Cooldown: 5 * time.Second}, Approval: ApprovalPolicy{RequireAck: true}}
	}
}

// DefaultProfileSet returns built-in profiles for all three personas.
func DefaultProfileSet() ProfileSet {
	return ProfileSet{
		PersonaNova: DefaultProfile(PersonaNova),
		PersonaCore: DefaultProfile(PersonaCore),
		PersonaFlux: DefaultProfile(PersonaFlux),
	}
}
