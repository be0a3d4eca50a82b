package config

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"gopkg.in/yaml.v3"

	"github.com/shelldone/agentd/internal/capability"
)

// AgentdConfig holds the daemon's domain settings persisted in
// <state dir>/agentd.yaml: policy source, snapshot cadence, the
// persona profile table, and the set of filesystem roots a command's
// working directory can fall under without triggering a policy
// confirmation prompt.
type AgentdConfig struct {
	PolicyPath                  string                  `yaml:"policy_path,omitempty"`
	StateDir                    string                  `yaml:"state_dir,omitempty"`
	SnapshotEventInterval       int                     `yaml:"snapshot_event_interval,omitempty"`
	SnapshotTimeIntervalSeconds int                     `yaml:"snapshot_time_interval_seconds,omitempty"`
	TrustedRoots                TrustedRootList         `yaml:"trusted_roots,omitempty"`
	Personas                    capability.ProfileSet   `yaml:"personas,omitempty"`

	// BearerSecretSealed is the base64-free raw bytes of
	// salt||nonce||ciphertext wrapping the daemon's HKDF master secret,
	// written by SealBearerSecret and read back by UnsealBearerSecret.
	// It round-trips through YAML as a base64 string via yaml.v3's
	// native []byte support.
	BearerSecretSealed []byte `yaml:"bearer_secret_sealed,omitempty"`
}

// TrustedRoot is a filesystem root with an optional persona allowlist.
// When Personas is empty, every persona is trusted under that root
// (legacy/open behavior); otherwise only the listed personas are.
type TrustedRoot struct {
	Path     string   `yaml:"path" json:"path"`
	Personas []string `yaml:"personas,omitempty" json:"personas,omitempty"`
}

// TrustedRootList supports the same mixed scalar/mapping YAML shape as
// a plain path list: a bare string for an open root, or a mapping for
// one scoped to specific personas.
type TrustedRootList []TrustedRoot

// UnmarshalYAML handles both scalar strings and mapping nodes in a
// YAML sequence.
func (tl *TrustedRootList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return &yaml.TypeError{Errors: []string{"expected sequence"}}
	}
	var result TrustedRootList
	for _, item := range value.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			result = append(result, TrustedRoot{Path: item.Value})
		case yaml.MappingNode:
			var entry TrustedRoot
			if err := item.Decode(&entry); err != nil {
				return err
			}
			result = append(result, entry)
		}
	}
	*tl = result
	return nil
}

// MarshalYAML serializes TrustedRootList: entries with no persona
// scoping become plain strings.
func (tl TrustedRootList) MarshalYAML() (any, error) {
	var nodes []*yaml.Node
	for _, e := range tl {
		if len(e.Personas) == 0 {
			nodes = append(nodes, &yaml.Node{Kind: yaml.ScalarNode, Value: e.Path})
		} else {
			var n yaml.Node
			if err := n.Encode(e); err != nil {
				return nil, err
			}
			nodes = append(nodes, &n)
		}
	}
	return &yaml.Node{Kind: yaml.SequenceNode, Content: nodes}, nil
}

// Strings returns just the path strings.
func (tl TrustedRootList) Strings() []string {
	out := make([]string, len(tl))
	for i, e := range tl {
		out[i] = e.Path
	}
	return out
}

// TrustsPersona reports whether dir falls under a trusted root that
// admits persona (case-sensitive match against capability.Persona's
// lowercase values).
func (tl TrustedRootList) TrustsPersona(dir string, persona capability.Persona) bool {
	for _, e := range tl {
		if !strings.HasPrefix(dir, e.Path) {
			continue
		}
		if len(e.Personas) == 0 {
			return true
		}
		for _, p := range e.Personas {
			if p == string(persona) {
				return true
			}
		}
	}
	return false
}

// LoadAgentdConfig reads agentd.yaml from dir. If the file doesn't
// exist, it returns defaults seeded with the built-in persona profile
// set (no error), the way a fresh state directory boots clean. In both
// cases a non-empty AGENTD_POLICY_PATH overrides policy_path.
func LoadAgentdConfig(dir string) (*AgentdConfig, error) {
	cfg := &AgentdConfig{
		SnapshotEventInterval:       100,
		SnapshotTimeIntervalSeconds: 60,
		Personas:                    capability.DefaultProfileSet(),
	}
	path := filepath.Join(dir, "agentd.yaml")

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if len(cfg.Personas) == 0 {
			cfg.Personas = capability.DefaultProfileSet()
		}
	}
	if v := os.Getenv("AGENTD_POLICY_PATH"); v != "" {
		cfg.PolicyPath = v
	}
	return cfg, nil
}

// SaveAgentdConfig writes agentd.yaml to dir.
func SaveAgentdConfig(dir string, cfg *AgentdConfig) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "agentd.yaml"), data, 0644)
}

// --- secret-at-rest sealing --------------------------------------------

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// SealBearerSecret encrypts secret (the daemon's HKDF master secret or
// its ES256 signing key PEM) under a key derived from passphrase via
// Argon2id, returning salt||nonce||ciphertext for storage in
// AgentdConfig.BearerSecretSealed.
func SealBearerSecret(passphrase string, secret []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("config: generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("config: create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("config: generate nonce: %w", err)
	}

	sealed := append(salt, nonce...)
	sealed = aead.Seal(sealed, nonce, secret, nil)
	return sealed, nil
}

// UnsealBearerSecret reverses SealBearerSecret.
func UnsealBearerSecret(passphrase string, sealed []byte) ([]byte, error) {
	if len(sealed) < saltLen {
		return nil, fmt.Errorf("config: sealed secret too short")
	}
	salt, rest := sealed[:saltLen], sealed[saltLen:]
	key := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("config: create cipher: %w", err)
	}
	nonceSize := aead.NonceSize()
	if len(rest) < nonceSize {
		return nil, fmt.Errorf("config: sealed secret too short")
	}
	nonce, ciphertext := rest[:nonceSize], rest[nonceSize:]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("config: unseal secret: %w", err)
	}
	return plaintext, nil
}
