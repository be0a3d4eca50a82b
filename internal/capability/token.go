package capability

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// SessionClaims are the JWT claims bound to a negotiated session. Binding
// session_id into the claims means a stolen token cannot be replayed
// against a different session.
type SessionClaims struct {
	jwt.RegisteredClaims
	SessionID string  `json:"sid"`
	Persona   Persona `json:"persona"`
}

// TokenIssuer signs and verifies ES256 bearer tokens for sessions.
type TokenIssuer struct {
	key *ecdsa.PrivateKey
	ttl time.Duration
}

// NewTokenIssuer wraps a P-256 signing key with the configured bearer
// token lifetime.
func NewTokenIssuer(key *ecdsa.PrivateKey, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{key: key, ttl: ttl}
}

// GenerateSigningKey creates a fresh P-256 key for a new daemon instance.
func GenerateSigningKey() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("capability: generate signing key: %w", err)
	}
	return key, nil
}

// MarshalSigningKeyPEM returns the unencrypted PEM encoding of a private
// key, for persisting to the state directory.
func MarshalSigningKeyPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("capability: marshal signing key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

// ParseSigningKeyPEM parses a PEM-encoded P-256 private key.
func ParseSigningKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("capability: no PEM block found")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("capability: parse signing key: %w", err)
	}
	return key, nil
}

// Issue signs a bearer token for the given session and persona.
func (ti *TokenIssuer) Issue(sessionID string, persona Persona) (string, time.Time, error) {
	exp := time.Now().Add(ti.ttl)
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		SessionID: sessionID,
		Persona:   persona,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	signed, err := token.SignedString(ti.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("capability: sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks a bearer token's signature and expiry, and confirms it
// was issued for the expected session.
func (ti *TokenIssuer) Verify(tokenString, expectedSessionID string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return &ti.key.PublicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("capability: parse token: %w", err)
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("capability: invalid token claims")
	}
	if claims.SessionID != expectedSessionID {
		return nil, fmt.Errorf("capability: token bound to a different session")
	}
	return claims, nil
}

// DeriveSessionKey derives a per-session symmetric key from the daemon's
// master secret via HKDF-SHA256, scoped by session ID so two sessions
// never share key material.
func DeriveSessionKey(masterSecret []byte, sessionID string) ([]byte, error) {
	salt := make([]byte, 32)
	kdf := hkdf.New(sha256.New, masterSecret, salt, []byte("agentd-session:"+sessionID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("capability: derive session key: %w", err)
	}
	return key, nil
}

// EncodeKeyB64 returns the standard base64 encoding of key. The output
// is the key material itself, not a fingerprint of it.
func EncodeKeyB64(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}
