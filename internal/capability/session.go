package capability

import (
	"sync"

	"golang.org/x/time/rate"
)

// Session is a negotiated, persona-bound terminal session: a manifest, a
// monotonic event sequence counter, a parent-hash cursor into the event
// journal, and cached bearer claims so repeat ACK calls only re-check
// expiry rather than re-verifying the signature.
type Session struct {
	ID       string
	Manifest Manifest
	Persona  Persona
	Approval ApprovalPolicy

	mu           sync.Mutex
	sequence     uint64
	parentHash   [32]byte
	bearerClaims *SessionClaims
	hintLimiter  *rate.Limiter
}

// NewSession constructs a session bound to a negotiated manifest and
// persona, with its HintBudget limiter initialized from the profile. The
// persona's ApprovalPolicy is carried on the session so the ACK Kernel can
// derive a command's isolation level from it instead of trusting a
// caller-supplied level (spec §4.6).
func NewSession(id string, manifest Manifest, persona Persona, budget HintBudget, approval ApprovalPolicy) *Session {
	return &Session{
		ID:          id,
		Manifest:    manifest,
		Persona:     persona,
		Approval:    approval,
		hintLimiter: budget.Limiter(),
	}
}

// NextSequence returns the next monotonically increasing sequence number
// for this session, matching the invariant that sequence numbers are
// strictly increasing and never reused.
func (s *Session) NextSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequence++
	return s.sequence
}

// ParentHash returns the session's current parent-hash cursor.
func (s *Session) ParentHash() [32]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parentHash
}

// SetParentHash advances the cursor after an event is appended.
func (s *Session) SetParentHash(h [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parentHash = h
}

// SetBearerClaims caches verified claims so later calls skip re-verifying
// the signature and only need to check expiry.
func (s *Session) SetBearerClaims(c *SessionClaims) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bearerClaims = c
}

// BearerClaims returns the cached claims, or nil if none have been set.
func (s *Session) BearerClaims() *SessionClaims {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bearerClaims
}

// AllowHint consumes one token from the session's HintBudget limiter. A
// nil limiter (unlimited budget) always allows.
func (s *Session) AllowHint() bool {
	if s.hintLimiter == nil {
		return true
	}
	return s.hintLimiter.Allow()
}
