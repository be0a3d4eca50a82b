package journal

import (
	"crypto/sha256"
	"encoding/json"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ZeroHash is the parent hash of the first event ever appended.
var ZeroHash = [32]byte{}

// EventBody is the caller-supplied payload for a new event; the journal
// assigns Sequence and ParentHash on append.
type EventBody struct {
	Kind        string `cbor:"kind" json:"kind"`
	Persona     string `cbor:"persona" json:"persona"`
	SessionID   string `cbor:"session_id" json:"session_id"`
	SpectralTag string `cbor:"spectral_tag,omitempty" json:"spectral_tag,omitempty"`
	Payload     any    `cbor:"payload" json:"payload"`
}

// EventRecord is an immutable, appended journal entry.
type EventRecord struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Kind        string    `json:"kind"`
	Persona     string    `json:"persona"`
	SessionID   string    `json:"session_id"`
	Sequence    uint64    `json:"sequence"`
	ParentHash  string    `json:"parent_hash"` // hex-encoded SHA-256
	Payload     any       `json:"payload"`
	SpectralTag string    `json:"spectral_tag,omitempty"`
}

// canonicalSerialize produces a deterministic byte encoding of an event body
// for hashing. CBOR's canonical (RFC 8949 "Core Deterministic Encoding")
// mode sorts map keys and fixes integer/float widths, so the same logical
// body always serializes identically regardless of field construction order —
// unlike encoding/json, whose map key order is also sorted but whose number
// formatting is not guaranteed stable across all Go versions/architectures.
func canonicalSerialize(body EventBody) ([]byte, error) {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		return nil, err
	}
	return mode.Marshal(body)
}

// normalizePayload round-trips a payload through JSON, the same decoder
// readSegment uses to reload a persisted record. Recovery only ever sees the
// JSON-decoded shape (e.g. any integer becomes a float64), so Append must
// hash that same shape or every reopen breaks the parent-hash chain on the
// first record whose payload holds anything but a string.
func normalizePayload(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	enc, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(enc, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// chainHash computes SHA-256(parentHash || canonical_serialize(body)).
func chainHash(parent [32]byte, body EventBody) ([32]byte, error) {
	enc, err := canonicalSerialize(body)
	if err != nil {
		return [32]byte{}, err
	}
	h := sha256.New()
	h.Write(parent[:])
	h.Write(enc)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}
