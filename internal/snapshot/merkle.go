package snapshot

import (
	"crypto/sha256"
	"encoding/json"

	"github.com/shelldone/agentd/internal/journal"
)

// leafHash hashes a single event's canonical JSON encoding. This is
// independent of the journal's own parent-hash chain: the Merkle tree
// covers exactly the events in one snapshot's range, while the chain hash
// covers the whole journal since inception.
func leafHash(rec journal.EventRecord) ([32]byte, error) {
	enc, err := json.Marshal(rec)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(enc), nil
}

// merkleRoot computes the root of a binary Merkle tree over the ordered
// event hashes, duplicating the last element of each odd-length level to
// even it out (the standard Bitcoin-style scheme).
func merkleRoot(events []journal.EventRecord) ([32]byte, error) {
	if len(events) == 0 {
		return sha256.Sum256(nil), nil
	}
	level := make([][32]byte, len(events))
	for i, e := range events {
		h, err := leafHash(e)
		if err != nil {
			return [32]byte{}, err
		}
		level[i] = h
	}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][32]byte, len(level)/2)
		for i := 0; i < len(next); i++ {
			h := sha256.New()
			h.Write(level[2*i][:])
			h.Write(level[2*i+1][:])
			var sum [32]byte
			copy(sum[:], h.Sum(nil))
			next[i] = sum
		}
		level = next
	}
	return level[0], nil
}
