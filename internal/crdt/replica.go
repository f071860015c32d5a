// Package crdt provides the replica capability behind the collaboration
// channel: apply an update fragment, encode the full state, rebuild a replica
// from an encoded blob. Updates merge commutatively and idempotently, so
// replicas that have seen the same fragment set converge to the same encoded
// state regardless of arrival order. The blob is opaque to every other
// package; any engine honoring this contract is substitutable.
package crdt

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sort"
	"sync"
)

var ErrEmptyUpdate = errors.New("empty update fragment")

type encodedState struct {
	Updates []string `json:"updates"`
}

// Replica is an in-memory CRDT replica: an append-only update set keyed by
// content hash. Safe for concurrent use.
type Replica struct {
	mu      sync.Mutex
	updates map[[32]byte][]byte
}

func NewReplica() *Replica {
	return &Replica{updates: make(map[[32]byte][]byte)}
}

// FromState rebuilds a replica from a previously encoded blob. A nil or empty
// blob yields a fresh replica.
func FromState(state []byte) (*Replica, error) {
	r := NewReplica()
	if len(state) == 0 {
		return r, nil
	}

	var enc encodedState
	if err := json.Unmarshal(state, &enc); err != nil {
		return nil, err
	}
	for _, b64 := range enc.Updates {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, err
		}
		r.updates[sha256.Sum256(raw)] = raw
	}
	return r, nil
}

// Apply merges one update fragment. Re-applying a fragment is a no-op.
func (r *Replica) Apply(update []byte) error {
	if len(update) == 0 {
		return ErrEmptyUpdate
	}

	key := sha256.Sum256(update)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.updates[key]; ok {
		return nil
	}
	buf := make([]byte, len(update))
	copy(buf, update)
	r.updates[key] = buf
	return nil
}

// EncodeState serializes the replica deterministically: two replicas holding
// the same fragment set encode byte-identically.
func (r *Replica) EncodeState() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	encoded := make([]string, 0, len(r.updates))
	for _, raw := range r.updates {
		encoded = append(encoded, base64.StdEncoding.EncodeToString(raw))
	}
	sort.Strings(encoded)

	out, _ := json.Marshal(encodedState{Updates: encoded})
	return out
}

// Size reports how many distinct fragments the replica holds.
func (r *Replica) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}
