package ratchet

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"ciphermesh/internal/domain"
)

const snapshotVersion = 1

type chainRecord struct {
	Key   [32]byte `cbor:"1,keyasint"`
	N     uint32   `cbor:"2,keyasint"`
	Ready bool     `cbor:"3,keyasint"`
}

type skippedRecord struct {
	Pub domain.X25519Public `cbor:"1,keyasint"`
	N   uint32              `cbor:"2,keyasint"`
	Key [32]byte            `cbor:"3,keyasint"`
}

type snapshot struct {
	V       int                  `cbor:"1,keyasint"`
	Root    [32]byte             `cbor:"2,keyasint"`
	Self    domain.X25519KeyPair `cbor:"3,keyasint"`
	Peer    domain.X25519Public  `cbor:"4,keyasint"`
	HasPeer bool                 `cbor:"5,keyasint"`
	Send    chainRecord          `cbor:"6,keyasint"`
	Recv    chainRecord          `cbor:"7,keyasint"`
	PN      uint32               `cbor:"8,keyasint"`
	AD      []byte               `cbor:"9,keyasint"`
	Skipped []skippedRecord      `cbor:"10,keyasint"` // oldest first
}

// Snapshot serializes the full session state, secret keys included.
func (s *Session) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == Uninitialized {
		return nil, ErrUninitialized
	}
	snap := snapshot{
		V:       snapshotVersion,
		Root:    s.st.root,
		Self:    s.st.self,
		Peer:    s.st.peer,
		HasPeer: s.st.hasPeer,
		Send:    chainRecord{Key: s.st.send.key, N: s.st.send.n, Ready: s.st.send.ready},
		Recv:    chainRecord{Key: s.st.recv.key, N: s.st.recv.n, Ready: s.st.recv.ready},
		PN:      s.st.pn,
		AD:      s.ad,
	}
	for _, e := range s.skipped.entries() {
		snap.Skipped = append(snap.Skipped, skippedRecord{Pub: e.pub, N: e.n, Key: e.mk})
	}
	return cbor.Marshal(snap)
}

// FromSnapshot restores a session written by Snapshot. If the snapshot holds
// more skipped keys than cfg allows, the oldest are dropped.
func FromSnapshot(data []byte, cfg Config) (*Session, error) {
	var snap snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if snap.V != snapshotVersion {
		return nil, fmt.Errorf("unsupported session version %d", snap.V)
	}
	if !snap.HasPeer && snap.Self.Priv.IsZero() {
		return nil, fmt.Errorf("%w: snapshot has no ratchet keys", ErrUninitialized)
	}
	s := newSession(snap.AD, cfg)
	s.st = state{
		root:    snap.Root,
		self:    snap.Self,
		peer:    snap.Peer,
		hasPeer: snap.HasPeer,
		send:    chain{key: snap.Send.Key, n: snap.Send.N, ready: snap.Send.Ready},
		recv:    chain{key: snap.Recv.Key, n: snap.Recv.N, ready: snap.Recv.Ready},
		pn:      snap.PN,
	}
	for _, r := range snap.Skipped {
		s.skipped.add(skippedEntry{skippedKey: skippedKey{pub: r.Pub, n: r.N}, mk: r.Key})
	}
	s.status = Established
	return s, nil
}
