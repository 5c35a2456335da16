package keystore

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"ciphermesh/internal/domain"
)

const snapshotVersion = 1

type oneTimeRecord struct {
	Pair   domain.OneTimePreKeyPair `cbor:"1,keyasint"`
	Issued bool                     `cbor:"2,keyasint"`
}

type snapshot struct {
	V        int                       `cbor:"1,keyasint"`
	Owner    domain.PeerID             `cbor:"2,keyasint"`
	Identity domain.Identity           `cbor:"3,keyasint"`
	Signed   []domain.SignedPreKeyPair `cbor:"4,keyasint"` // oldest first
	OneTime  []oneTimeRecord           `cbor:"5,keyasint"` // generation order
}

// Export serializes the whole store, private keys included. Callers must seal
// the result before it touches disk.
func (s *Store) Export() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot{V: snapshotVersion, Owner: s.owner, Identity: s.identity}
	for _, id := range s.signedOrder {
		snap.Signed = append(snap.Signed, s.signed[id])
	}
	for _, id := range s.oneTimeOrder {
		e := s.oneTime[id]
		snap.OneTime = append(snap.OneTime, oneTimeRecord{Pair: e.pair, Issued: e.issued})
	}
	return cbor.Marshal(snap)
}

// Import rebuilds a store from Export output.
func Import(data []byte, opts ...Option) (*Store, error) {
	var snap snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode key store: %w", err)
	}
	if snap.V != snapshotVersion {
		return nil, fmt.Errorf("unsupported key store version %d", snap.V)
	}
	if snap.Identity.XPriv.IsZero() || snap.Identity.EdPub.IsZero() {
		return nil, errors.New("key store snapshot has no identity")
	}
	s := New(snap.Owner, snap.Identity, opts...)
	for _, spk := range snap.Signed {
		s.signed[spk.ID] = spk
		s.signedOrder = append(s.signedOrder, spk.ID)
	}
	for _, r := range snap.OneTime {
		s.oneTime[r.Pair.ID] = &oneTimeEntry{pair: r.Pair, issued: r.Issued}
		s.oneTimeOrder = append(s.oneTimeOrder, r.Pair.ID)
	}
	return s, nil
}
