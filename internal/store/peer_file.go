package store

import (
	"path/filepath"
	"sync"
	"time"

	"ciphermesh/internal/crypto"
	"ciphermesh/internal/domain"
)

const peersFile = "peers.json"

// PeerRecord is what we remember about a peer we have handshaken with.
type PeerRecord struct {
	PeerID      domain.PeerID         `json:"peer_id"`
	Identity    domain.IdentityPublic `json:"identity"`
	Fingerprint domain.Fingerprint    `json:"fingerprint"`
	FirstSeen   time.Time             `json:"first_seen"`
	LastSeen    time.Time             `json:"last_seen"`
}

// PeerFileStore records peer identity keys for out-of-band verification.
type PeerFileStore struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewPeerFileStore returns a PeerFileStore rooted at dir.
func NewPeerFileStore(dir string) *PeerFileStore {
	return &PeerFileStore{dir: dir, now: time.Now}
}

// SavePeer records id for peer. It returns the previous record, if any, so
// the caller can notice an identity change.
func (s *PeerFileStore) SavePeer(peer domain.PeerID, id domain.IdentityPublic) (prev PeerRecord, existed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, peersFile)
	peers := map[domain.PeerID]PeerRecord{}
	if err := loadJSON(path, &peers); err != nil {
		return PeerRecord{}, false, err
	}
	prev, existed = peers[peer]

	now := s.now().UTC()
	rec := PeerRecord{
		PeerID:      peer,
		Identity:    id,
		Fingerprint: crypto.FingerprintIdentity(id),
		FirstSeen:   now,
		LastSeen:    now,
	}
	if existed && prev.Identity == id {
		rec.FirstSeen = prev.FirstSeen
	}
	peers[peer] = rec
	return prev, existed, storeJSON(path, peers)
}

// LoadPeer returns the record for peer and whether it was present.
func (s *PeerFileStore) LoadPeer(peer domain.PeerID) (PeerRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers := map[domain.PeerID]PeerRecord{}
	if err := loadJSON(filepath.Join(s.dir, peersFile), &peers); err != nil {
		return PeerRecord{}, false, err
	}
	rec, ok := peers[peer]
	return rec, ok, nil
}
