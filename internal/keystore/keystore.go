package keystore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"ciphermesh/internal/crypto"
	"ciphermesh/internal/domain"
)

const (
	// retainedSignedPreKeys bounds how many rotated-out signed pre-keys stay
	// resolvable for handshakes that were started against them.
	retainedSignedPreKeys = 2
)

var (
	// ErrKeyExhausted is returned alongside a still-usable bundle when no
	// one-time pre-key was left to include.
	ErrKeyExhausted = errors.New("one-time pre-keys exhausted")
	// ErrUnknownSignedPreKey is returned for a signed pre-key id the store
	// does not hold.
	ErrUnknownSignedPreKey = errors.New("unknown signed pre-key")
	// ErrUnknownOneTimePreKey is returned when a one-time pre-key id was
	// never issued here or has already been consumed.
	ErrUnknownOneTimePreKey = errors.New("unknown or consumed one-time pre-key")
)

type oneTimeEntry struct {
	pair   domain.OneTimePreKeyPair
	issued bool
}

// Store is the IdentityKeyStore of one peer. It is safe for concurrent use.
type Store struct {
	mu sync.Mutex

	owner    domain.PeerID
	identity domain.Identity

	signed       map[domain.SignedPreKeyID]domain.SignedPreKeyPair
	signedOrder  []domain.SignedPreKeyID // oldest first; last is current
	oneTime      map[domain.OneTimePreKeyID]*oneTimeEntry
	oneTimeOrder []domain.OneTimePreKeyID // generation order
	logger       log.Logger
	now          func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for issuance events.
func WithLogger(l log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New wraps an existing identity. The store starts without pre-keys; call
// RotateSignedPreKey and Replenish before publishing.
func New(owner domain.PeerID, id domain.Identity, opts ...Option) *Store {
	s := &Store{
		owner:    owner,
		identity: id,
		signed:   make(map[domain.SignedPreKeyID]domain.SignedPreKeyPair),
		oneTime:  make(map[domain.OneTimePreKeyID]*oneTimeEntry),
		logger:   log.NewNopLogger(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Generate provisions a fresh identity with one signed pre-key and n
// one-time pre-keys.
func Generate(owner domain.PeerID, n int, opts ...Option) (*Store, error) {
	id, err := NewIdentity()
	if err != nil {
		return nil, err
	}
	s := New(owner, id, opts...)
	if _, err := s.RotateSignedPreKey(); err != nil {
		return nil, err
	}
	if _, err := s.Replenish(n); err != nil {
		return nil, err
	}
	return s, nil
}

// NewIdentity creates fresh X25519 and Ed25519 key pairs.
func NewIdentity() (domain.Identity, error) {
	xPriv, xPub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.Identity{}, err
	}
	edPriv, edPub, err := crypto.GenerateEd25519()
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.Identity{XPub: xPub, XPriv: xPriv, EdPub: edPub, EdPriv: edPriv}, nil
}

// Owner returns the peer id the store publishes bundles for.
func (s *Store) Owner() domain.PeerID { return s.owner }

// Identity returns the long-term identity key pair.
func (s *Store) Identity() domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Fingerprint returns a short fingerprint of the public identity.
func (s *Store) Fingerprint() domain.Fingerprint {
	return crypto.FingerprintIdentity(s.Identity().Public())
}

// RotateSignedPreKey generates, signs and installs a new current signed
// pre-key. Older keys stay resolvable until more than retainedSignedPreKeys
// newer ones exist.
func (s *Store) RotateSignedPreKey() (domain.SignedPreKeyPair, error) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.SignedPreKeyPair{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	spk := domain.SignedPreKeyPair{
		ID:        domain.SignedPreKeyID("spk-" + uuid.NewString()),
		Priv:      priv,
		Pub:       pub,
		Signature: crypto.SignEd25519(s.identity.EdPriv, pub.Slice()),
		CreatedAt: s.now().Unix(),
	}
	s.signed[spk.ID] = spk
	s.signedOrder = append(s.signedOrder, spk.ID)
	for len(s.signedOrder) > retainedSignedPreKeys+1 {
		old := s.signedOrder[0]
		s.signedOrder = s.signedOrder[1:]
		if k, ok := s.signed[old]; ok {
			crypto.Wipe(k.Priv[:])
		}
		delete(s.signed, old)
	}
	level.Info(s.logger).Log("msg", "signed pre-key rotated", "spk", spk.ID)
	return spk, nil
}

// CurrentSignedPreKey returns the signed pre-key placed in new bundles.
func (s *Store) CurrentSignedPreKey() (domain.SignedPreKeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSignedLocked()
}

func (s *Store) currentSignedLocked() (domain.SignedPreKeyPair, error) {
	if len(s.signedOrder) == 0 {
		return domain.SignedPreKeyPair{}, ErrUnknownSignedPreKey
	}
	return s.signed[s.signedOrder[len(s.signedOrder)-1]], nil
}

// SignedPreKey looks up a signed pre-key by id.
func (s *Store) SignedPreKey(id domain.SignedPreKeyID) (domain.SignedPreKeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	spk, ok := s.signed[id]
	if !ok {
		return domain.SignedPreKeyPair{}, fmt.Errorf("%w: %s", ErrUnknownSignedPreKey, id)
	}
	return spk, nil
}

// Replenish generates count fresh one-time pre-keys and returns their public
// halves.
func (s *Store) Replenish(count int) ([]domain.OneTimePreKeyPublic, error) {
	pairs := make([]domain.OneTimePreKeyPair, 0, count)
	for i := 0; i < count; i++ {
		priv, pub, err := crypto.GenerateX25519()
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, domain.OneTimePreKeyPair{
			ID:   domain.OneTimePreKeyID("opk-" + uuid.NewString()),
			Priv: priv,
			Pub:  pub,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.OneTimePreKeyPublic, 0, len(pairs))
	for _, p := range pairs {
		s.oneTime[p.ID] = &oneTimeEntry{pair: p}
		s.oneTimeOrder = append(s.oneTimeOrder, p.ID)
		out = append(out, domain.OneTimePreKeyPublic{ID: p.ID, Pub: p.Pub})
	}
	level.Debug(s.logger).Log("msg", "one-time pre-keys replenished", "count", count, "available", s.availableLocked())
	return out, nil
}

// PublishBundle returns a bundle for one handshake. The included one-time
// pre-key, if any, is marked issued before the lock is released so no other
// caller can receive it. When the pool is empty the returned bundle is still
// valid and the error is ErrKeyExhausted.
func (s *Store) PublishBundle() (domain.PreKeyBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.baseBundleLocked()
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	issued := s.issueLocked(1)
	if len(issued) == 0 {
		level.Warn(s.logger).Log("msg", "bundle issued without one-time pre-key", "err", ErrKeyExhausted)
		return b, ErrKeyExhausted
	}
	b.OneTimePreKey = &issued[0]
	return b, nil
}

// DirectoryBundle marks up to max available one-time pre-keys issued and
// returns them with the signed bundle, for upload to a directory that hands
// out one key per fetch.
func (s *Store) DirectoryBundle(max int) (domain.BundleUpload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.baseBundleLocked()
	if err != nil {
		return domain.BundleUpload{}, err
	}
	up := domain.BundleUpload{PreKeyBundle: b, OneTimePreKeys: s.issueLocked(max)}
	if len(up.OneTimePreKeys) == 0 {
		return up, ErrKeyExhausted
	}
	return up, nil
}

func (s *Store) baseBundleLocked() (domain.PreKeyBundle, error) {
	spk, err := s.currentSignedLocked()
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	return domain.PreKeyBundle{
		PeerID:                s.owner,
		IdentityKey:           s.identity.XPub,
		SigningKey:            s.identity.EdPub,
		SignedPreKeyID:        spk.ID,
		SignedPreKey:          spk.Pub,
		SignedPreKeySignature: append([]byte(nil), spk.Signature...),
	}, nil
}

func (s *Store) issueLocked(max int) []domain.OneTimePreKeyPublic {
	var out []domain.OneTimePreKeyPublic
	for _, id := range s.oneTimeOrder {
		if len(out) >= max {
			break
		}
		e, ok := s.oneTime[id]
		if !ok || e.issued {
			continue
		}
		e.issued = true
		out = append(out, domain.OneTimePreKeyPublic{ID: id, Pub: e.pair.Pub})
	}
	return out
}

// ConsumeOneTimePreKey removes and returns a one-time pre-key. A key can be
// consumed exactly once; later calls fail with ErrUnknownOneTimePreKey.
func (s *Store) ConsumeOneTimePreKey(id domain.OneTimePreKeyID) (domain.OneTimePreKeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.oneTime[id]
	if !ok {
		return domain.OneTimePreKeyPair{}, fmt.Errorf("%w: %s", ErrUnknownOneTimePreKey, id)
	}
	delete(s.oneTime, id)
	for i, v := range s.oneTimeOrder {
		if v == id {
			s.oneTimeOrder = append(s.oneTimeOrder[:i], s.oneTimeOrder[i+1:]...)
			break
		}
	}
	return e.pair, nil
}

// Available returns the number of one-time pre-keys not yet issued.
func (s *Store) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.availableLocked()
}

func (s *Store) availableLocked() int {
	n := 0
	for _, e := range s.oneTime {
		if !e.issued {
			n++
		}
	}
	return n
}
