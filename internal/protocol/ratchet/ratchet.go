package ratchet

import (
	"errors"
	"fmt"
	"sync"

	"ciphermesh/internal/crypto"
	"ciphermesh/internal/domain"
)

const (
	// DefaultMaxSkippedKeys bounds the skipped-key cache of one session.
	DefaultMaxSkippedKeys = 1000
	// DefaultMaxChainGap bounds how far one message may move a receiving
	// chain forward.
	DefaultMaxChainGap = 2000
)

var (
	// ErrAuthenticationFailed is returned when a message does not verify.
	// Session state is left unchanged.
	ErrAuthenticationFailed = errors.New("ratchet: message authentication failed")
	// ErrKeyNotFound is returned for a counter whose key was consumed or
	// evicted. The message cannot be recovered.
	ErrKeyNotFound = errors.New("ratchet: message key not found")
	// ErrCacheOverflow is reported through Config.OnOverflow when a skipped
	// key is evicted. It is never returned by Encrypt or Decrypt.
	ErrCacheOverflow = errors.New("ratchet: skipped key cache overflow")
	// ErrTooManySkipped is returned when a header would advance a chain by
	// more than Config.MaxChainGap.
	ErrTooManySkipped = errors.New("ratchet: too many skipped messages")
	// ErrUninitialized is returned by sessions that cannot yet perform the
	// requested operation.
	ErrUninitialized = errors.New("ratchet: session not initialized")
	// ErrInvalidKeyMaterial is returned when a header carries an unusable
	// ratchet public key.
	ErrInvalidKeyMaterial = crypto.ErrInvalidKeyMaterial
)

// Status is the state of a Session.
type Status int

const (
	Uninitialized Status = iota
	Established
	// Advancing names the DH ratchet step. The step runs on a staged copy
	// of the state under the session lock, so Status never reports it.
	Advancing
)

func (s Status) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Established:
		return "established"
	case Advancing:
		return "advancing"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Config tunes a Session. Zero fields take the defaults.
type Config struct {
	MaxSkippedKeys int
	MaxChainGap    uint32
	// OnOverflow receives an error wrapping ErrCacheOverflow each time a
	// skipped key is evicted.
	OnOverflow func(error)
}

func (c Config) withDefaults() Config {
	if c.MaxSkippedKeys <= 0 {
		c.MaxSkippedKeys = DefaultMaxSkippedKeys
	}
	if c.MaxChainGap == 0 {
		c.MaxChainGap = DefaultMaxChainGap
	}
	return c
}

type chain struct {
	key   [32]byte
	n     uint32
	ready bool
}

type state struct {
	root    [32]byte
	self    domain.X25519KeyPair
	peer    domain.X25519Public
	hasPeer bool
	send    chain
	recv    chain
	pn      uint32
}

// Session is the Double Ratchet state shared with one peer.
type Session struct {
	mu      sync.Mutex
	cfg     Config
	status  Status
	ad      []byte
	st      state
	skipped *skippedKeys
}

// NewInitiator returns a session for the party that ran X3DH Initiate.
// peerRatchet is the responder's signed pre-key. The first Encrypt performs
// the initial DH ratchet step.
func NewInitiator(secret, ad []byte, peerRatchet domain.X25519Public, cfg Config) (*Session, error) {
	if len(secret) == 0 || peerRatchet.IsZero() {
		return nil, fmt.Errorf("%w: missing shared secret or peer ratchet key", ErrUninitialized)
	}
	s := newSession(ad, cfg)
	s.st.root = deriveRoot(secret)
	s.st.peer = peerRatchet
	s.st.hasPeer = true
	s.status = Established
	return s, nil
}

// NewResponder returns a session for the party that ran X3DH Respond. self
// is the signed pre-key pair the initiator used. The session can decrypt
// once the initiator's first message arrives; it cannot encrypt before that.
func NewResponder(secret, ad []byte, self domain.X25519KeyPair, cfg Config) (*Session, error) {
	if len(secret) == 0 || self.Priv.IsZero() {
		return nil, fmt.Errorf("%w: missing shared secret or ratchet key pair", ErrUninitialized)
	}
	s := newSession(ad, cfg)
	s.st.root = deriveRoot(secret)
	s.st.self = self
	s.status = Established
	return s, nil
}

func newSession(ad []byte, cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		cfg:     cfg,
		ad:      append([]byte(nil), ad...),
		skipped: newSkippedKeys(cfg.MaxSkippedKeys, cfg.OnOverflow),
	}
}

// Status reports the session state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// AssociatedData returns the identity binding fixed at handshake time.
func (s *Session) AssociatedData() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.ad...)
}

// SkippedKeys returns the number of cached skipped message keys.
func (s *Session) SkippedKeys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.skipped == nil {
		return 0
	}
	return s.skipped.len()
}

// Encrypt seals plaintext under the next sending message key.
func (s *Session) Encrypt(plaintext []byte) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == Uninitialized {
		return Message{}, ErrUninitialized
	}
	st := s.st
	if !st.send.ready {
		if !st.hasPeer {
			return Message{}, fmt.Errorf("%w: no peer ratchet key yet", ErrUninitialized)
		}
		if err := st.sendStep(); err != nil {
			return Message{}, err
		}
	}

	next, mk := kdfChain(st.send.key)
	h := Header{DHPub: st.self.Pub, PN: st.pn, N: st.send.n}
	ct, tag, err := sealMessage(mk, s.ad, h, plaintext)
	crypto.Wipe32(&mk)
	if err != nil {
		return Message{}, err
	}
	st.send.key = next
	st.send.n++

	if st.self.Priv != s.st.self.Priv {
		crypto.Wipe(s.st.self.Priv[:])
	}
	s.st = st
	return Message{Header: h, Ciphertext: ct, AuthTag: tag}, nil
}

// Decrypt authenticates and opens m. Nothing is committed unless the
// message verifies; see the package documentation for what a rejected
// message leaves behind.
func (s *Session) Decrypt(m Message) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == Uninitialized {
		return nil, ErrUninitialized
	}
	h := m.Header

	// A cached key for this exact (chain, counter) wins over any ratchet step.
	id := skippedKey{pub: h.DHPub, n: h.N}
	if mk, ok := s.skipped.peek(id); ok {
		pt, err := openMessage(mk, s.ad, m)
		crypto.Wipe32(&mk)
		if err != nil {
			return nil, ErrAuthenticationFailed
		}
		s.skipped.consume(id)
		return pt, nil
	}

	st := s.st
	var pending []skippedEntry
	var beforeStep state
	retained := 0
	stepped := !st.hasPeer || h.DHPub != st.peer

	if stepped {
		if err := s.skipTo(&st, h.PN, &pending); err != nil {
			wipeEntries(pending)
			return nil, rejected(err)
		}
		retained = len(pending)
		beforeStep = st

		if err := st.recvStep(h.DHPub); err != nil {
			wipeEntries(pending)
			return nil, rejected(err)
		}
	} else if !st.recv.ready {
		return nil, ErrKeyNotFound
	}

	if h.N < st.recv.n {
		return nil, ErrKeyNotFound
	}
	if err := s.skipTo(&st, h.N, &pending); err != nil {
		wipeEntries(pending)
		return nil, rejected(err)
	}
	beforeTarget := st

	next, mk := kdfChain(st.recv.key)
	st.recv.key = next
	st.recv.n++
	pt, err := openMessage(mk, s.ad, m)
	crypto.Wipe32(&mk)

	if err != nil {
		if stepped {
			// Keys on the unverified new chain are discarded with it.
			s.st = beforeStep
			s.commit(pending[:retained])
			wipeEntries(pending[retained:])
		} else {
			s.st = beforeTarget
			s.commit(pending)
		}
		return nil, ErrAuthenticationFailed
	}

	s.st = st
	s.commit(pending)
	return pt, nil
}

// rejected marks a header that cannot be authenticated because no key can
// be derived for it. The cause stays matchable with errors.Is.
func rejected(err error) error {
	return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
}

func (s *Session) commit(es []skippedEntry) {
	for _, e := range es {
		s.skipped.add(e)
	}
	wipeEntries(es)
}

// skipTo advances the receiving chain of st up to counter until, staging
// each intermediate message key in pending.
func (s *Session) skipTo(st *state, until uint32, pending *[]skippedEntry) error {
	if !st.recv.ready || until <= st.recv.n {
		return nil
	}
	if until-st.recv.n > s.cfg.MaxChainGap {
		return fmt.Errorf("%w: gap %d exceeds %d", ErrTooManySkipped, until-st.recv.n, s.cfg.MaxChainGap)
	}
	for st.recv.n < until {
		next, mk := kdfChain(st.recv.key)
		*pending = append(*pending, skippedEntry{skippedKey: skippedKey{pub: st.peer, n: st.recv.n}, mk: mk})
		st.recv.key = next
		st.recv.n++
	}
	return nil
}

// sendStep creates a new ratchet key pair and sending chain.
func (st *state) sendStep() error {
	pair, err := crypto.GenerateX25519Pair()
	if err != nil {
		return err
	}
	dh, err := crypto.DH(pair.Priv, st.peer)
	if err != nil {
		return err
	}
	st.root, st.send.key = kdfRoot(st.root, dh)
	crypto.Wipe32(&dh)
	st.self = pair
	st.send.n = 0
	st.send.ready = true
	return nil
}

// recvStep adopts peer as the new peer ratchet key and derives the matching
// receiving chain. The sending chain is dropped so the next Encrypt steps.
func (st *state) recvStep(peer domain.X25519Public) error {
	dh, err := crypto.DH(st.self.Priv, peer)
	if err != nil {
		return err
	}
	st.root, st.recv.key = kdfRoot(st.root, dh)
	crypto.Wipe32(&dh)
	st.recv.n = 0
	st.recv.ready = true
	if st.send.ready {
		st.pn = st.send.n
	}
	st.send = chain{}
	st.peer = peer
	st.hasPeer = true
	return nil
}
