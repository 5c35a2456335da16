package message

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"ciphermesh/internal/domain"
	"ciphermesh/internal/envelope"
	"ciphermesh/internal/protocol/ratchet"
	"ciphermesh/internal/services/handshake"
	"ciphermesh/internal/session"
)

// DefaultMaxAuthFailures is the number of consecutive authentication
// failures from one peer that flags the session as desynchronized.
const DefaultMaxAuthFailures = 5

var (
	// ErrDesynchronized wraps the failure that crossed the threshold.
	ErrDesynchronized = errors.New("session desynchronized; reset and re-handshake")
	// ErrNotPersisted wraps a failed session save after a successful seal or
	// open. The result is still returned alongside it.
	ErrNotPersisted = errors.New("session not persisted")
)

// Service sends and receives messages.
//
// High-level flow:
//   - Send: with no session, BeginSession seals the plaintext into a
//     handshake envelope; otherwise the codec seals it. The envelope is
//     encoded and delivered through the transport.
//   - Receive: fetch envelopes, handle each in order, persist touched
//     sessions, then ack what was handled. Messages that precede their
//     sender's handshake in the batch are held until it is accepted.
type Service struct {
	codec      *envelope.Codec
	handshakes *handshake.Service
	sessions   *session.Manager
	transport  domain.Transport
	persist    bool
	logger     log.Logger

	maxFailures int
	mu          sync.Mutex
	failures    map[domain.PeerID]int
}

// Option configures a Service.
type Option func(*Service)

// WithMaxAuthFailures sets the desynchronization threshold.
func WithMaxAuthFailures(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxFailures = n
		}
	}
}

// WithPersistence makes the service persist a session after every
// successful seal or open.
func WithPersistence() Option {
	return func(s *Service) { s.persist = true }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New constructs a message Service.
func New(
	codec *envelope.Codec,
	handshakes *handshake.Service,
	sessions *session.Manager,
	transport domain.Transport,
	opts ...Option,
) *Service {
	s := &Service{
		codec:       codec,
		handshakes:  handshakes,
		sessions:    sessions,
		transport:   transport,
		logger:      log.NewNopLogger(),
		maxFailures: DefaultMaxAuthFailures,
		failures:    make(map[domain.PeerID]int),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = log.With(s.logger, "component", "message")
	return s
}

// Seal encrypts plaintext for peer over the established session.
func (s *Service) Seal(ctx context.Context, peer domain.PeerID, plaintext []byte) (envelope.Envelope, error) {
	env, err := s.codec.Seal(ctx, peer, plaintext)
	if err != nil {
		return envelope.Envelope{}, err
	}
	return env, s.save(ctx, peer)
}

// Open authenticates and decrypts a message envelope from peer.
func (s *Service) Open(ctx context.Context, peer domain.PeerID, env envelope.Envelope) ([]byte, error) {
	pt, err := s.codec.Open(ctx, peer, env)
	if err != nil {
		return nil, s.noteFailure(peer, err)
	}
	s.clearFailures(peer)
	return pt, s.save(ctx, peer)
}

// HandleEnvelope decodes data received from peer and dispatches it by kind:
// handshake envelopes complete a new session, message envelopes are opened
// on the existing one.
func (s *Service) HandleEnvelope(ctx context.Context, from domain.PeerID, data []byte) ([]byte, error) {
	env, err := envelope.Decode(data)
	if err != nil {
		return nil, err
	}
	return s.dispatch(ctx, from, env)
}

func (s *Service) dispatch(ctx context.Context, from domain.PeerID, env envelope.Envelope) ([]byte, error) {
	switch env.Kind {
	case envelope.KindHandshake:
		pt, err := s.handshakes.AcceptSession(ctx, from, env)
		if err != nil {
			return nil, err
		}
		s.clearFailures(from)
		return pt, s.save(ctx, from)
	case envelope.KindMessage:
		return s.Open(ctx, from, env)
	default:
		return nil, fmt.Errorf("%w: %d", envelope.ErrUnknownKind, env.Kind)
	}
}

// Send encrypts plaintext for peer and delivers it, starting a session
// first when none exists.
func (s *Service) Send(ctx context.Context, peer domain.PeerID, plaintext []byte) error {
	env, err := s.codec.Seal(ctx, peer, plaintext)
	fresh := false
	if errors.Is(err, session.ErrSessionNotFound) {
		env, err = s.handshakes.BeginSession(ctx, peer, plaintext)
		fresh = true
	}
	if err != nil {
		return err
	}
	data, err := envelope.Encode(env)
	if err == nil {
		// Persist before delivery so a crash cannot reuse a sent counter.
		err = s.save(ctx, peer)
	}
	if err == nil {
		err = s.transport.Deliver(ctx, peer, data)
	}
	if err != nil && fresh {
		// The peer never saw the handshake; start over next time.
		if rerr := s.handshakes.ResetSession(ctx, peer); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}
	return err
}

type held struct {
	in  domain.Inbound
	env envelope.Envelope
}

// Receive fetches up to limit envelopes and handles them in order.
//
// An envelope that fails permanently (malformed, unauthenticated, key lost)
// is reported in the returned error and dropped. A message from a peer with
// no session is held until a handshake from the same peer in this batch is
// accepted, then opened right after it; if none arrives it is dropped and
// reported with session.ErrSessionNotFound. Plaintext whose session could
// not be saved is returned and the failure reported with ErrNotPersisted.
// Cancellation stops before the next envelope and only handled envelopes
// are acked.
func (s *Service) Receive(ctx context.Context, limit int) ([]domain.DecryptedMessage, error) {
	inbound, err := s.transport.FetchMessages(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DecryptedMessage, 0, len(inbound))
	var (
		errs      []error
		pending   []held
		processed int
	)
	record := func(in domain.Inbound, pt []byte, err error) {
		if err == nil || errors.Is(err, ErrNotPersisted) {
			out = append(out, domain.DecryptedMessage{From: in.From, Plaintext: pt, Timestamp: in.Timestamp})
		}
		if err != nil {
			level.Warn(s.logger).Log("msg", "envelope failed", "from", in.From, "id", in.ID, "err", err)
			errs = append(errs, fmt.Errorf("envelope %s from %s: %w", in.ID, in.From, err))
		}
	}

	for _, in := range inbound {
		if ctx.Err() != nil {
			break
		}
		processed++
		env, err := envelope.Decode(in.Data)
		if err != nil {
			record(in, nil, err)
			continue
		}
		pt, err := s.dispatch(ctx, in.From, env)
		if env.Kind == envelope.KindMessage && errors.Is(err, session.ErrSessionNotFound) {
			level.Debug(s.logger).Log("msg", "holding message until handshake", "from", in.From, "id", in.ID)
			pending = append(pending, held{in: in, env: env})
			continue
		}
		record(in, pt, err)
		if env.Kind != envelope.KindHandshake || !s.sessions.Has(in.From) {
			continue
		}
		rest := pending[:0]
		for _, h := range pending {
			if h.in.From != in.From {
				rest = append(rest, h)
				continue
			}
			if ctx.Err() != nil {
				rest = append(rest, h)
				continue
			}
			pt, err := s.dispatch(ctx, h.in.From, h.env)
			record(h.in, pt, err)
		}
		pending = rest
	}

	for _, h := range pending {
		record(h.in, nil, session.ErrSessionNotFound)
	}

	// Ack only what we handled. If zero, do nothing. Handled envelopes have
	// already advanced their sessions, so the ack outlives cancellation.
	if processed > 0 {
		if err := s.transport.AckMessages(context.WithoutCancel(ctx), processed); err != nil {
			errs = append(errs, fmt.Errorf("ack %d messages: %w", processed, err))
		}
	}
	return out, errors.Join(errs...)
}

// ResetSession discards the session with peer and its failure count.
func (s *Service) ResetSession(ctx context.Context, peer domain.PeerID) error {
	s.clearFailures(peer)
	return s.handshakes.ResetSession(ctx, peer)
}

// noteFailure counts consecutive authentication failures from peer and
// wraps err with ErrDesynchronized once the threshold is reached.
func (s *Service) noteFailure(peer domain.PeerID, err error) error {
	if !errors.Is(err, ratchet.ErrAuthenticationFailed) {
		return err
	}
	s.mu.Lock()
	s.failures[peer]++
	n := s.failures[peer]
	s.mu.Unlock()

	if n >= s.maxFailures {
		level.Error(s.logger).Log("msg", "session desynchronized", "peer", peer, "failures", n)
		return fmt.Errorf("%w: %d consecutive failures from %s: %w", ErrDesynchronized, n, peer, err)
	}
	return err
}

func (s *Service) clearFailures(peer domain.PeerID) {
	s.mu.Lock()
	delete(s.failures, peer)
	s.mu.Unlock()
}

func (s *Service) save(ctx context.Context, peer domain.PeerID) error {
	if !s.persist {
		return nil
	}
	if err := s.sessions.Persist(ctx, peer); err != nil {
		return fmt.Errorf("%w: %w", ErrNotPersisted, err)
	}
	return nil
}
