package handshake

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"ciphermesh/internal/crypto"
	"ciphermesh/internal/domain"
	"ciphermesh/internal/envelope"
	"ciphermesh/internal/metrics"
	"ciphermesh/internal/protocol/x3dh"
	"ciphermesh/internal/session"
	"ciphermesh/internal/store"
)

var handshakeCauses = []metrics.Cause{
	{Label: "invalid_signature", Err: x3dh.ErrInvalidSignature},
	{Label: "incomplete", Err: x3dh.ErrHandshakeIncomplete},
	{Label: "invalid_key", Err: x3dh.ErrInvalidKeyMaterial},
	{Label: "exists", Err: session.ErrSessionExists},
}

// PeerRecorder remembers peer identity keys. store.PeerFileStore satisfies it.
type PeerRecorder interface {
	SavePeer(peer domain.PeerID, id domain.IdentityPublic) (store.PeerRecord, bool, error)
}

// Service runs handshakes and installs the resulting sessions.
type Service struct {
	engine   *x3dh.Engine
	local    domain.IdentityPublic
	sessions *session.Manager
	dir      domain.PeerDirectory
	peers    PeerRecorder
	logger   log.Logger
	metrics  *metrics.Metrics
}

// New constructs a Service. peers, logger and m may be nil.
func New(
	engine *x3dh.Engine,
	local domain.IdentityPublic,
	sessions *session.Manager,
	dir domain.PeerDirectory,
	peers PeerRecorder,
	logger log.Logger,
	m *metrics.Metrics,
) *Service {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Service{
		engine:   engine,
		local:    local,
		sessions: sessions,
		dir:      dir,
		peers:    peers,
		logger:   log.With(logger, "component", "handshake"),
		metrics:  m,
	}
}

// BeginSession starts a session with peer and returns the handshake
// envelope carrying first, sealed under the new session.
//
// Steps:
//  1. Refuse if a session with peer already exists.
//  2. Fetch the peer's bundle (identity, signed pre-key, optional one-time key).
//  3. Run X3DH as the initiator.
//  4. Install the session and seal first as its first message.
func (s *Service) BeginSession(ctx context.Context, peer domain.PeerID, first []byte) (envelope.Envelope, error) {
	env, err := s.begin(ctx, peer, first)
	s.metrics.HandshakesTotal.WithLabelValues("initiator", metrics.Result(err, handshakeCauses...)).Inc()
	return env, err
}

func (s *Service) begin(ctx context.Context, peer domain.PeerID, first []byte) (envelope.Envelope, error) {
	if err := s.ensureNoSession(ctx, peer); err != nil {
		return envelope.Envelope{}, err
	}
	bundle, err := s.dir.FetchBundle(ctx, peer)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("fetch bundle for %s: %w", peer, err)
	}
	if bundle.PeerID != "" && bundle.PeerID != peer {
		return envelope.Envelope{}, fmt.Errorf("%w: bundle is for %q, not %q", x3dh.ErrHandshakeIncomplete, bundle.PeerID, peer)
	}

	res, err := s.engine.Initiate(bundle)
	if err != nil {
		return envelope.Envelope{}, err
	}
	defer res.Wipe()

	sess, created, err := s.sessions.GetOrCreate(peer, res)
	if err != nil {
		return envelope.Envelope{}, err
	}
	if !created {
		return envelope.Envelope{}, fmt.Errorf("%w: %s", session.ErrSessionExists, peer)
	}
	m, err := sess.Encrypt(first)
	if err != nil {
		_ = s.sessions.Reset(ctx, peer)
		return envelope.Envelope{}, err
	}
	s.recordPeer(peer, res.PeerIdentity)
	level.Info(s.logger).Log("msg", "session initiated", "peer", peer,
		"peer_fp", crypto.FingerprintIdentity(res.PeerIdentity), "one_time", res.OneTimePreKeyID != "")
	return envelope.NewHandshake(res.PreKeyMessage(s.local), m), nil
}

// AcceptSession completes a handshake started by peer and returns the
// plaintext of the embedded first message. The session is installed only
// if that message authenticates.
func (s *Service) AcceptSession(ctx context.Context, peer domain.PeerID, env envelope.Envelope) ([]byte, error) {
	pt, err := s.accept(ctx, peer, env)
	s.metrics.HandshakesTotal.WithLabelValues("responder", metrics.Result(err, handshakeCauses...)).Inc()
	return pt, err
}

func (s *Service) accept(ctx context.Context, peer domain.PeerID, env envelope.Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	if env.Kind != envelope.KindHandshake {
		return nil, fmt.Errorf("%w: expected handshake, got %s", envelope.ErrMalformed, env.Kind)
	}
	if err := s.ensureNoSession(ctx, peer); err != nil {
		return nil, err
	}

	res, err := s.engine.Respond(env.Handshake.PreKey)
	if err != nil {
		return nil, err
	}
	defer res.Wipe()

	sess, created, err := s.sessions.GetOrCreate(peer, res)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, fmt.Errorf("%w: %s", session.ErrSessionExists, peer)
	}
	pt, err := sess.Decrypt(env.Handshake.Message.Ratchet())
	if err != nil {
		if rerr := s.sessions.Reset(ctx, peer); rerr != nil {
			return nil, errors.Join(err, rerr)
		}
		return nil, err
	}
	s.recordPeer(peer, res.PeerIdentity)
	level.Info(s.logger).Log("msg", "session accepted", "peer", peer,
		"peer_fp", crypto.FingerprintIdentity(res.PeerIdentity), "one_time", res.OneTimePreKeyID != "")
	return pt, nil
}

// ResetSession discards the session with peer so the next contact runs a
// fresh handshake.
func (s *Service) ResetSession(ctx context.Context, peer domain.PeerID) error {
	return s.sessions.Reset(ctx, peer)
}

func (s *Service) ensureNoSession(ctx context.Context, peer domain.PeerID) error {
	_, err := s.sessions.Lookup(ctx, peer)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", session.ErrSessionExists, peer)
	case errors.Is(err, session.ErrSessionNotFound):
		return nil
	default:
		return err
	}
}

func (s *Service) recordPeer(peer domain.PeerID, id domain.IdentityPublic) {
	if s.peers == nil {
		return
	}
	prev, existed, err := s.peers.SavePeer(peer, id)
	if err != nil {
		level.Warn(s.logger).Log("msg", "record peer identity", "peer", peer, "err", err)
		return
	}
	if existed && prev.Identity != id {
		level.Warn(s.logger).Log("msg", "peer identity changed", "peer", peer,
			"old_fp", prev.Fingerprint, "new_fp", crypto.FingerprintIdentity(id))
	}
}
