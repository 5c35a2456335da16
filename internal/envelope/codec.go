package envelope

import (
	"context"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"ciphermesh/internal/domain"
	"ciphermesh/internal/metrics"
	"ciphermesh/internal/protocol/ratchet"
	"ciphermesh/internal/session"
)

var openCauses = []metrics.Cause{
	{Label: "too_many_skipped", Err: ratchet.ErrTooManySkipped},
	{Label: "auth_failed", Err: ratchet.ErrAuthenticationFailed},
	{Label: "key_not_found", Err: ratchet.ErrKeyNotFound},
	{Label: "no_session", Err: session.ErrSessionNotFound},
	{Label: "malformed", Err: ErrMalformed},
}

// Codec seals and opens envelopes through the sessions of a Manager.
type Codec struct {
	sessions *session.Manager
	logger   log.Logger
	metrics  *metrics.Metrics
}

// NewCodec returns a Codec over sessions. logger and m may be nil.
func NewCodec(sessions *session.Manager, logger log.Logger, m *metrics.Metrics) *Codec {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Codec{sessions: sessions, logger: log.With(logger, "component", "envelope"), metrics: m}
}

// Seal encrypts plaintext for peer. The peer must have an established
// session; otherwise the error wraps session.ErrSessionNotFound.
func (c *Codec) Seal(ctx context.Context, peer domain.PeerID, plaintext []byte) (Envelope, error) {
	sess, err := c.sessions.Lookup(ctx, peer)
	if err != nil {
		c.metrics.SealsTotal.WithLabelValues("no_session").Inc()
		return Envelope{}, err
	}
	m, err := sess.Encrypt(plaintext)
	if err != nil {
		c.metrics.SealsTotal.WithLabelValues("error").Inc()
		return Envelope{}, fmt.Errorf("seal for %s: %w", peer, err)
	}
	c.metrics.SealsTotal.WithLabelValues("ok").Inc()
	return NewMessage(m), nil
}

// Open authenticates and decrypts a message envelope from peer. Failures
// leave the session as it was.
func (c *Codec) Open(ctx context.Context, peer domain.PeerID, env Envelope) ([]byte, error) {
	pt, err := c.open(ctx, peer, env)
	c.metrics.OpensTotal.WithLabelValues(metrics.Result(err, openCauses...)).Inc()
	if err != nil {
		level.Warn(c.logger).Log("msg", "open failed", "peer", peer, "kind", env.Kind, "err", err)
	}
	return pt, err
}

func (c *Codec) open(ctx context.Context, peer domain.PeerID, env Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	if env.Kind != KindMessage {
		return nil, fmt.Errorf("%w: %s envelope cannot be opened on a session", ErrMalformed, env.Kind)
	}
	sess, err := c.sessions.Lookup(ctx, peer)
	if err != nil {
		return nil, err
	}
	return sess.Decrypt(env.Message.Ratchet())
}

// SealBytes is Seal followed by Encode.
func (c *Codec) SealBytes(ctx context.Context, peer domain.PeerID, plaintext []byte) ([]byte, error) {
	env, err := c.Seal(ctx, peer, plaintext)
	if err != nil {
		return nil, err
	}
	return Encode(env)
}

// OpenBytes is Decode followed by Open.
func (c *Codec) OpenBytes(ctx context.Context, peer domain.PeerID, data []byte) ([]byte, error) {
	env, err := Decode(data)
	if err != nil {
		c.metrics.OpensTotal.WithLabelValues("malformed").Inc()
		return nil, err
	}
	return c.Open(ctx, peer, env)
}
