package x3dh

import (
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"ciphermesh/internal/crypto"
	"ciphermesh/internal/domain"
	"ciphermesh/internal/keystore"
)

// Engine runs handshakes on behalf of a local key store.
type Engine struct {
	keys   *keystore.Store
	logger log.Logger
}

// NewEngine returns an Engine bound to keys.
func NewEngine(keys *keystore.Store, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Engine{keys: keys, logger: log.With(logger, "component", "x3dh")}
}

// Initiate runs X3DH against a remote bundle with the local identity.
func (e *Engine) Initiate(bundle domain.PreKeyBundle) (Result, error) {
	res, err := Initiate(e.keys.Identity(), bundle)
	if err != nil {
		level.Warn(e.logger).Log("msg", "initiate failed", "peer", bundle.PeerID, "err", err)
		return Result{}, err
	}
	level.Debug(e.logger).Log("msg", "initiated", "peer", bundle.PeerID,
		"peer_fp", crypto.FingerprintIdentity(res.PeerIdentity), "opk", res.OneTimePreKeyID != "")
	return res, nil
}

// Respond resolves the pre-keys named in msg from the key store, consuming
// the one-time pre-key, and mirrors the initiator's computation. The
// one-time key is consumed only after the remaining DH inputs validate.
func (e *Engine) Respond(msg domain.PreKeyMessage) (Result, error) {
	if msg.SignedPreKeyID == "" {
		return Result{}, fmt.Errorf("%w: missing signed pre-key id", ErrHandshakeIncomplete)
	}
	spk, err := e.keys.SignedPreKey(msg.SignedPreKeyID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrHandshakeIncomplete, err)
	}
	id := e.keys.Identity()

	// Validate the initiator's points before burning a one-time key on them.
	check := make([][32]byte, 2)
	err = dhInto(check, []dhPair{
		{&spk.Priv, msg.InitiatorIdentityKey},
		{&id.XPriv, msg.EphemeralKey},
	})
	wipeAll(check)
	if err != nil {
		return Result{}, err
	}

	var opk *domain.OneTimePreKeyPair
	if msg.OneTimePreKeyID != "" {
		pair, err := e.keys.ConsumeOneTimePreKey(msg.OneTimePreKeyID)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrHandshakeIncomplete, err)
		}
		defer crypto.Wipe(pair.Priv[:])
		opk = &pair
	}

	res, err := Respond(id, spk, opk, msg)
	if err != nil {
		level.Warn(e.logger).Log("msg", "respond failed", "err", err)
		return Result{}, err
	}
	level.Debug(e.logger).Log("msg", "responded", "peer_fp", crypto.FingerprintIdentity(res.PeerIdentity),
		"spk", msg.SignedPreKeyID, "opk", msg.OneTimePreKeyID != "")
	return res, nil
}
