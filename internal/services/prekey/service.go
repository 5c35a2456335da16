package prekey

import (
	"context"
	"errors"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"ciphermesh/internal/domain"
	"ciphermesh/internal/keystore"
	"ciphermesh/internal/services/identity"
)

// Service manages the published pre-keys of the local key store.
type Service struct {
	keys   *keystore.Store
	ids    *identity.Service
	dir    domain.PeerDirectory
	batch  int
	logger log.Logger
}

// New returns a Service. batch is the number of one-time keys uploaded per
// registration.
func New(keys *keystore.Store, ids *identity.Service, dir domain.PeerDirectory, batch int, logger log.Logger) *Service {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Service{keys: keys, ids: ids, dir: dir, batch: batch, logger: log.With(logger, "component", "prekey")}
}

// Register uploads the signed bundle and up to batch unissued one-time keys,
// then seals the key store so the uploaded keys stay marked issued. An
// exhausted pool still registers the signed part.
func (s *Service) Register(ctx context.Context, passphrase string) (int, error) {
	up, err := s.keys.DirectoryBundle(s.batch)
	if err != nil && !errors.Is(err, keystore.ErrKeyExhausted) {
		return 0, err
	}
	if errors.Is(err, keystore.ErrKeyExhausted) {
		level.Warn(s.logger).Log("msg", "registering without one-time pre-keys", "err", err)
	}
	if err := s.dir.PublishBundle(ctx, up); err != nil {
		return 0, err
	}
	if err := s.ids.Save(passphrase, s.keys); err != nil {
		return 0, err
	}
	level.Info(s.logger).Log("msg", "bundle registered", "spk", up.SignedPreKeyID, "one_time", len(up.OneTimePreKeys))
	return len(up.OneTimePreKeys), nil
}

// Replenish generates count fresh one-time keys and registers them.
func (s *Service) Replenish(ctx context.Context, passphrase string, count int) (int, error) {
	if _, err := s.keys.Replenish(count); err != nil {
		return 0, err
	}
	if err := s.ids.Save(passphrase, s.keys); err != nil {
		return 0, err
	}
	return s.Register(ctx, passphrase)
}

// RotateSignedPreKey replaces the current signed pre-key and registers the
// new bundle. The previous key stays resolvable for in-flight handshakes.
func (s *Service) RotateSignedPreKey(ctx context.Context, passphrase string) (domain.SignedPreKeyID, error) {
	spk, err := s.keys.RotateSignedPreKey()
	if err != nil {
		return "", err
	}
	if err := s.ids.Save(passphrase, s.keys); err != nil {
		return "", err
	}
	if _, err := s.Register(ctx, passphrase); err != nil {
		return "", err
	}
	return spk.ID, nil
}
