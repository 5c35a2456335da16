package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-kit/log/level"
	"github.com/redis/go-redis/v9"

	"ciphermesh/internal/domain"
	"ciphermesh/internal/envelope"
	"ciphermesh/internal/keystore"
	"ciphermesh/internal/protocol/x3dh"
	"ciphermesh/internal/relay"
	handshakesvc "ciphermesh/internal/services/handshake"
	messagesvc "ciphermesh/internal/services/message"
	prekeysvc "ciphermesh/internal/services/prekey"
	"ciphermesh/internal/session"
	"ciphermesh/internal/store"
)

// App is the unlocked dependency graph for one local peer.
type App struct {
	*Wire

	Keys       *keystore.Store
	Relay      *relay.Client
	Sessions   *session.Manager
	Codec      *envelope.Codec
	Prekeys    *prekeysvc.Service
	Handshakes *handshakesvc.Service
	Messages   *messagesvc.Service

	passphrase string
	redis      *redis.Client
}

// Open unlocks the key store with passphrase and builds the session layer.
func (w *Wire) Open(ctx context.Context, passphrase string) (*App, error) {
	ks, err := w.Identity.Load(passphrase)
	if err != nil {
		return nil, err
	}
	return w.build(ctx, ks, passphrase)
}

// Bind builds the session layer over a key store that was just created.
func (w *Wire) Bind(ctx context.Context, ks *keystore.Store, passphrase string) (*App, error) {
	return w.build(ctx, ks, passphrase)
}

func (w *Wire) build(ctx context.Context, ks *keystore.Store, passphrase string) (*App, error) {
	cfg := w.Config
	a := &App{Wire: w, Keys: ks, passphrase: passphrase}

	sessions, err := a.sessionStore(ctx, passphrase)
	if err != nil {
		return nil, err
	}

	rc := relay.NewClient(cfg.RelayURL, ks.Owner())
	rc.HTTP = w.HTTP
	a.Relay = rc

	a.Sessions = session.NewManager(
		session.WithStore(sessions),
		session.WithRatchetConfig(cfg.ratchetConfig()),
		session.WithLogger(w.Logger),
		session.WithMetrics(w.Metrics),
	)
	a.Codec = envelope.NewCodec(a.Sessions, w.Logger, w.Metrics)
	a.Prekeys = prekeysvc.New(ks, w.Identity, rc, cfg.OneTimePreKeyBatch, w.Logger)
	a.Handshakes = handshakesvc.New(
		x3dh.NewEngine(ks, w.Logger),
		ks.Identity().Public(),
		a.Sessions,
		rc,
		w.Peers,
		w.Logger,
		w.Metrics,
	)
	a.Messages = messagesvc.New(a.Codec, a.Handshakes, a.Sessions, rc,
		messagesvc.WithMaxAuthFailures(cfg.MaxAuthFailures),
		messagesvc.WithPersistence(),
		messagesvc.WithLogger(w.Logger),
	)
	return a, nil
}

func (a *App) sessionStore(ctx context.Context, passphrase string) (domain.SessionStore, error) {
	cfg := a.Config
	if cfg.RedisAddr == "" {
		return store.NewSessionFileStore(cfg.Home, passphrase, cfg.Scrypt)
	}
	a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		_ = a.redis.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
	}
	level.Info(a.Logger).Log("msg", "sessions stored in redis", "addr", cfg.RedisAddr)
	return store.NewRedisSessionStore(a.redis, a.Keys.Owner(), cfg.RedisTTL), nil
}

// Save seals the key store, so consumed one-time pre-keys stay consumed.
func (a *App) Save() error {
	return a.Identity.Save(a.passphrase, a.Keys)
}

// Close seals the key store, persists live sessions and releases the Redis
// connection if one was opened.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Save(); err != nil {
		errs = append(errs, err)
	}
	if err := a.Sessions.PersistAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
