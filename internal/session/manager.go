package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"ciphermesh/internal/domain"
	"ciphermesh/internal/metrics"
	"ciphermesh/internal/protocol/ratchet"
	"ciphermesh/internal/protocol/x3dh"
)

var (
	// ErrSessionNotFound is returned when no session exists for a peer.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned when restoring over a live session.
	ErrSessionExists = errors.New("session already exists")
)

// Manager holds one ratchet.Session per remote peer.
type Manager struct {
	mu       sync.RWMutex
	sessions map[domain.PeerID]*ratchet.Session

	store   domain.SessionStore
	cfg     ratchet.Config
	logger  log.Logger
	metrics *metrics.Metrics
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore sets the SessionStore used by Persist, Load, Evict, Reset and
// the lazy path of Lookup.
func WithStore(s domain.SessionStore) Option {
	return func(m *Manager) { m.store = s }
}

// WithRatchetConfig sets the tunables of every session the Manager creates.
func WithRatchetConfig(cfg ratchet.Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the collectors updated by the Manager.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager returns an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[domain.PeerID]*ratchet.Session),
		logger:   log.NewNopLogger(),
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.New(nil)
	}
	m.logger = log.With(m.logger, "component", "session")
	return m
}

// ratchetConfig returns the session config with overflow reporting bound to
// peer.
func (m *Manager) ratchetConfig(peer domain.PeerID) ratchet.Config {
	cfg := m.cfg
	next := cfg.OnOverflow
	cfg.OnOverflow = func(err error) {
		m.metrics.SkippedEvictions.Inc()
		level.Warn(m.logger).Log("msg", "skipped key evicted", "peer", peer, "err", err)
		if next != nil {
			next(err)
		}
	}
	return cfg
}

// GetOrCreate returns the live session for peer, creating it from res when
// none exists. created reports whether res was used. A live session is never
// replaced.
func (m *Manager) GetOrCreate(peer domain.PeerID, res x3dh.Result) (sess *ratchet.Session, created bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[peer]; ok {
		return s, false, nil
	}
	if res.Initiator() {
		sess, err = ratchet.NewInitiator(res.SharedSecret, res.AssociatedData, res.PeerRatchetKey, m.ratchetConfig(peer))
	} else {
		sess, err = ratchet.NewResponder(res.SharedSecret, res.AssociatedData, res.LocalRatchetKey, m.ratchetConfig(peer))
	}
	if err != nil {
		return nil, false, err
	}
	m.sessions[peer] = sess
	m.metrics.SessionsLive.Set(float64(len(m.sessions)))
	level.Info(m.logger).Log("msg", "session established", "peer", peer, "initiator", res.Initiator())
	return sess, true, nil
}

// Lookup returns the session for peer. When none is live and a store is
// configured, the persisted session is loaded and installed.
func (m *Manager) Lookup(ctx context.Context, peer domain.PeerID) (*ratchet.Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[peer]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}
	if m.store == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, peer)
	}

	blob, found, err := m.store.Load(ctx, peer)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", peer, err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, peer)
	}
	restored, err := ratchet.FromSnapshot(blob, m.ratchetConfig(peer))
	if err != nil {
		return nil, fmt.Errorf("restore session %s: %w", peer, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another caller may have won the race.
	if s, ok := m.sessions[peer]; ok {
		return s, nil
	}
	m.sessions[peer] = restored
	m.metrics.SessionsLive.Set(float64(len(m.sessions)))
	level.Debug(m.logger).Log("msg", "session loaded", "peer", peer)
	return restored, nil
}

// Has reports whether a session for peer is live in memory.
func (m *Manager) Has(peer domain.PeerID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[peer]
	return ok
}

// Peers returns the peers with a live session.
func (m *Manager) Peers() []domain.PeerID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.PeerID, 0, len(m.sessions))
	for p := range m.sessions {
		out = append(out, p)
	}
	return out
}

// Reset discards the session for peer, in memory and in the store, so the
// next contact requires a fresh handshake.
func (m *Manager) Reset(ctx context.Context, peer domain.PeerID) error {
	m.mu.Lock()
	delete(m.sessions, peer)
	m.metrics.SessionsLive.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Delete(ctx, peer); err != nil {
			return fmt.Errorf("delete session %s: %w", peer, err)
		}
	}
	level.Info(m.logger).Log("msg", "session reset", "peer", peer)
	return nil
}

// Evict persists the session for peer and drops it from memory. It is a
// no-op for peers without a live session.
func (m *Manager) Evict(ctx context.Context, peer domain.PeerID) error {
	if err := m.Persist(ctx, peer); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}
	m.mu.Lock()
	delete(m.sessions, peer)
	m.metrics.SessionsLive.Set(float64(len(m.sessions)))
	m.mu.Unlock()
	level.Debug(m.logger).Log("msg", "session evicted", "peer", peer)
	return nil
}

// Serialize returns an opaque blob holding the live session for peer.
func (m *Manager) Serialize(peer domain.PeerID) ([]byte, error) {
	m.mu.RLock()
	s, ok := m.sessions[peer]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, peer)
	}
	return s.Snapshot()
}

// Restore installs a session from a Serialize blob. It fails with
// ErrSessionExists if peer already has a live session.
func (m *Manager) Restore(peer domain.PeerID, blob []byte) error {
	s, err := ratchet.FromSnapshot(blob, m.ratchetConfig(peer))
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[peer]; ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, peer)
	}
	m.sessions[peer] = s
	m.metrics.SessionsLive.Set(float64(len(m.sessions)))
	return nil
}

// Persist writes the live session for peer to the store.
func (m *Manager) Persist(ctx context.Context, peer domain.PeerID) error {
	if m.store == nil {
		return errors.New("session: no store configured")
	}
	blob, err := m.Serialize(peer)
	if err != nil {
		return err
	}
	if err := m.store.Persist(ctx, peer, blob); err != nil {
		return fmt.Errorf("persist session %s: %w", peer, err)
	}
	return nil
}

// PersistAll writes every live session to the store.
func (m *Manager) PersistAll(ctx context.Context) error {
	var errs []error
	for _, p := range m.Peers() {
		if err := m.Persist(ctx, p); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Load installs the persisted session for peer. It fails with
// ErrSessionExists if peer already has a live session.
func (m *Manager) Load(ctx context.Context, peer domain.PeerID) error {
	if m.store == nil {
		return errors.New("session: no store configured")
	}
	blob, found, err := m.store.Load(ctx, peer)
	if err != nil {
		return fmt.Errorf("load session %s: %w", peer, err)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, peer)
	}
	return m.Restore(peer, blob)
}
