package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ciphermesh/internal/domain"
)

const redisPrefixSession = "ciphermesh:session"

// RedisSessionStore keeps ratchet session blobs in Redis under
// ciphermesh:session:<owner>:<peer>. Blobs hold live key material; point it
// only at a Redis instance with the same trust as the local disk.
type RedisSessionStore struct {
	client *redis.Client
	owner  domain.PeerID
	ttl    time.Duration
}

// NewRedisSessionStore returns a store for owner's sessions. A zero ttl
// keeps blobs until deleted.
func NewRedisSessionStore(client *redis.Client, owner domain.PeerID, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, owner: owner, ttl: ttl}
}

func (s *RedisSessionStore) key(peer domain.PeerID) string {
	return fmt.Sprintf("%s:%s:%s", redisPrefixSession, s.owner, peer)
}

// Persist stores blob for peer.
func (s *RedisSessionStore) Persist(ctx context.Context, peer domain.PeerID, blob []byte) error {
	if err := s.client.Set(ctx, s.key(peer), blob, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key(peer), err)
	}
	return nil
}

// Load returns the blob for peer and whether one was stored.
func (s *RedisSessionStore) Load(ctx context.Context, peer domain.PeerID) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, s.key(peer)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", s.key(peer), err)
	}
	return b, true, nil
}

// Delete removes the blob for peer.
func (s *RedisSessionStore) Delete(ctx context.Context, peer domain.PeerID) error {
	if err := s.client.Del(ctx, s.key(peer)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", s.key(peer), err)
	}
	return nil
}

// Compile-time assertion that RedisSessionStore implements domain.SessionStore.
var _ domain.SessionStore = (*RedisSessionStore)(nil)
