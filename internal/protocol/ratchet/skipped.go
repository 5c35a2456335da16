package ratchet

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"ciphermesh/internal/crypto"
	"ciphermesh/internal/domain"
)

type skippedKey struct {
	pub domain.X25519Public
	n   uint32
}

type skippedEntry struct {
	skippedKey
	mk [32]byte
}

// skippedKeys is the bounded cache of message keys for counters that were
// passed over. Values are held by pointer so they can be wiped in place.
// Lookups use Peek so the order stays the arrival order and
// eviction always drops the oldest skipped key.
type skippedKeys struct {
	cache    *lru.Cache
	max      int
	overflow func(error)
}

func newSkippedKeys(max int, overflow func(error)) *skippedKeys {
	// No evict callback: Remove on a consumed key must not count as overflow.
	c, err := lru.New(max)
	if err != nil {
		panic(err) // max is validated by Config
	}
	return &skippedKeys{cache: c, max: max, overflow: overflow}
}

func (s *skippedKeys) peek(k skippedKey) ([32]byte, bool) {
	v, ok := s.cache.Peek(k)
	if !ok {
		return [32]byte{}, false
	}
	return *v.(*[32]byte), true
}

// consume removes a key after it opened its message.
func (s *skippedKeys) consume(k skippedKey) {
	if v, ok := s.cache.Peek(k); ok {
		crypto.Wipe32(v.(*[32]byte))
		s.cache.Remove(k)
	}
}

func (s *skippedKeys) add(e skippedEntry) {
	if s.cache.Contains(e.skippedKey) {
		return
	}
	if s.cache.Len() >= s.max {
		if k, v, ok := s.cache.RemoveOldest(); ok {
			crypto.Wipe32(v.(*[32]byte))
			old := k.(skippedKey)
			if s.overflow != nil {
				s.overflow(fmt.Errorf("%w: dropped key %d of chain %x", ErrCacheOverflow, old.n, old.pub[:4]))
			}
		}
	}
	mk := e.mk
	s.cache.Add(e.skippedKey, &mk)
}

func (s *skippedKeys) len() int { return s.cache.Len() }

// entries returns the cached keys oldest first.
func (s *skippedKeys) entries() []skippedEntry {
	keys := s.cache.Keys()
	out := make([]skippedEntry, 0, len(keys))
	for _, k := range keys {
		v, ok := s.cache.Peek(k)
		if !ok {
			continue
		}
		out = append(out, skippedEntry{skippedKey: k.(skippedKey), mk: *v.(*[32]byte)})
	}
	return out
}

func wipeEntries(es []skippedEntry) {
	for i := range es {
		crypto.Wipe32(&es[i].mk)
	}
}
