// Package ratchet implements the Double Ratchet session that follows an X3DH
// handshake.
//
// A Session holds a root key, a sending chain and a receiving chain. Every
// message advances one chain by a one-way KDF, so each message key is used
// once and then wiped. When the peer's ratchet public key changes, or when we
// send with no sending chain, a DH ratchet step mixes a fresh DH output into
// the root key and reseeds the affected chain.
//
// Out-of-order delivery is handled by caching the message keys of skipped
// counters in a bounded cache keyed by (ratchet public key, counter). The
// cache evicts by arrival order; an evicted key makes its message
// permanently undecryptable.
//
// Decrypt is staged: all derivation happens on a copy of the state and is
// committed only when the AEAD tag verifies. On failure the chains are left
// as they were, except that keys cached while advancing toward the rejected
// counter are kept together with the chain progress that produced them.
//
// Concurrency: a Session serializes its own Encrypt and Decrypt calls.
// Distinct sessions share nothing.
package ratchet
