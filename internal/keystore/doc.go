// Package keystore owns a peer's long-term identity, its signed pre-keys and
// its pool of one-time pre-keys.
//
// One-time keys move through three states: available, issued (handed out in
// a bundle, private half still held so the handshake can complete) and
// consumed (deleted). Issuance and consumption happen under one mutex so that
// concurrent bundle requests can never observe the same key.
package keystore
