// Package message seals, opens, sends and receives messages over
// established ratchet sessions.
//
// The transport calls HandleEnvelope explicitly for every envelope it
// receives; Receive does that for each envelope pulled from the relay.
// Repeated authentication failures from one peer surface as
// ErrDesynchronized so the caller can reset and re-handshake. The service
// never resets a session on its own.
package message
