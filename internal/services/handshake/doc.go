// Package handshake establishes ratchet sessions with peers.
//
// BeginSession runs X3DH as the initiator against a bundle fetched from the
// peer directory and returns the handshake envelope to transmit.
// AcceptSession completes the handshake on the responder side. Neither ever
// replaces a live session; ResetSession must be called first.
package handshake
