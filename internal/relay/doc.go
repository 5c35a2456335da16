// Package relay is the store-and-forward collaborator peers use to find each
// other's pre-key bundles and exchange opaque envelopes.
//
// Server keeps, per peer, the last registered bundle, a queue of one-time
// pre-keys handed out at most one per fetch, and a mailbox of envelopes.
// Client talks to a Server over HTTP and implements domain.PeerDirectory and
// domain.Transport.
//
// The relay never sees plaintext. It does not authenticate senders; the
// ratchet does that end to end.
package relay
