// Package commands defines the ciphermesh CLI and wires dependencies for subcommands.
//
// Commands
//
//   - init           Create the local identity and key store
//   - fingerprint    Print the identity fingerprint, or a known peer's
//   - register       Publish the pre-key bundle to the relay
//   - replenish      Generate and publish more one-time pre-keys
//   - rotate-spk     Replace the signed pre-key
//   - start-session  Run the X3DH handshake with a peer and send a first message
//   - send           Encrypt and send a message
//   - recv           Fetch and decrypt queued messages
//   - reset          Discard the session with a peer
//
// # Implementation
//
// The root command builds the pre-unlock wiring (logger, metrics, key-store
// file) before any subcommand runs. Subcommands that need keys unlock the
// store with the passphrase and seal it again on exit, so consumed one-time
// pre-keys and ratchet state survive across invocations.
package commands
