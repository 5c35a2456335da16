// Package app wires application dependencies for the CLI.
//
// NewWire builds what is available before the key store is unlocked: the
// logger, metrics, the sealed key-store file and the identity service.
// Wire.Open unlocks the key store with the passphrase and builds the rest of
// the graph (relay client, handshake engine, session manager, codec and
// services) as an App for commands to use.
package app
