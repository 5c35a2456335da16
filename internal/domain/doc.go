// Package domain defines core data models and interfaces shared across the
// secure-channel engine. It contains plain types (keys, bundles, inbound
// envelopes) and contracts for the external collaborators (directory,
// transport, storage) only.
package domain
