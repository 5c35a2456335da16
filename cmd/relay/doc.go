// Package main runs the in-memory HTTP relay used by ciphermesh during
// development and tests. It stores published pre-key bundles and queues
// encrypted envelopes for recipients until they fetch them.
//
// HTTP API
//
//	POST /v1/bundles
//	    Store a peer's signed bundle and a batch of one-time pre-keys.
//
//	GET /v1/bundles/{peer}
//	    Return {peer}'s bundle with at most one one-time pre-key, which is
//	    never handed out again.
//
//	POST /v1/messages/{peer} { "from": ..., "data": ... }
//	    Enqueue an opaque envelope for {peer}. Replies 202 with its id.
//
//	GET /v1/messages/{peer}?limit=N
//	    Return up to N queued envelopes for {peer}, oldest first.
//
//	POST /v1/messages/{peer}/ack { "count": N }
//	    Drop the first N queued envelopes for {peer}.
//
//	GET /healthz, GET /metrics
//
// Behaviour
//
//   - All state is held in memory and lost on process exit.
//   - Responses are JSON. Non-2xx statuses carry a short error message.
//   - Requests are counted and timed per route in Prometheus metrics and
//     optionally rate limited per client IP.
//   - The default listen address is :8080.
//
// The relay never sees plaintext or private keys; it only stores ciphertext
// and public bundles.
package main
