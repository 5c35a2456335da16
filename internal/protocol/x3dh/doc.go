// Package x3dh implements the X3DH key-agreement used to bootstrap a Double
// Ratchet session between two parties who have never communicated.
//
// # Overview
//
// X3DH lets an initiator derive a shared 32-byte secret with a responder who
// has published a pre-key bundle. The bundle contains:
//   - Identity key (X25519) and signing key (Ed25519)
//   - Signed pre-key (X25519) and its Ed25519 signature
//   - Zero or one one-time pre-key (X25519)
//
// # Flows
//
// Initiator:
//  1. Verify the signed pre-key signature.
//  2. Generate an ephemeral X25519 key pair.
//  3. Compute DH values (IKa·SPKb, EKa·IKb, EKa·SPKb[, EKa·OPKb]).
//  4. HKDF over F || DH1 || DH2 || DH3 [|| DH4] to produce the shared secret.
//  5. Return the secret, the associated data IKa || IKb, the pre-key ids used
//     and the initiator's ephemeral public key.
//
// Responder:
//  1. Receive the PreKeyMessage (initiator IK, ephemeral EK, SPK id[, OPK id]).
//  2. Look up the SPK and consume the OPK, if one was used.
//  3. Compute the mirrored DH set (SPKb·IKa, IKb·EKa, SPKb·EKa[, OPKb·EKa]).
//  4. HKDF the same transcript to the identical secret.
//
// # Errors
//
// ErrInvalidSignature is returned when the SPK signature fails verification,
// ErrHandshakeIncomplete when required key material is missing and
// ErrInvalidKeyMaterial when a DH input is not a usable curve point.
package x3dh
