// Package crypto provides the cryptographic primitives used by the stealth payment protocol.
//
// This package implements the low-level operations shared by key derivation,
// stealth address derivation, claim proofs and the enclave relay:
//
//   - Ed25519 keys and signatures for wallets, relayers and enclaves
//   - Explicit scalar arithmetic modulo the Ed25519 group order L
//   - Ed25519-compatible signing with a raw scalar (stealth spending keys have no seed)
//   - X25519 key agreement with HKDF key derivation
//   - Anonymous sealed boxes (X25519 + XChaCha20-Poly1305) for enclave payloads
//   - SHA3-256 hashing helpers and hash-to-scalar
//
// # Scalar Arithmetic
//
// ScalarAdd is a byte-wise little-endian addition with carry followed by one
// conditional subtraction of L. It is the operation behind
// stealthPriv = (spendPriv + H(sharedSecret)) mod L and is tested against
// filippo.io/edwards25519.
//
// # Key Management
//
// Wallet keys use the 64-byte Ed25519 private key format. Stealth keys are bare
// scalars and are signed with SignWithScalar.
package crypto
