// Package protocol holds the pieces shared by every component of the stealth
// payment client: signed service envelopes, configuration, the error taxonomy
// and the injectable clock.
//
// # Signed Envelopes
//
// Signed[T] wraps a JSON-serializable object with an Ed25519 signature over the
// serialized object and the signer's public key. The relayer signs every
// response this way and clients pin the relayer's key with RecoverFrom.
//
// # Error Taxonomy
//
// Errors fall into five classes:
//
//   - Input validation (ErrWalletNotConnected, ErrNotRegistered, ...): returned
//     immediately, never retried.
//   - Transient (ErrTemporarilyUnavailable, ErrConfirmationUnknown): the
//     orchestrators retry with bounded exponential backoff, then surface these.
//   - Cryptographic mismatch: never an error. A view tag or stealth key that
//     does not match simply means "not for this recipient".
//   - Fund safety (*FundsSafeError): a deposit landed but the payout did not.
//     The money sits in the mixer pool or deposit record and the execution can
//     be retried.
//   - Protocol violation (ErrNonceReuse, ErrAlreadyRegistered, ErrEmptyVault,
//     ErrQuoteExpired): hard failures.
//
// # Clock
//
// Polling loops take a Clock. Production code uses SystemClock; tests use
// ManualClock, optionally in AutoAdvance mode.
package protocol
