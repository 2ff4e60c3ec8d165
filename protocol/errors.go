package protocol

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// NativeAsset names the ledger's native asset, the only one payments carry.
const NativeAsset = "native"

// Input validation. Surfaced immediately, never retried.
var (
	ErrWalletNotConnected = errors.New("wallet not connected")
	ErrNotRegistered      = errors.New("recipient not registered")
	ErrUnsupportedAsset   = errors.New("unsupported asset")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrNoRelayer          = errors.New("no relayer configured")
	ErrNoExecutor         = errors.New("no enclave executor configured")
	ErrLinkedPayer        = errors.New("announcement payer must not be the sender")
)

// Transient conditions.
var (
	// ErrTemporarilyUnavailable is returned once bounded retries are exhausted.
	ErrTemporarilyUnavailable = errors.New("ledger temporarily unavailable")

	// ErrConfirmationUnknown means the transaction was submitted but its outcome
	// could not be observed before the deadline. It may still land; callers must
	// re-check status instead of resubmitting blindly.
	ErrConfirmationUnknown = errors.New("transaction confirmation unknown")
)

// Protocol violations. Hard failures, never retried.
var (
	ErrNonceReuse        = errors.New("nonce already used")
	ErrNonceInFlight     = errors.New("another flow is using this nonce")
	ErrAlreadyRegistered = errors.New("already registered")
	ErrEmptyVault        = errors.New("vault is empty")
	ErrQuoteExpired      = errors.New("quote expired")
)

// ErrFundsSafe matches every *FundsSafeError via errors.Is.
var ErrFundsSafe = errors.New("funds safe, retry execution")

// FundsSafeError reports that a deposit landed but the downstream payout did not.
// The funds are recoverable from Holder by re-running the execution step.
type FundsSafeError struct {
	Nonce  [32]byte
	Holder [32]byte
	Amount uint64
	Cause  error
}

func (e *FundsSafeError) Error() string {
	return fmt.Sprintf("funds safe: %d held at %s for nonce %s, retry execution: %v",
		e.Amount, hex.EncodeToString(e.Holder[:]), hex.EncodeToString(e.Nonce[:]), e.Cause)
}

func (e *FundsSafeError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrFundsSafe}
	}
	return []error{ErrFundsSafe, e.Cause}
}

// IsRetrySafe reports whether an operation failing with err may be retried
// without risking a duplicate effect.
func IsRetrySafe(err error) bool {
	return errors.Is(err, ErrTemporarilyUnavailable) ||
		errors.Is(err, ErrConfirmationUnknown) ||
		errors.Is(err, ErrFundsSafe)
}
