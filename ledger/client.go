package ledger

import "context"

// Status is the confirmation state of a submitted transaction.
type Status int

const (
	StatusUnknown Status = iota
	StatusProcessed
	StatusConfirmed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusProcessed:
		return "processed"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SignatureStatus reports the state of a transaction. Err is set when the
// transaction failed, usually to a *ProgramError.
type SignatureStatus struct {
	Status Status
	Err    error
}

// Account is the raw state of a ledger account.
type Account struct {
	Data    []byte
	Balance uint64
}

// KeyedAccount pairs an account with its address.
type KeyedAccount struct {
	Address Address
	Account Account
}

// Client is the ledger RPC surface the protocol needs.
type Client interface {
	SendTransaction(ctx context.Context, tx *Transaction) (Signature, error)
	GetSignatureStatus(ctx context.Context, sig Signature) (*SignatureStatus, error)

	// GetAccount returns nil, nil when the account does not exist.
	GetAccount(ctx context.Context, addr Address) (*Account, error)

	// GetProgramAccounts lists program-owned accounts starting with discriminator.
	GetProgramAccounts(ctx context.Context, program Address, discriminator [8]byte) ([]KeyedAccount, error)

	GetBalance(ctx context.Context, addr Address) (uint64, error)
}
