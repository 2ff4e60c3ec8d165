// Package ledgerrpc serves a ledger.Client over HTTP and provides the
// matching remote client.
//
// Every route takes and returns CBOR bodies. Program errors travel as their
// code, so errors.Is and ledger.HasCode keep working on the client side.
// A 503 from the server is reported as ledger.ErrTransient.
package ledgerrpc

import (
	"context"
	"errors"

	"github.com/WaveTek-co/WaveSwap-sub000/ledger"
)

const contentType = "application/cbor"

const (
	pathSend          = "/ledger/send-transaction"
	pathStatus        = "/ledger/signature-status"
	pathAccount       = "/ledger/account"
	pathProgramAccts  = "/ledger/program-accounts"
	pathBalance       = "/ledger/balance"
	pathAirdrop       = "/ledger/airdrop"
	maxRequestBodyLen = 1 << 20
)

// Airdropper funds addresses on a development ledger.
// *memledger.Ledger implements it.
type Airdropper interface {
	Airdrop(ctx context.Context, addr ledger.Address, amount uint64) error
}

type txWire struct {
	RecentNonce  [32]byte             `cbor:"1,keyasint"`
	Instructions []ledger.Instruction `cbor:"2,keyasint"`
	Signers      []ledger.Address     `cbor:"3,keyasint"`
	Signatures   []ledger.Signature   `cbor:"4,keyasint"`
}

func encodeTx(tx *ledger.Transaction) *txWire {
	w := &txWire{RecentNonce: tx.RecentNonce, Instructions: tx.Instructions}
	for signer, sig := range tx.Signatures {
		w.Signers = append(w.Signers, signer)
		w.Signatures = append(w.Signatures, sig)
	}
	return w
}

func (w *txWire) decode() (*ledger.Transaction, error) {
	if len(w.Signers) != len(w.Signatures) {
		return nil, errors.New("signer and signature counts differ")
	}
	tx := &ledger.Transaction{
		RecentNonce:  w.RecentNonce,
		Instructions: w.Instructions,
		Signatures:   make(map[ledger.Address]ledger.Signature, len(w.Signers)),
	}
	for i, signer := range w.Signers {
		tx.Signatures[signer] = w.Signatures[i]
	}
	return tx, nil
}

// errorWire carries a failure. Code is zero for errors that are not program
// errors.
type errorWire struct {
	Code        ledger.ErrorCode `cbor:"1,keyasint"`
	Instruction int              `cbor:"2,keyasint"`
	Msg         string           `cbor:"3,keyasint"`
}

func encodeErr(err error) *errorWire {
	if err == nil {
		return nil
	}
	var pe *ledger.ProgramError
	if errors.As(err, &pe) {
		return &errorWire{Code: pe.Code, Instruction: pe.Instruction, Msg: pe.Msg}
	}
	return &errorWire{Msg: err.Error()}
}

func (w *errorWire) err() error {
	if w == nil {
		return nil
	}
	if w.Code != 0 {
		return &ledger.ProgramError{Code: w.Code, Instruction: w.Instruction, Msg: w.Msg}
	}
	return errors.New(w.Msg)
}

// sendResponse carries the signature of a transaction that failed in the
// program too, along with its error.
type sendResponse struct {
	Signature ledger.Signature `cbor:"1,keyasint"`
	Err       *errorWire       `cbor:"2,keyasint,omitempty"`
}

type statusRequest struct {
	Signature ledger.Signature `cbor:"1,keyasint"`
}

type statusResponse struct {
	Status ledger.Status `cbor:"1,keyasint"`
	Err    *errorWire    `cbor:"2,keyasint,omitempty"`
}

type accountRequest struct {
	Address ledger.Address `cbor:"1,keyasint"`
}

type accountResponse struct {
	Found   bool   `cbor:"1,keyasint"`
	Data    []byte `cbor:"2,keyasint"`
	Balance uint64 `cbor:"3,keyasint"`
}

type programAccountsRequest struct {
	Program       ledger.Address `cbor:"1,keyasint"`
	Discriminator [8]byte        `cbor:"2,keyasint"`
}

type keyedAccountWire struct {
	Address ledger.Address `cbor:"1,keyasint"`
	Data    []byte         `cbor:"2,keyasint"`
	Balance uint64         `cbor:"3,keyasint"`
}

type programAccountsResponse struct {
	Accounts []keyedAccountWire `cbor:"1,keyasint"`
}

type balanceResponse struct {
	Balance uint64 `cbor:"1,keyasint"`
}

type airdropRequest struct {
	Address ledger.Address `cbor:"1,keyasint"`
	Amount  uint64         `cbor:"2,keyasint"`
}
