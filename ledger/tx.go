package ledger

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// Signature is an Ed25519 transaction signature. The first signature of a
// transaction identifies it.
type Signature [64]byte

func (s Signature) String() string { return hex.EncodeToString(s[:]) }

func (s Signature) IsZero() bool { return s == Signature{} }

func (s Signature) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Signature) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(raw) != len(s) {
		return fmt.Errorf("invalid signature length %d", len(raw))
	}
	copy(s[:], raw)
	return nil
}

// Transaction is an ordered, atomic list of instructions.
type Transaction struct {
	// RecentNonce makes otherwise identical transactions distinct.
	RecentNonce  [32]byte
	Instructions []Instruction
	Signatures   map[Address]Signature
}

// NewTransaction creates an unsigned transaction with a fresh random nonce.
func NewTransaction(instructions ...Instruction) (*Transaction, error) {
	if len(instructions) == 0 {
		return nil, errors.New("transaction has no instructions")
	}
	tx := &Transaction{
		Instructions: instructions,
		Signatures:   make(map[Address]Signature),
	}
	if _, err := rand.Read(tx.RecentNonce[:]); err != nil {
		return nil, err
	}
	return tx, nil
}

// RequiredSigners returns the signer accounts in first-seen order.
// The first one is the fee payer.
func (tx *Transaction) RequiredSigners() []Address {
	seen := make(map[Address]bool)
	var out []Address
	for _, ix := range tx.Instructions {
		for _, meta := range ix.Accounts {
			if meta.IsSigner && !seen[meta.Address] {
				seen[meta.Address] = true
				out = append(out, meta.Address)
			}
		}
	}
	return out
}

// Message returns the canonical bytes every signer signs.
func (tx *Transaction) Message() []byte {
	e := &encoder{}
	e.bytes([]byte("WaveSwap:Tx:")).bytes(tx.RecentNonce[:]).u16(uint16(len(tx.Instructions)))
	for _, ix := range tx.Instructions {
		e.bytes(ix.ProgramID[:]).u16(uint16(len(ix.Accounts)))
		for _, meta := range ix.Accounts {
			e.bytes(meta.Address[:]).bool(meta.IsSigner).bool(meta.IsWritable)
		}
		e.u32(uint32(len(ix.Data))).bytes(ix.Data)
	}
	return e.buf
}

// AddSignature attaches a signature for signer.
func (tx *Transaction) AddSignature(signer Address, sig []byte) error {
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("invalid signature length %d", len(sig))
	}
	if tx.Signatures == nil {
		tx.Signatures = make(map[Address]Signature)
	}
	var s Signature
	copy(s[:], sig)
	tx.Signatures[signer] = s
	return nil
}

// Signature returns the fee payer's signature, the transaction id.
func (tx *Transaction) Signature() Signature {
	signers := tx.RequiredSigners()
	if len(signers) == 0 {
		return Signature{}
	}
	return tx.Signatures[signers[0]]
}

// VerifySignatures checks that every required signer signed the message.
func (tx *Transaction) VerifySignatures() error {
	signers := tx.RequiredSigners()
	if len(signers) == 0 {
		return errors.New("transaction has no signers")
	}
	msg := tx.Message()
	for _, signer := range signers {
		sig, ok := tx.Signatures[signer]
		if !ok {
			return fmt.Errorf("missing signature for %s", signer)
		}
		if !ed25519.Verify(ed25519.PublicKey(signer[:]), msg, sig[:]) {
			return fmt.Errorf("invalid signature for %s", signer)
		}
	}
	return nil
}
