package stealth

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
	"github.com/WaveTek-co/WaveSwap-sub000/ledger"
)

// KeyDerivationMessage is the fixed message a wallet signs to derive its stealth keys.
const KeyDerivationMessage = "WaveSwap Stealth Keys v1"

// StealthKeyPair holds the long-term spend and view keys of a recipient.
// SpendPriv is a canonical Ed25519 scalar, ViewPriv an X25519 secret.
type StealthKeyPair struct {
	SpendPriv [32]byte
	SpendPub  [32]byte
	ViewPriv  [32]byte
	ViewPub   [32]byte
}

// DeriveKeys deterministically derives stealth keys from a wallet signature.
func DeriveKeys(signature []byte) (*StealthKeyPair, error) {
	if len(signature) == 0 {
		return nil, errors.New("empty signature")
	}

	spendSeed := crypto.SHA3(signature, []byte("spend"))
	viewSeed := crypto.SHA3(signature, []byte("view"))

	kp := &StealthKeyPair{
		SpendPriv: crypto.ReduceScalar(spendSeed[:]),
		ViewPriv:  viewSeed,
	}
	spendPub, err := crypto.ScalarBaseMult(kp.SpendPriv)
	if err != nil {
		return nil, err
	}
	kp.SpendPub = spendPub
	kp.ViewPub = crypto.X25519Public(crypto.KemPrivateKey(kp.ViewPriv))
	return kp, nil
}

// DeriveKeysFromWallet asks the wallet to sign KeyDerivationMessage and derives the keys.
func DeriveKeysFromWallet(ctx context.Context, wallet ledger.Wallet) (*StealthKeyPair, error) {
	if _, err := ledger.WalletAddress(wallet); err != nil {
		return nil, err
	}
	sig, err := wallet.SignMessage(ctx, []byte(KeyDerivationMessage))
	if err != nil {
		return nil, fmt.Errorf("signing key derivation message: %w", err)
	}
	return DeriveKeys(sig)
}

// NewRandomKeyPair derives a stealth key pair from 64 random bytes.
func NewRandomKeyPair(rand io.Reader) (*StealthKeyPair, error) {
	seed := make([]byte, 64)
	if _, err := io.ReadFull(rand, seed); err != nil {
		return nil, err
	}
	return DeriveKeys(seed)
}

// ViewKey returns the classical view key of the pair.
func (kp *StealthKeyPair) ViewKey() *ClassicalViewKey {
	return &ClassicalViewKey{Priv: kp.ViewPriv, Pub: kp.ViewPub}
}

// Recipient returns a matcher for classical announcements addressed to this pair.
func (kp *StealthKeyPair) Recipient() *Recipient {
	return &Recipient{SpendPriv: kp.SpendPriv, SpendPub: kp.SpendPub, View: kp.ViewKey()}
}
