package ledger

import (
	"context"
	"sync"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
	"github.com/WaveTek-co/WaveSwap-sub000/protocol"
)

// Wallet signs messages and transactions on behalf of a user.
// PublicKey returns nil while the wallet is not connected.
type Wallet interface {
	PublicKey() crypto.PublicKey
	SignMessage(ctx context.Context, msg []byte) (crypto.Signature, error)
	SignTransaction(ctx context.Context, tx *Transaction) error
}

// KeypairWallet is an in-process wallet backed by an Ed25519 key.
type KeypairWallet struct {
	mu           sync.RWMutex
	priv         crypto.PrivateKey
	pub          crypto.PublicKey
	disconnected bool
}

// NewKeypairWallet wraps an existing private key.
func NewKeypairWallet(priv crypto.PrivateKey) (*KeypairWallet, error) {
	pub, err := priv.PublicKey()
	if err != nil {
		return nil, err
	}
	return &KeypairWallet{priv: priv, pub: pub}, nil
}

// GenerateKeypairWallet creates a wallet with a fresh key.
func GenerateKeypairWallet() (*KeypairWallet, error) {
	_, priv, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return NewKeypairWallet(priv)
}

func (w *KeypairWallet) PublicKey() crypto.PublicKey {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.disconnected {
		return nil
	}
	return w.pub
}

// Address returns the wallet address regardless of connection state.
func (w *KeypairWallet) Address() Address {
	return AddressFromPublicKey(w.pub)
}

// Disconnect simulates the user disconnecting the wallet.
func (w *KeypairWallet) Disconnect() {
	w.mu.Lock()
	w.disconnected = true
	w.mu.Unlock()
}

func (w *KeypairWallet) SignMessage(_ context.Context, msg []byte) (crypto.Signature, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.disconnected {
		return nil, protocol.ErrWalletNotConnected
	}
	return crypto.Sign(w.priv, msg)
}

// SignTransaction adds the wallet's signature if it is a required signer.
func (w *KeypairWallet) SignTransaction(_ context.Context, tx *Transaction) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.disconnected {
		return protocol.ErrWalletNotConnected
	}
	addr := AddressFromPublicKey(w.pub)
	for _, signer := range tx.RequiredSigners() {
		if signer != addr {
			continue
		}
		sig, err := crypto.Sign(w.priv, tx.Message())
		if err != nil {
			return err
		}
		return tx.AddSignature(addr, sig)
	}
	return nil
}

// WalletAddress returns the address of a connected wallet.
func WalletAddress(w Wallet) (Address, error) {
	if w == nil {
		return Address{}, protocol.ErrWalletNotConnected
	}
	pk := w.PublicKey()
	if len(pk) != 32 {
		return Address{}, protocol.ErrWalletNotConnected
	}
	return AddressFromPublicKey(pk), nil
}
