package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
)

// PublicKey is an Ed25519 public key. Wallets, relayers and attested enclaves
// are all identified by one.
type PublicKey []byte

// NewPublicKeyFromBytes copies data into a PublicKey.
func NewPublicKeyFromBytes(data []byte) PublicKey {
	return PublicKey(slices.Clone(data))
}

// NewPublicKeyFromString parses a hex-encoded 32-byte key.
func NewPublicKeyFromString(data string) (PublicKey, error) {
	raw, err := hex.DecodeString(data)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return PublicKey(raw), nil
}

func (pk PublicKey) Bytes() []byte { return pk }

// Array returns the key as a fixed 32-byte array, zero padded or truncated.
func (pk PublicKey) Array() [32]byte {
	var out [32]byte
	copy(out[:], pk)
	return out
}

// Equal compares two public keys in constant time.
func (pk PublicKey) Equal(other PublicKey) bool {
	return subtle.ConstantTimeCompare(pk, other) == 1
}

func (pk PublicKey) String() string { return hex.EncodeToString(pk) }

// PrivateKey is an Ed25519 private key in the 64-byte seed‖public form.
type PrivateKey []byte

// NewPrivateKeyFromBytes accepts a 32-byte seed or a 64-byte private key.
func NewPrivateKeyFromBytes(data []byte) PrivateKey {
	if len(data) == ed25519.SeedSize {
		return PrivateKey(ed25519.NewKeyFromSeed(data))
	}
	return PrivateKey(slices.Clone(data))
}

func (sk PrivateKey) Bytes() []byte { return sk }

// PublicKey returns the public half embedded in the private key.
func (sk PrivateKey) PublicKey() (PublicKey, error) {
	if len(sk) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid private key size")
	}
	return PublicKey(sk[ed25519.SeedSize:]), nil
}

// GenerateKeyPair generates a new Ed25519 key pair from crypto/rand.
func GenerateKeyPair() (PublicKey, PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return PublicKey(pub), PrivateKey(priv), nil
}

// Signature is a 64-byte Ed25519 signature.
type Signature []byte

func (s Signature) Bytes() []byte { return s }

// Verify checks the signature over data. Malformed keys or signatures do not
// verify.
func (s Signature) Verify(publicKey PublicKey, data []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(s) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), data, s)
}

func (s Signature) String() string { return hex.EncodeToString(s) }

// Sign signs data with an Ed25519 private key.
func Sign(privateKey PrivateKey, data []byte) (Signature, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid private key size")
	}
	return Signature(ed25519.Sign(ed25519.PrivateKey(privateKey), data)), nil
}

// SharedKey is a raw Diffie-Hellman output. It must go through a KDF before
// use as a key.
type SharedKey []byte

// Bytes returns a copy of the shared key.
func (sk SharedKey) Bytes() []byte {
	return slices.Clone(sk)
}
