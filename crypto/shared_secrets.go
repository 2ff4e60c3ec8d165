package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// KemPublicKey is an X25519 public key.
type KemPublicKey [32]byte

// KemPrivateKey is an X25519 private key.
type KemPrivateKey [32]byte

// GenerateKemKeyPair generates a new X25519 key pair from crypto/rand.
func GenerateKemKeyPair() (KemPublicKey, KemPrivateKey, error) {
	return GenerateKemKeyPairFrom(rand.Reader)
}

// GenerateKemKeyPairFrom generates an X25519 key pair from the given reader.
func GenerateKemKeyPairFrom(r io.Reader) (KemPublicKey, KemPrivateKey, error) {
	var privKey KemPrivateKey
	var pubKey KemPublicKey

	if _, err := io.ReadFull(r, privKey[:]); err != nil {
		return pubKey, privKey, err
	}

	pubKey = X25519Public(privKey)
	return pubKey, privKey, nil
}

// X25519Public returns the public key for an X25519 private key.
func X25519Public(privateKey KemPrivateKey) KemPublicKey {
	var pubKey KemPublicKey
	curve25519.ScalarBaseMult((*[32]byte)(&pubKey), (*[32]byte)(&privateKey))
	return pubKey
}

// X25519 performs the raw key agreement.
// Low-order peer points are rejected.
func X25519(privateKey KemPrivateKey, publicKey KemPublicKey) (SharedKey, error) {
	shared, err := curve25519.X25519(privateKey[:], publicKey[:])
	if err != nil {
		return nil, fmt.Errorf("x25519: %w", err)
	}
	return SharedKey(shared), nil
}

// DeriveSharedSecret performs ECDH key agreement and derives a 32-byte secret with HKDF-SHA256.
func DeriveSharedSecret(privateKey KemPrivateKey, publicKey KemPublicKey, info []byte) (SharedKey, error) {
	sharedPoint, err := X25519(privateKey, publicKey)
	if err != nil {
		return nil, err
	}

	kdf := hkdf.New(sha256.New, sharedPoint, nil, info)
	secret := make([]byte, 32)
	if _, err := io.ReadFull(kdf, secret); err != nil {
		return nil, err
	}

	return SharedKey(secret), nil
}
