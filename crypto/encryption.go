package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const sealedBoxInfo = "WaveSwap sealed box v1"

// EncryptedMessage is an anonymous sealed box addressed to an X25519 key.
// Format: ephemeral pubkey (32 bytes) || nonce (24 bytes) || ciphertext+tag
type EncryptedMessage struct {
	EphemeralPubKey KemPublicKey
	Nonce           []byte // XChaCha20-Poly1305 nonce
	Ciphertext      []byte // Encrypted data with auth tag
}

// Seal encrypts plaintext to the recipient's X25519 public key.
// The sender is anonymous; only the recipient's private key can open the box.
func Seal(recipientPubKey KemPublicKey, plaintext []byte) (*EncryptedMessage, error) {
	ephemeralPub, ephemeralPriv, err := GenerateKemKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}

	aead, err := sealedBoxAEAD(ephemeralPriv, recipientPubKey, ephemeralPub, recipientPubKey)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, sealedBoxAD(ephemeralPub, recipientPubKey))

	return &EncryptedMessage{
		EphemeralPubKey: ephemeralPub,
		Nonce:           nonce,
		Ciphertext:      ciphertext,
	}, nil
}

// Open decrypts a sealed box with the recipient's private key.
func Open(recipientPrivKey KemPrivateKey, msg *EncryptedMessage) ([]byte, error) {
	recipientPub := X25519Public(recipientPrivKey)

	aead, err := sealedBoxAEAD(recipientPrivKey, msg.EphemeralPubKey, msg.EphemeralPubKey, recipientPub)
	if err != nil {
		return nil, err
	}

	if len(msg.Nonce) != aead.NonceSize() {
		return nil, errors.New("invalid nonce size")
	}

	plaintext, err := aead.Open(nil, msg.Nonce, msg.Ciphertext, sealedBoxAD(msg.EphemeralPubKey, recipientPub))
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}

	return plaintext, nil
}

// Bytes serializes an encrypted message.
func (m *EncryptedMessage) Bytes() []byte {
	result := make([]byte, 0, len(m.EphemeralPubKey)+len(m.Nonce)+len(m.Ciphertext))
	result = append(result, m.EphemeralPubKey[:]...)
	result = append(result, m.Nonce...)
	result = append(result, m.Ciphertext...)
	return result
}

// ParseEncryptedMessage deserializes an encrypted message.
func ParseEncryptedMessage(data []byte) (*EncryptedMessage, error) {
	const pubKeyLen = 32
	const nonceLen = chacha20poly1305.NonceSizeX
	minLen := pubKeyLen + nonceLen + chacha20poly1305.Overhead

	if len(data) < minLen {
		return nil, errors.New("encrypted message too short")
	}

	msg := &EncryptedMessage{
		Nonce:      append([]byte(nil), data[pubKeyLen:pubKeyLen+nonceLen]...),
		Ciphertext: append([]byte(nil), data[pubKeyLen+nonceLen:]...),
	}
	copy(msg.EphemeralPubKey[:], data[:pubKeyLen])
	return msg, nil
}

func sealedBoxAEAD(priv KemPrivateKey, peer KemPublicKey, ephemeralPub, recipientPub KemPublicKey) (cipher.AEAD, error) {
	info := sealedBoxAD(ephemeralPub, recipientPub)
	key, err := DeriveSharedSecret(priv, peer, info)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return aead, nil
}

func sealedBoxAD(ephemeralPub, recipientPub KemPublicKey) []byte {
	ad := make([]byte, 0, len(sealedBoxInfo)+64)
	ad = append(ad, sealedBoxInfo...)
	ad = append(ad, ephemeralPub[:]...)
	ad = append(ad, recipientPub[:]...)
	return ad
}
