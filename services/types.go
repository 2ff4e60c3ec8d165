package services

import (
	"encoding/hex"
	"fmt"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
	"github.com/WaveTek-co/WaveSwap-sub000/protocol"
)

// EnclaveInfo is the public identity of an enclave executor.
// This is the canonical type used throughout the system for enclave identity.
type EnclaveInfo struct {
	// SigningKey is the hex Ed25519 key that signs TEE proofs and ledger transactions.
	SigningKey string `json:"signing_key"`
	// SealingKey is the hex X25519 key senders seal payment instructions to.
	SealingKey  string `json:"sealing_key"`
	Endpoint    string `json:"endpoint"`
	Attestation []byte `json:"attestation,omitempty"`
}

// ParseSigningKey returns the parsed signing public key.
func (e *EnclaveInfo) ParseSigningKey() (crypto.PublicKey, error) {
	pk, err := crypto.NewPublicKeyFromString(e.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("invalid signing key hex: %w", err)
	}
	if len(pk) != 32 {
		return nil, fmt.Errorf("invalid signing key length %d", len(pk))
	}
	return pk, nil
}

// ParseSealingKey returns the parsed X25519 sealing key.
func (e *EnclaveInfo) ParseSealingKey() (crypto.KemPublicKey, error) {
	var key crypto.KemPublicKey
	raw, err := hex.DecodeString(e.SealingKey)
	if err != nil {
		return key, fmt.Errorf("invalid sealing key hex: %w", err)
	}
	if len(raw) != len(key) {
		return key, fmt.Errorf("invalid sealing key length %d", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// RegisteredEnclave is a verified registry entry.
type RegisteredEnclave struct {
	Signed            *protocol.Signed[EnclaveInfo] `json:"signed"`
	MeasurementDigest string                        `json:"measurement_digest,omitempty"`
}

// EnclaveListResponse contains all registered enclaves.
type EnclaveListResponse struct {
	Enclaves []*RegisteredEnclave `json:"enclaves"`
}

// EnclaveRegistrationResponse confirms a registration.
type EnclaveRegistrationResponse struct {
	Success           bool   `json:"success"`
	SigningKey        string `json:"signing_key"`
	MeasurementDigest string `json:"measurement_digest,omitempty"`
}
