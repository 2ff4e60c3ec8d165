// Package teeproof defines the attestation proof an enclave executor attaches
// to mixer and TEE-relayed payouts.
//
// A proof is a fixed 168-byte record:
//
//	commitment(32) signature(64) enclaveMeasurement(32) timestamp u64 LE(8) sessionId(32)
//
// The commitment binds the announcement and vault accounts of the payout. The
// signature is an Ed25519 signature by an attested enclave key over the domain
// separated commitment, measurement, timestamp and session id.
package teeproof

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
	"github.com/WaveTek-co/WaveSwap-sub000/ledger"
)

// Size is the encoded size of a proof.
const Size = 168

const (
	commitmentLabel = "WaveSwap:TEE:Commitment:"
	proofLabel      = "WaveSwap:TEE:Proof:"
)

var (
	ErrInvalidLength       = errors.New("teeproof: invalid length")
	ErrCommitmentMismatch  = errors.New("teeproof: commitment does not match accounts")
	ErrUnknownEnclave      = errors.New("teeproof: signature is not from an allowed enclave")
	ErrMeasurementRejected = errors.New("teeproof: enclave measurement not allowed")
	ErrExpired             = errors.New("teeproof: proof outside its validity window")
)

// Proof is a decoded TEE attestation proof.
type Proof struct {
	Commitment  [32]byte
	Signature   [64]byte
	Measurement [32]byte
	Timestamp   uint64
	SessionID   [32]byte
}

// Commitment binds a payout to its announcement and vault accounts.
func Commitment(announcement, vault ledger.Address) [32]byte {
	return crypto.SHA3([]byte(commitmentLabel), announcement[:], vault[:])
}

// SigningMessage returns the bytes covered by the enclave signature.
func (p *Proof) SigningMessage() []byte {
	msg := make([]byte, 0, len(proofLabel)+32+32+8+32)
	msg = append(msg, proofLabel...)
	msg = append(msg, p.Commitment[:]...)
	msg = append(msg, p.Measurement[:]...)
	msg = binary.LittleEndian.AppendUint64(msg, p.Timestamp)
	return append(msg, p.SessionID[:]...)
}

// Time returns the proof timestamp.
func (p *Proof) Time() time.Time {
	return time.Unix(int64(p.Timestamp), 0)
}

func (p *Proof) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, Size)
	out = append(out, p.Commitment[:]...)
	out = append(out, p.Signature[:]...)
	out = append(out, p.Measurement[:]...)
	out = binary.LittleEndian.AppendUint64(out, p.Timestamp)
	out = append(out, p.SessionID[:]...)
	return out, nil
}

// UnmarshalBinary decodes exactly Size bytes.
func (p *Proof) UnmarshalBinary(data []byte) error {
	if len(data) != Size {
		return fmt.Errorf("%w: %d bytes", ErrInvalidLength, len(data))
	}
	copy(p.Commitment[:], data[0:32])
	copy(p.Signature[:], data[32:96])
	copy(p.Measurement[:], data[96:128])
	p.Timestamp = binary.LittleEndian.Uint64(data[128:136])
	copy(p.SessionID[:], data[136:168])
	return nil
}

// Parse decodes a proof.
func Parse(data []byte) (*Proof, error) {
	var p Proof
	if err := p.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &p, nil
}

// VerifyOptions lists what a verifier trusts.
type VerifyOptions struct {
	// EnclaveKeys are the attested enclave signing keys.
	EnclaveKeys []crypto.PublicKey
	// AllowedMeasurements are digests of allowed enclave builds.
	AllowedMeasurements [][32]byte
	// MaxAge bounds the distance between Now and the proof timestamp. Zero disables the check.
	MaxAge time.Duration
	Now    time.Time
}

// Verify checks a proof against the payout accounts and the verifier's trust set.
// The returned key is the enclave that signed the proof.
func Verify(p *Proof, announcement, vault ledger.Address, opts VerifyOptions) (crypto.PublicKey, error) {
	expected := Commitment(announcement, vault)
	if p.Commitment != expected {
		return nil, ErrCommitmentMismatch
	}

	allowed := false
	for _, m := range opts.AllowedMeasurements {
		if m == p.Measurement {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, ErrMeasurementRejected
	}

	if opts.MaxAge > 0 {
		age := opts.Now.Sub(p.Time())
		if age > opts.MaxAge || age < -opts.MaxAge {
			return nil, fmt.Errorf("%w: age %s", ErrExpired, age)
		}
	}

	msg := p.SigningMessage()
	for _, key := range opts.EnclaveKeys {
		if len(key) == ed25519.PublicKeySize && ed25519.Verify(ed25519.PublicKey(key), msg, p.Signature[:]) {
			return key, nil
		}
	}
	return nil, ErrUnknownEnclave
}
