package crypto

import (
	"crypto/sha512"
	"errors"

	"filippo.io/edwards25519"
)

const scalarSignNonceDomain = "WaveSwap:ScalarSign:Nonce:"

// SignWithScalar produces an Ed25519 signature from a raw secret scalar.
//
// Stealth private keys are scalars (spendPriv + h mod L) with no seed, so the
// RFC 8032 key expansion cannot be used. The nonce is derived deterministically
// from the scalar and the message; the resulting signature verifies with
// ed25519.Verify against publicKey = scalar·G.
func SignWithScalar(scalar [32]byte, publicKey [32]byte, message []byte) (Signature, error) {
	a, err := edwards25519.NewScalar().SetCanonicalBytes(scalar[:])
	if err != nil {
		return nil, errors.New("signing scalar is not canonical")
	}

	expected := new(edwards25519.Point).ScalarBaseMult(a).Bytes()
	if !PublicKey(expected).Equal(PublicKey(publicKey[:])) {
		return nil, errors.New("public key does not match signing scalar")
	}

	nonceDigest := sha512.New()
	nonceDigest.Write([]byte(scalarSignNonceDomain))
	nonceDigest.Write(scalar[:])
	nonceDigest.Write(message)
	r, err := edwards25519.NewScalar().SetUniformBytes(nonceDigest.Sum(nil))
	if err != nil {
		return nil, err
	}

	R := new(edwards25519.Point).ScalarBaseMult(r).Bytes()

	challenge := sha512.New()
	challenge.Write(R)
	challenge.Write(publicKey[:])
	challenge.Write(message)
	k, err := edwards25519.NewScalar().SetUniformBytes(challenge.Sum(nil))
	if err != nil {
		return nil, err
	}

	S := edwards25519.NewScalar().MultiplyAdd(k, a, r)

	sig := make([]byte, 0, 64)
	sig = append(sig, R...)
	sig = append(sig, S.Bytes()...)
	return Signature(sig), nil
}
