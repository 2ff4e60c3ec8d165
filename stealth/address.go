package stealth

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
)

// Kind selects the key agreement used for a payment.
type Kind uint8

const (
	Classical Kind = iota
	Hybrid
)

func (k Kind) String() string {
	if k == Hybrid {
		return "hybrid"
	}
	return "classical"
}

const scalarLabel = "WaveSwap:Stealth:Scalar:"

// SendConfig is everything a sender publishes for one payment.
type SendConfig struct {
	Kind            Kind
	StealthPubkey   [32]byte
	EphemeralPubkey [32]byte
	ViewTag         byte

	// Ciphertext is the hybrid payload ctMLKEM ‖ ephX25519Pub, nil for classical sends.
	Ciphertext []byte
}

// Ephemeral returns the bytes carried by the announcement.
func (c *SendConfig) Ephemeral() []byte {
	if c.Kind == Hybrid {
		return c.Ciphertext
	}
	return append([]byte(nil), c.EphemeralPubkey[:]...)
}

// ViewKey recovers the per-payment shared secret from an announcement's
// ephemeral payload.
type ViewKey interface {
	SharedSecret(ephemeralOrCiphertext []byte) ([32]byte, error)
}

// ClassicalViewKey is an X25519 view key.
type ClassicalViewKey struct {
	Priv [32]byte
	Pub  [32]byte
}

func (vk *ClassicalViewKey) SharedSecret(ephemeral []byte) ([32]byte, error) {
	if len(ephemeral) != 32 {
		return [32]byte{}, fmt.Errorf("classical ephemeral must be 32 bytes, got %d", len(ephemeral))
	}
	return classicalShared(crypto.KemPrivateKey(vk.Priv), crypto.KemPublicKey(ephemeral), vk.Pub, [32]byte(ephemeral))
}

// classicalShared computes SHA3-256(X25519(priv, peer) ‖ ephemeralPub ‖ viewPub).
func classicalShared(priv crypto.KemPrivateKey, peer crypto.KemPublicKey, viewPub, ephemeralPub [32]byte) ([32]byte, error) {
	dh, err := crypto.X25519(priv, peer)
	if err != nil {
		return [32]byte{}, err
	}
	return crypto.SHA3(dh, ephemeralPub[:], viewPub[:]), nil
}

// stealthScalar maps a shared secret to the scalar tweak h.
func stealthScalar(shared [32]byte) [32]byte {
	return crypto.HashToScalar([]byte(scalarLabel), shared[:])
}

// stealthPublic returns spendPub + h·G.
func stealthPublic(spendPub [32]byte, shared [32]byte) ([32]byte, error) {
	hG, err := crypto.ScalarBaseMult(stealthScalar(shared))
	if err != nil {
		return [32]byte{}, err
	}
	return crypto.PointAdd(spendPub, hG)
}

// DeriveSendAddress derives a one-time classical destination for the
// recipient's spend and view keys. A nil ephemeralPriv draws a fresh key.
func DeriveSendAddress(spendPub, viewPub [32]byte, ephemeralPriv *[32]byte) (*SendConfig, error) {
	var ephPriv crypto.KemPrivateKey
	if ephemeralPriv != nil {
		ephPriv = *ephemeralPriv
	} else if _, err := rand.Read(ephPriv[:]); err != nil {
		return nil, err
	}
	ephPub := crypto.X25519Public(ephPriv)

	shared, err := classicalShared(ephPriv, crypto.KemPublicKey(viewPub), viewPub, ephPub)
	if err != nil {
		return nil, fmt.Errorf("view key agreement: %w", err)
	}
	stealthPub, err := stealthPublic(spendPub, shared)
	if err != nil {
		return nil, fmt.Errorf("invalid spend key: %w", err)
	}

	return &SendConfig{
		Kind:            Classical,
		StealthPubkey:   stealthPub,
		EphemeralPubkey: ephPub,
		ViewTag:         shared[0],
	}, nil
}

// CheckViewTag is the cheap prefilter run on every announcement. Malformed
// input never matches.
func CheckViewTag(vk ViewKey, ephemeralOrCiphertext []byte, expected byte) bool {
	shared, err := vk.SharedSecret(ephemeralOrCiphertext)
	if err != nil {
		return false
	}
	return shared[0] == expected
}

// DeriveStealthPrivateKey recovers the one-time key pair of a payment:
// stealthPriv = spendPriv + h mod L.
func DeriveStealthPrivateKey(spendPriv [32]byte, vk ViewKey, ephemeralOrCiphertext []byte) (priv, pub [32]byte, err error) {
	if !crypto.IsCanonicalScalar(spendPriv) {
		return priv, pub, errors.New("spend key is not a canonical scalar")
	}
	shared, err := vk.SharedSecret(ephemeralOrCiphertext)
	if err != nil {
		return priv, pub, err
	}
	priv = crypto.ScalarAdd(spendPriv, stealthScalar(shared))
	pub, err = crypto.ScalarBaseMult(priv)
	return priv, pub, err
}

// Match is a confirmed payment destination with its spending key.
type Match struct {
	StealthPriv [32]byte
	StealthPub  [32]byte
}

// Recipient holds what a receiving client needs to recognize its payments.
type Recipient struct {
	SpendPriv [32]byte
	SpendPub  [32]byte
	View      ViewKey
}

// CheckTag runs only the view-tag prefilter.
func (r *Recipient) CheckTag(ephemeral []byte, viewTag byte) bool {
	return CheckViewTag(r.View, ephemeral, viewTag)
}

// Match checks whether an announcement pays this recipient. A mismatch is
// never an error.
func (r *Recipient) Match(stealthPub [32]byte, ephemeral []byte, viewTag byte) (*Match, bool) {
	shared, err := r.View.SharedSecret(ephemeral)
	if err != nil || shared[0] != viewTag {
		return nil, false
	}
	if !crypto.IsCanonicalScalar(r.SpendPriv) {
		return nil, false
	}

	priv := crypto.ScalarAdd(r.SpendPriv, stealthScalar(shared))
	pub, err := crypto.ScalarBaseMult(priv)
	if err != nil {
		return nil, false
	}
	if subtle.ConstantTimeCompare(pub[:], stealthPub[:]) != 1 {
		return nil, false
	}
	return &Match{StealthPriv: priv, StealthPub: pub}, true
}
