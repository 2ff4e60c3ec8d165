package stealth

import (
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"github.com/fxamacker/cbor/v2"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
)

// Hybrid sizes.
const (
	MLKEMPublicKeySize  = mlkem768.PublicKeySize
	MLKEMPrivateKeySize = mlkem768.PrivateKeySize
	MLKEMCiphertextSize = mlkem768.CiphertextSize

	// HybridMetaAddressSize is mlkemPub ‖ x25519Pub.
	HybridMetaAddressSize = MLKEMPublicKeySize + 32

	// HybridCiphertextSize is ctMLKEM ‖ ephX25519Pub.
	HybridCiphertextSize = MLKEMCiphertextSize + 32
)

// xwingLabel is the X-Wing combiner label `\.//^\`.
var xwingLabel = []byte{0x5c, 0x2e, 0x2f, 0x2f, 0x5e, 0x5c}

var scheme kem.Scheme = mlkem768.Scheme()

// HybridKeyPair is the ML-KEM-768 + X25519 view key pair.
type HybridKeyPair struct {
	MLKEMPublic  []byte   `cbor:"1,keyasint"`
	MLKEMSecret  []byte   `cbor:"2,keyasint"`
	X25519Public [32]byte `cbor:"3,keyasint"`
	X25519Secret [32]byte `cbor:"4,keyasint"`
}

// HybridBundle pairs a hybrid view key with an independent classical spend/view pair.
// It is generated randomly, so callers must persist it.
type HybridBundle struct {
	Classical StealthKeyPair `cbor:"1,keyasint"`
	Hybrid    HybridKeyPair  `cbor:"2,keyasint"`
}

// GenerateHybridBundle creates a fresh bundle from rand.
func GenerateHybridBundle(rand io.Reader) (*HybridBundle, error) {
	seed := make([]byte, scheme.SeedSize())
	if _, err := io.ReadFull(rand, seed); err != nil {
		return nil, err
	}
	pk, sk := scheme.DeriveKeyPair(seed)
	mlkemPub, err := pk.MarshalBinary()
	if err != nil {
		return nil, err
	}
	mlkemSecret, err := sk.MarshalBinary()
	if err != nil {
		return nil, err
	}

	xPub, xPriv, err := crypto.GenerateKemKeyPairFrom(rand)
	if err != nil {
		return nil, err
	}

	classical, err := NewRandomKeyPair(rand)
	if err != nil {
		return nil, err
	}

	return &HybridBundle{
		Classical: *classical,
		Hybrid: HybridKeyPair{
			MLKEMPublic:  mlkemPub,
			MLKEMSecret:  mlkemSecret,
			X25519Public: xPub,
			X25519Secret: xPriv,
		},
	}, nil
}

// MetaAddress returns the published hybrid meta-address.
func (b *HybridBundle) MetaAddress() []byte {
	out := make([]byte, 0, HybridMetaAddressSize)
	out = append(out, b.Hybrid.MLKEMPublic...)
	return append(out, b.Hybrid.X25519Public[:]...)
}

func (b *HybridBundle) MarshalBinary() ([]byte, error) {
	return cbor.Marshal(b)
}

// UnmarshalHybridBundle decodes and validates a bundle written by MarshalBinary.
func UnmarshalHybridBundle(data []byte) (*HybridBundle, error) {
	var b HybridBundle
	if err := cbor.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decoding hybrid bundle: %w", err)
	}
	if len(b.Hybrid.MLKEMPublic) != MLKEMPublicKeySize || len(b.Hybrid.MLKEMSecret) != MLKEMPrivateKeySize {
		return nil, errors.New("hybrid bundle has invalid ML-KEM key sizes")
	}
	if crypto.X25519Public(b.Hybrid.X25519Secret) != b.Hybrid.X25519Public {
		return nil, errors.New("hybrid bundle X25519 keys do not match")
	}
	return &b, nil
}

// ViewKey returns the hybrid view key.
func (b *HybridBundle) ViewKey() (*HybridViewKey, error) {
	sk, err := scheme.UnmarshalBinaryPrivateKey(b.Hybrid.MLKEMSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid ML-KEM private key: %w", err)
	}
	return &HybridViewKey{
		MLKEMPrivate: sk,
		X25519Priv:   b.Hybrid.X25519Secret,
		X25519Pub:    b.Hybrid.X25519Public,
	}, nil
}

// Recipient returns a matcher accepting both hybrid and classical announcements.
func (b *HybridBundle) Recipient() (*Recipient, error) {
	hvk, err := b.ViewKey()
	if err != nil {
		return nil, err
	}
	return &Recipient{
		SpendPriv: b.Classical.SpendPriv,
		SpendPub:  b.Classical.SpendPub,
		View:      &CombinedViewKey{Classical: b.Classical.ViewKey(), Hybrid: hvk},
	}, nil
}

// HybridViewKey decapsulates hybrid ciphertexts.
type HybridViewKey struct {
	MLKEMPrivate kem.PrivateKey
	X25519Priv   [32]byte
	X25519Pub    [32]byte
}

func (vk *HybridViewKey) SharedSecret(ciphertext []byte) ([32]byte, error) {
	if len(ciphertext) != HybridCiphertextSize {
		return [32]byte{}, fmt.Errorf("hybrid ciphertext must be %d bytes, got %d", HybridCiphertextSize, len(ciphertext))
	}
	ssM, err := scheme.Decapsulate(vk.MLKEMPrivate, ciphertext[:MLKEMCiphertextSize])
	if err != nil {
		return [32]byte{}, err
	}
	ephPub := [32]byte(ciphertext[MLKEMCiphertextSize:])
	ssX, err := crypto.X25519(crypto.KemPrivateKey(vk.X25519Priv), crypto.KemPublicKey(ephPub))
	if err != nil {
		return [32]byte{}, err
	}
	return combine(ssM, ssX, ephPub, vk.X25519Pub), nil
}

// combine is the X-Wing style combiner over both shared secrets and the X25519 transcript.
func combine(ssMLKEM, ssX25519 []byte, ephPub, recipientPub [32]byte) [32]byte {
	return crypto.SHA3(xwingLabel, ssMLKEM, ssX25519, ephPub[:], recipientPub[:])
}

// CombinedViewKey dispatches on the payload length to the classical or hybrid key.
type CombinedViewKey struct {
	Classical *ClassicalViewKey
	Hybrid    *HybridViewKey
}

func (vk *CombinedViewKey) SharedSecret(ephemeralOrCiphertext []byte) ([32]byte, error) {
	switch {
	case len(ephemeralOrCiphertext) == 32 && vk.Classical != nil:
		return vk.Classical.SharedSecret(ephemeralOrCiphertext)
	case len(ephemeralOrCiphertext) == HybridCiphertextSize && vk.Hybrid != nil:
		return vk.Hybrid.SharedSecret(ephemeralOrCiphertext)
	default:
		return [32]byte{}, fmt.Errorf("unsupported ephemeral payload of %d bytes", len(ephemeralOrCiphertext))
	}
}

// DeriveHybridSendAddress derives a one-time destination against a hybrid
// meta-address. The stealth key is still spendPub + h·G.
func DeriveHybridSendAddress(meta []byte, spendPub [32]byte, rand io.Reader) (*SendConfig, error) {
	if len(meta) != HybridMetaAddressSize {
		return nil, fmt.Errorf("hybrid meta-address must be %d bytes, got %d", HybridMetaAddressSize, len(meta))
	}
	pk, err := scheme.UnmarshalBinaryPublicKey(meta[:MLKEMPublicKeySize])
	if err != nil {
		return nil, fmt.Errorf("invalid ML-KEM public key: %w", err)
	}
	recipientX := [32]byte(meta[MLKEMPublicKeySize:])

	encSeed := make([]byte, scheme.EncapsulationSeedSize())
	if _, err := io.ReadFull(rand, encSeed); err != nil {
		return nil, err
	}
	ctM, ssM, err := scheme.EncapsulateDeterministically(pk, encSeed)
	if err != nil {
		return nil, fmt.Errorf("ML-KEM encapsulation: %w", err)
	}

	ephPub, ephPriv, err := crypto.GenerateKemKeyPairFrom(rand)
	if err != nil {
		return nil, err
	}
	ssX, err := crypto.X25519(ephPriv, crypto.KemPublicKey(recipientX))
	if err != nil {
		return nil, fmt.Errorf("X25519 agreement: %w", err)
	}

	shared := combine(ssM, ssX, ephPub, recipientX)
	stealthPub, err := stealthPublic(spendPub, shared)
	if err != nil {
		return nil, fmt.Errorf("invalid spend key: %w", err)
	}

	ciphertext := make([]byte, 0, HybridCiphertextSize)
	ciphertext = append(ciphertext, ctM...)
	ciphertext = append(ciphertext, ephPub[:]...)

	return &SendConfig{
		Kind:            Hybrid,
		StealthPubkey:   stealthPub,
		EphemeralPubkey: ephPub,
		ViewTag:         shared[0],
		Ciphertext:      ciphertext,
	}, nil
}
