package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
)

// Address is a 32-byte ledger account address. Wallet addresses are Ed25519
// public keys; program-derived addresses are guaranteed to be off the curve.
type Address [32]byte

// AddressFromPublicKey converts a wallet public key to its address.
func AddressFromPublicKey(pk crypto.PublicKey) Address {
	var a Address
	copy(a[:], pk)
	return a
}

// ParseAddress decodes a hex-encoded address.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("invalid address hex: %w", err)
	}
	if len(raw) != len(a) {
		return a, fmt.Errorf("invalid address length %d", len(raw))
	}
	copy(a[:], raw)
	return a, nil
}

func (a Address) Bytes() []byte { return a[:] }

func (a Address) String() string { return hex.EncodeToString(a[:]) }

func (a Address) IsZero() bool { return a == Address{} }

// PublicKey returns the address as an Ed25519 public key.
func (a Address) PublicKey() crypto.PublicKey { return crypto.NewPublicKeyFromBytes(a[:]) }

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

const (
	maxSeeds      = 16
	maxSeedLength = 32
	pdaMarker     = "ProgramDerivedAddress"
)

// Seed prefixes of the program-derived accounts.
const (
	SeedRegistry     = "registry"
	SeedAnnouncement = "announcement"
	SeedVault        = "stealth_vault"
	SeedMixerDeposit = "mixer-deposit"
	SeedMixerPool    = "mixer-pool"
	SeedTeeDeposit   = "tee-deposit"
)

var ErrOnCurve = errors.New("derived address is on the curve")

// CreateProgramAddress hashes seeds with the program id. Derived addresses
// that are valid Ed25519 points are rejected since a private key could exist.
func CreateProgramAddress(seeds [][]byte, program Address) (Address, error) {
	var out Address
	if len(seeds) > maxSeeds {
		return out, errors.New("too many seeds")
	}

	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > maxSeedLength {
			return out, errors.New("seed too long")
		}
		h.Write(seed)
	}
	h.Write(program[:])
	h.Write([]byte(pdaMarker))
	copy(out[:], h.Sum(nil))

	if crypto.IsOnCurve(out) {
		return Address{}, ErrOnCurve
	}
	return out, nil
}

// FindProgramAddress searches bump seeds from 255 downwards for the first off-curve address.
func FindProgramAddress(seeds [][]byte, program Address) (Address, uint8, error) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateProgramAddress(withBump, program)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return Address{}, 0, err
		}
	}
	return Address{}, 0, errors.New("no viable bump seed")
}

func mustFind(seeds [][]byte, program Address) (Address, uint8) {
	addr, bump, err := FindProgramAddress(seeds, program)
	if err != nil {
		// Only reachable with more than 16 seeds or seeds over 32 bytes,
		// which the fixed derivations below never produce.
		panic(err)
	}
	return addr, bump
}

// RegistryAddress derives the registry account of an owner.
func RegistryAddress(program, owner Address) (Address, uint8) {
	return mustFind([][]byte{[]byte(SeedRegistry), owner[:]}, program)
}

// AnnouncementAddress derives the announcement account for a payment nonce.
func AnnouncementAddress(program Address, nonce [32]byte) (Address, uint8) {
	return mustFind([][]byte{[]byte(SeedAnnouncement), nonce[:]}, program)
}

// VaultAddress derives the vault holding funds for a stealth public key.
func VaultAddress(program Address, stealthPub [32]byte) (Address, uint8) {
	return mustFind([][]byte{[]byte(SeedVault), stealthPub[:]}, program)
}

// MixerDepositAddress derives the deposit record for a mixer nonce.
func MixerDepositAddress(program Address, nonce [32]byte) (Address, uint8) {
	return mustFind([][]byte{[]byte(SeedMixerDeposit), nonce[:]}, program)
}

// MixerPoolAddress derives the shared mixer pool.
func MixerPoolAddress(program Address) (Address, uint8) {
	return mustFind([][]byte{[]byte(SeedMixerPool)}, program)
}

// TeeDepositAddress derives the delegated deposit record of the TeeRelayed tier.
func TeeDepositAddress(program Address, nonce [32]byte) (Address, uint8) {
	return mustFind([][]byte{[]byte(SeedTeeDeposit), nonce[:]}, program)
}
