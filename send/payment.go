package send

import (
	"errors"
	"fmt"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
	"github.com/WaveTek-co/WaveSwap-sub000/ledger"
	"github.com/WaveTek-co/WaveSwap-sub000/store"
)

// SealedPayment is what a TeeRelayed sender hands to the enclave executor:
// everything needed to publish the announcement and pay the vault. It travels
// sealed to the executor's X25519 key inside the deposit record.
type SealedPayment struct {
	Nonce        [32]byte                `cbor:"1,keyasint"`
	StealthPub   [32]byte                `cbor:"2,keyasint"`
	ViewTag      byte                    `cbor:"3,keyasint"`
	Kind         ledger.AnnouncementKind `cbor:"4,keyasint"`
	Ephemeral    []byte                  `cbor:"5,keyasint"`
	Vault        ledger.Address          `cbor:"6,keyasint"`
	Announcement ledger.Address          `cbor:"7,keyasint"`
}

// Seal encrypts p to the executor sealing key.
func (p *SealedPayment) Seal(key crypto.KemPublicKey) ([]byte, error) {
	plaintext, err := store.Marshal(p)
	if err != nil {
		return nil, err
	}
	msg, err := crypto.Seal(key, plaintext)
	if err != nil {
		return nil, fmt.Errorf("seal payment: %w", err)
	}
	return msg.Bytes(), nil
}

// AnnouncementParams returns the announcement parameters the executor publishes.
func (p *SealedPayment) AnnouncementParams() ledger.AnnouncementParams {
	return ledger.AnnouncementParams{
		Nonce:      p.Nonce,
		StealthPub: p.StealthPub,
		ViewTag:    p.ViewTag,
		Kind:       p.Kind,
		Ephemeral:  p.Ephemeral,
	}
}

// Validate checks that the addresses in p derive from its nonce and stealth key.
func (p *SealedPayment) Validate(program ledger.Address) error {
	ann, _ := ledger.AnnouncementAddress(program, p.Nonce)
	vault, _ := ledger.VaultAddress(program, p.StealthPub)
	if ann != p.Announcement || vault != p.Vault {
		return errors.New("sealed payment addresses do not match its keys")
	}
	if len(p.Ephemeral) == 0 {
		return errors.New("sealed payment has no ephemeral payload")
	}
	return nil
}

// DecodeSealedPayment parses an unsealed payment.
func DecodeSealedPayment(plaintext []byte) (*SealedPayment, error) {
	var p SealedPayment
	if err := store.Unmarshal(plaintext, &p); err != nil {
		return nil, fmt.Errorf("decode sealed payment: %w", err)
	}
	return &p, nil
}
