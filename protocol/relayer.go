package protocol

import (
	"encoding/hex"
	"fmt"
)

// Bytes32 is a fixed 32-byte value hex-encoded in JSON.
type Bytes32 [32]byte

func (b Bytes32) String() string { return hex.EncodeToString(b[:]) }

func (b Bytes32) IsZero() bool { return b == Bytes32{} }

func (b Bytes32) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (b *Bytes32) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(raw) != len(b) {
		return fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(b[:], raw)
	return nil
}

// HexBytes is a variable-length byte string hex-encoded in JSON.
type HexBytes []byte

func (b HexBytes) MarshalText() ([]byte, error) { return []byte(hex.EncodeToString(b)), nil }

func (b *HexBytes) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	*b = raw
	return nil
}

// ExecuteMixerRequest asks the relayer to pay a mixer deposit out to its vault.
// ViewTag, Kind and Ephemeral complete the announcement, which the relayer
// publishes from its own fee payer when it does not exist yet. The sender
// never signs a transaction naming the vault.
type ExecuteMixerRequest struct {
	Nonce            Bytes32  `json:"nonce"`
	Announcement     Bytes32  `json:"announcement"`
	Vault            Bytes32  `json:"vault"`
	StealthPubkey    Bytes32  `json:"stealthPubkey"`
	ViewTag          uint8    `json:"viewTag"`
	Kind             uint8    `json:"kind"`
	Ephemeral        HexBytes `json:"ephemeral"`
	DepositSignature HexBytes `json:"depositSignature,omitempty"`
}

// ExecuteMixerResponse reports a mixer execution. Signature is the hex ledger
// signature of the mix_exec transaction.
type ExecuteMixerResponse struct {
	Nonce     Bytes32 `json:"nonce"`
	Success   bool    `json:"success"`
	Signature string  `json:"signature,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// ClaimRequest carries a claim proof for the relayer to submit.
type ClaimRequest struct {
	VaultAddress        Bytes32  `json:"vaultAddress"`
	AnnouncementAddress Bytes32  `json:"announcementAddress"`
	Destination         Bytes32  `json:"destination"`
	StealthPubkey       Bytes32  `json:"stealthPubkey"`
	Signature           HexBytes `json:"signature"`
	DestinationHash     Bytes32  `json:"destinationHash"`
}

// ClaimResponse reports a relayed claim. AlreadyClaimed is set when the vault
// had been drained by an earlier claim.
type ClaimResponse struct {
	VaultAddress   Bytes32 `json:"vaultAddress"`
	Signature      string  `json:"signature,omitempty"`
	Amount         uint64  `json:"amount"`
	AlreadyClaimed bool    `json:"alreadyClaimed,omitempty"`
}

// RelayerInfo describes a relayer: its response signing key and the address
// paying the fees of relayed transactions.
type RelayerInfo struct {
	PublicKey string  `json:"publicKey"`
	FeePayer  Bytes32 `json:"feePayer"`
	Program   Bytes32 `json:"program"`
}
