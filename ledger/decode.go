package ledger

import (
	"crypto/ed25519"
	"fmt"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
)

// InitRegistryArgs are the arguments of reg_init.
type InitRegistryArgs struct {
	SpendPub [32]byte
	ViewPub  [32]byte
	MetaLen  uint32
}

type UploadChunkArgs struct {
	Offset uint32
	Chunk  []byte
}

type FinalizeRegistryArgs struct{}

type FundVaultArgs struct {
	Amount uint64
}

type MixerDepositArgs struct {
	Nonce  [32]byte
	Target [32]byte
	Amount uint64
}

// ExecuteArgs are the arguments of mix_exec and tee_exec.
type ExecuteArgs struct {
	Nonce [32]byte
	Proof []byte
}

type MixerExecuteArgs ExecuteArgs

type TeeExecuteArgs ExecuteArgs

type TeeDepositArgs TeeDepositParams

type TeeRefundArgs struct {
	Nonce [32]byte
}

// ParseInstruction decodes the data of a program instruction into one of the
// *Args types, *AnnouncementParams or *ClaimParams. Trailing bytes are rejected.
func ParseInstruction(ix *Instruction) (any, error) {
	if len(ix.Data) < 8 {
		return nil, fmt.Errorf("instruction data too short")
	}
	d := &decoder{buf: ix.Body()}
	var out any

	switch ix.Tag() {
	case TagInitRegistry:
		out = &InitRegistryArgs{SpendPub: d.fixed32(), ViewPub: d.fixed32(), MetaLen: d.u32()}
	case TagUploadChunk:
		a := &UploadChunkArgs{Offset: d.u32()}
		a.Chunk = d.varBytes(int(d.u16()))
		out = a
	case TagFinalizeRegistry:
		out = &FinalizeRegistryArgs{}
	case TagPublish:
		p := &AnnouncementParams{Nonce: d.fixed32(), StealthPub: d.fixed32(), ViewTag: d.u8()}
		p.Kind = AnnouncementKind(d.u8())
		p.Ephemeral = d.varBytes(int(d.u16()))
		out = p
	case TagFundVault:
		out = &FundVaultArgs{Amount: d.u64()}
	case TagMixerDeposit:
		out = &MixerDepositArgs{Nonce: d.fixed32(), Target: d.fixed32(), Amount: d.u64()}
	case TagMixerExecute:
		out = &MixerExecuteArgs{Nonce: d.fixed32(), Proof: d.varBytes(TEEProofSize)}
	case TagTeeDeposit:
		a := &TeeDepositArgs{Nonce: d.fixed32(), Executor: d.fixed32(), Target: d.fixed32(), Amount: d.u64()}
		a.Sealed = d.varBytes(int(d.u16()))
		out = a
	case TagTeeExecute:
		out = &TeeExecuteArgs{Nonce: d.fixed32(), Proof: d.varBytes(TEEProofSize)}
	case TagTeeRefund:
		out = &TeeRefundArgs{Nonce: d.fixed32()}
	case TagClaim:
		p := &ClaimParams{StealthPub: d.fixed32()}
		copy(p.Signature[:], d.take(64))
		p.DestinationHash = d.fixed32()
		out = p
	default:
		return nil, fmt.Errorf("unknown instruction tag %q", ix.Tag())
	}

	if d.err != nil {
		return nil, fmt.Errorf("instruction %q: %w", ix.Tag(), d.err)
	}
	if d.remaining() != 0 {
		return nil, fmt.Errorf("instruction %q: %d trailing bytes", ix.Tag(), d.remaining())
	}
	return out, nil
}

const (
	destinationHashLabel = "WaveSwap:DestinationHash:"
	claimMessagePrefix   = "claim:"
)

// DestinationHash commits a claim to its payout destination.
func DestinationHash(destination Address) [32]byte {
	return crypto.SHA3([]byte(destinationHashLabel), destination[:])
}

// ClaimMessage is the message signed by the stealth key to authorize a claim.
func ClaimMessage(vault Address, destinationHash [32]byte) []byte {
	msg := make([]byte, 0, len(claimMessagePrefix)+64)
	msg = append(msg, claimMessagePrefix...)
	msg = append(msg, vault[:]...)
	return append(msg, destinationHash[:]...)
}

// VerifyClaimSignature checks a claim authorization against the stealth public key.
func VerifyClaimSignature(p *ClaimParams, vault Address) bool {
	return ed25519.Verify(ed25519.PublicKey(p.StealthPub[:]), ClaimMessage(vault, p.DestinationHash), p.Signature[:])
}
