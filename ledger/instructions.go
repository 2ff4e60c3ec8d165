package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
)

// Instruction tags. Every instruction payload starts with one of these
// fixed 8-byte ASCII tags followed by little-endian fields.
var (
	TagInitRegistry     = Tag8("reg_init")
	TagUploadChunk      = Tag8("reg_chnk")
	TagFinalizeRegistry = Tag8("reg_finl")
	TagPublish          = Tag8("ann_publ")
	TagFundVault        = Tag8("vlt_fund")
	TagMixerDeposit     = Tag8("mix_depo")
	TagMixerExecute     = Tag8("mix_exec")
	TagTeeDeposit       = Tag8("tee_depo")
	TagTeeExecute       = Tag8("tee_exec")
	TagTeeRefund        = Tag8("tee_rfnd")
	TagClaim            = Tag8("vlt_clam")
)

// TEEProofSize is the encoded size of a TEE attestation proof.
const TEEProofSize = 168

// AccountMeta describes an account referenced by an instruction.
type AccountMeta struct {
	Address    Address
	IsSigner   bool
	IsWritable bool
}

// Instruction is an opaque program invocation: program id, ordered accounts and data.
type Instruction struct {
	ProgramID Address
	Accounts  []AccountMeta
	Data      []byte
}

// Tag returns the instruction's 8-byte tag.
func (ix *Instruction) Tag() [8]byte {
	var t [8]byte
	copy(t[:], ix.Data)
	return t
}

// Body returns the instruction data after the tag.
func (ix *Instruction) Body() []byte {
	if len(ix.Data) < 8 {
		return nil
	}
	return ix.Data[8:]
}

func signer(a Address) AccountMeta   { return AccountMeta{Address: a, IsSigner: true, IsWritable: true} }
func writable(a Address) AccountMeta { return AccountMeta{Address: a, IsWritable: true} }
func readonly(a Address) AccountMeta { return AccountMeta{Address: a} }

func newData(tag [8]byte) *encoder {
	e := &encoder{}
	e.bytes(tag[:])
	return e
}

// InitRegistry creates the owner's registry with its classical keys and the
// total length of the meta-address that will be uploaded in chunks.
func InitRegistry(program, owner Address, spendPub, viewPub [32]byte, metaLen uint32) Instruction {
	registry, _ := RegistryAddress(program, owner)
	data := newData(TagInitRegistry).bytes(spendPub[:]).bytes(viewPub[:]).u32(metaLen)
	return Instruction{
		ProgramID: program,
		Accounts:  []AccountMeta{signer(owner), writable(registry)},
		Data:      data.buf,
	}
}

// UploadChunk writes chunk at offset into the owner's registry.
func UploadChunk(program, owner Address, offset uint32, chunk []byte) (Instruction, error) {
	if len(chunk) > 0xffff {
		return Instruction{}, errors.New("chunk too large")
	}
	registry, _ := RegistryAddress(program, owner)
	data := newData(TagUploadChunk).u32(offset).u16(uint16(len(chunk))).bytes(chunk)
	return Instruction{
		ProgramID: program,
		Accounts:  []AccountMeta{signer(owner), writable(registry)},
		Data:      data.buf,
	}, nil
}

// FinalizeRegistry makes the owner's registry immutable.
func FinalizeRegistry(program, owner Address) Instruction {
	registry, _ := RegistryAddress(program, owner)
	return Instruction{
		ProgramID: program,
		Accounts:  []AccountMeta{signer(owner), writable(registry)},
		Data:      newData(TagFinalizeRegistry).buf,
	}
}

// AnnouncementParams is the cryptographic material published for one payment.
type AnnouncementParams struct {
	Nonce      [32]byte
	StealthPub [32]byte
	ViewTag    byte
	Kind       AnnouncementKind
	Ephemeral  []byte
}

// PublishAnnouncement creates the announcement for a payment nonce.
// The payer only funds the account rent; it is not recorded in the account.
// The deposit records of the nonce are passed so the program can reject
// parameters that differ from a deposit's payout commitment.
func PublishAnnouncement(program, payer Address, p AnnouncementParams) (Instruction, error) {
	if len(p.Ephemeral) == 0 || len(p.Ephemeral) > 0xffff {
		return Instruction{}, fmt.Errorf("invalid ephemeral payload length %d", len(p.Ephemeral))
	}
	announcement, _ := AnnouncementAddress(program, p.Nonce)
	vault, _ := VaultAddress(program, p.StealthPub)
	mixerRecord, _ := MixerDepositAddress(program, p.Nonce)
	teeRecord, _ := TeeDepositAddress(program, p.Nonce)
	data := newData(TagPublish).bytes(p.Nonce[:]).bytes(p.StealthPub[:]).u8(p.ViewTag).u8(uint8(p.Kind))
	data.u16(uint16(len(p.Ephemeral))).bytes(p.Ephemeral)
	return Instruction{
		ProgramID: program,
		Accounts: []AccountMeta{
			signer(payer), writable(announcement), readonly(vault), readonly(mixerRecord), readonly(teeRecord),
		},
		Data: data.buf,
	}, nil
}

// FundVault transfers amount from payer into the vault and finalizes the announcement.
func FundVault(program, payer Address, nonce, stealthPub [32]byte, amount uint64) Instruction {
	announcement, _ := AnnouncementAddress(program, nonce)
	vault, _ := VaultAddress(program, stealthPub)
	return Instruction{
		ProgramID: program,
		Accounts:  []AccountMeta{signer(payer), writable(announcement), writable(vault)},
		Data:      newData(TagFundVault).u64(amount).buf,
	}
}

// PayoutCommitment binds a deposit to the announcement it may pay into. The
// program only publishes or executes against announcements whose parameters
// hash to the target recorded at deposit time.
func PayoutCommitment(p AnnouncementParams) [32]byte {
	var lengths [4]byte
	binary.LittleEndian.PutUint16(lengths[2:], uint16(len(p.Ephemeral)))
	lengths[0] = p.ViewTag
	lengths[1] = byte(p.Kind)
	return crypto.SHA3([]byte(payoutCommitmentLabel), p.Nonce[:], p.StealthPub[:], lengths[:], p.Ephemeral)
}

const payoutCommitmentLabel = "WaveSwap:PayoutTarget:"

// MixerDeposit moves amount from the depositor into the shared pool under a
// deposit record committed to target.
func MixerDeposit(program, depositor Address, nonce, target [32]byte, amount uint64) Instruction {
	record, _ := MixerDepositAddress(program, nonce)
	pool, _ := MixerPoolAddress(program)
	announcement, _ := AnnouncementAddress(program, nonce)
	return Instruction{
		ProgramID: program,
		Accounts:  []AccountMeta{signer(depositor), writable(record), writable(pool), readonly(announcement)},
		Data:      newData(TagMixerDeposit).bytes(nonce[:]).bytes(target[:]).u64(amount).buf,
	}
}

// MixerExecute pays a deposit out of the pool into the vault, authorized by a TEE proof.
func MixerExecute(program, relayer Address, nonce, stealthPub [32]byte, proof []byte) (Instruction, error) {
	if len(proof) != TEEProofSize {
		return Instruction{}, fmt.Errorf("tee proof must be %d bytes", TEEProofSize)
	}
	record, _ := MixerDepositAddress(program, nonce)
	pool, _ := MixerPoolAddress(program)
	announcement, _ := AnnouncementAddress(program, nonce)
	vault, _ := VaultAddress(program, stealthPub)
	return Instruction{
		ProgramID: program,
		Accounts: []AccountMeta{
			signer(relayer), writable(record), writable(pool), writable(announcement), writable(vault),
		},
		Data: newData(TagMixerExecute).bytes(nonce[:]).bytes(proof).buf,
	}, nil
}

// TeeDepositParams describes a deposit delegated to an enclave executor.
type TeeDepositParams struct {
	Nonce    [32]byte
	Executor Address
	Target   [32]byte
	Amount   uint64
	Sealed   []byte
}

// TeeDeposit funds a delegated deposit record and hands execution to an enclave executor.
func TeeDeposit(program, depositor Address, p TeeDepositParams) (Instruction, error) {
	if len(p.Sealed) > 0xffff {
		return Instruction{}, errors.New("sealed payload too large")
	}
	record, _ := TeeDepositAddress(program, p.Nonce)
	announcement, _ := AnnouncementAddress(program, p.Nonce)
	data := newData(TagTeeDeposit).bytes(p.Nonce[:]).bytes(p.Executor[:]).bytes(p.Target[:]).u64(p.Amount)
	data.u16(uint16(len(p.Sealed))).bytes(p.Sealed)
	return Instruction{
		ProgramID: program,
		Accounts:  []AccountMeta{signer(depositor), writable(record), readonly(announcement)},
		Data:      data.buf,
	}, nil
}

// TeeRefund returns an unexecuted delegated deposit to its depositor once the
// refund delay has passed.
func TeeRefund(program, depositor Address, nonce [32]byte) Instruction {
	record, _ := TeeDepositAddress(program, nonce)
	return Instruction{
		ProgramID: program,
		Accounts:  []AccountMeta{signer(depositor), writable(record)},
		Data:      newData(TagTeeRefund).bytes(nonce[:]).buf,
	}
}

// TeeExecute pays a delegated deposit into the vault. Only the delegated executor may sign.
func TeeExecute(program, executor Address, nonce, stealthPub [32]byte, proof []byte) (Instruction, error) {
	if len(proof) != TEEProofSize {
		return Instruction{}, fmt.Errorf("tee proof must be %d bytes", TEEProofSize)
	}
	record, _ := TeeDepositAddress(program, nonce)
	announcement, _ := AnnouncementAddress(program, nonce)
	vault, _ := VaultAddress(program, stealthPub)
	return Instruction{
		ProgramID: program,
		Accounts: []AccountMeta{
			signer(executor), writable(record), writable(announcement), writable(vault),
		},
		Data: newData(TagTeeExecute).bytes(nonce[:]).bytes(proof).buf,
	}, nil
}

// ClaimParams carries the claim proof fields.
type ClaimParams struct {
	StealthPub      [32]byte
	Signature       [64]byte
	DestinationHash [32]byte
}

// Claim drains the vault to destination. The submitter pays fees only; the
// authorization is the stealth key signature in the claim proof.
func Claim(program, submitter, announcement, destination Address, p ClaimParams) Instruction {
	vault, _ := VaultAddress(program, p.StealthPub)
	data := newData(TagClaim).bytes(p.StealthPub[:]).bytes(p.Signature[:]).bytes(p.DestinationHash[:])
	return Instruction{
		ProgramID: program,
		Accounts: []AccountMeta{
			signer(submitter), writable(announcement), writable(vault), writable(destination),
		},
		Data: data.buf,
	}
}
