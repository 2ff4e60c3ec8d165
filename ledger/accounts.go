package ledger

import (
	"errors"
	"fmt"
)

// Account discriminators, the first 8 bytes of every program-owned account.
var (
	DiscRegistry     = Tag8("REGISTRY")
	DiscAnnouncement = Tag8("ANNOUNCE")
	DiscMixerDeposit = Tag8("MIXDEPOS")
	DiscTeeDeposit   = Tag8("TEEDEPOS")
)

// AnnouncementKind distinguishes the classical and hybrid ephemeral payloads.
type AnnouncementKind uint8

const (
	KindClassical AnnouncementKind = 0
	KindHybrid    AnnouncementKind = 1
)

var ErrWrongDiscriminator = errors.New("account discriminator mismatch")

// Discriminator returns the first 8 bytes of account data.
func Discriminator(data []byte) ([8]byte, bool) {
	var d [8]byte
	if len(data) < 8 {
		return d, false
	}
	copy(d[:], data[:8])
	return d, true
}

// Registry holds a recipient's published meta-address.
//
// Layout: disc(8) owner(32) spendPub(32) viewPub(32) metaLen u32 written u32
// finalized u8 bump u8 meta[metaLen]
type Registry struct {
	Owner     Address
	SpendPub  [32]byte
	ViewPub   [32]byte
	MetaLen   uint32
	Written   uint32
	Finalized bool
	Bump      uint8
	Meta      []byte
}

// MetaAddress returns the written portion of the meta-address payload.
func (r *Registry) MetaAddress() []byte {
	return r.Meta[:r.Written]
}

func (r *Registry) Encode() []byte {
	e := &encoder{buf: make([]byte, 0, 8+32*3+10+int(r.MetaLen))}
	e.bytes(DiscRegistry[:]).bytes(r.Owner[:]).bytes(r.SpendPub[:]).bytes(r.ViewPub[:])
	e.u32(r.MetaLen).u32(r.Written).bool(r.Finalized).u8(r.Bump)
	meta := make([]byte, r.MetaLen)
	copy(meta, r.Meta)
	e.bytes(meta)
	return e.buf
}

func DecodeRegistry(data []byte) (*Registry, error) {
	d := &decoder{buf: data}
	if d.fixed8() != DiscRegistry {
		return nil, fmt.Errorf("registry: %w", ErrWrongDiscriminator)
	}
	r := &Registry{}
	r.Owner = d.fixed32()
	r.SpendPub = d.fixed32()
	r.ViewPub = d.fixed32()
	r.MetaLen = d.u32()
	r.Written = d.u32()
	r.Finalized = d.bool()
	r.Bump = d.u8()
	if d.err == nil && d.remaining() < int(r.MetaLen) {
		d.err = errShortBuffer
	}
	r.Meta = d.varBytes(int(r.MetaLen))
	if d.err != nil {
		return nil, fmt.Errorf("registry: %w", d.err)
	}
	if r.Written > r.MetaLen {
		return nil, errors.New("registry: written exceeds length")
	}
	return r, nil
}

// Announcement publishes the cryptographic material of one payment.
// It carries no sender or recipient identity.
//
// Layout: disc(8) nonce(32) stealthPub(32) vault(32) viewTag u8 kind u8
// finalized u8 claimed u8 amount u64 ephLen u16 eph[ephLen]
type Announcement struct {
	Nonce      [32]byte
	StealthPub [32]byte
	Vault      Address
	ViewTag    byte
	Kind       AnnouncementKind
	Finalized  bool
	Claimed    bool
	Amount     uint64
	Ephemeral  []byte
}

// Params returns the published parameters the announcement was created from.
func (a *Announcement) Params() AnnouncementParams {
	return AnnouncementParams{Nonce: a.Nonce, StealthPub: a.StealthPub, ViewTag: a.ViewTag, Kind: a.Kind, Ephemeral: a.Ephemeral}
}

func (a *Announcement) Encode() []byte {
	e := &encoder{buf: make([]byte, 0, 8+96+12+2+len(a.Ephemeral))}
	e.bytes(DiscAnnouncement[:]).bytes(a.Nonce[:]).bytes(a.StealthPub[:]).bytes(a.Vault[:])
	e.u8(a.ViewTag).u8(uint8(a.Kind)).bool(a.Finalized).bool(a.Claimed).u64(a.Amount)
	e.u16(uint16(len(a.Ephemeral))).bytes(a.Ephemeral)
	return e.buf
}

func DecodeAnnouncement(data []byte) (*Announcement, error) {
	d := &decoder{buf: data}
	if d.fixed8() != DiscAnnouncement {
		return nil, fmt.Errorf("announcement: %w", ErrWrongDiscriminator)
	}
	a := &Announcement{}
	a.Nonce = d.fixed32()
	a.StealthPub = d.fixed32()
	a.Vault = d.fixed32()
	a.ViewTag = d.u8()
	a.Kind = AnnouncementKind(d.u8())
	a.Finalized = d.bool()
	a.Claimed = d.bool()
	a.Amount = d.u64()
	ephLen := int(d.u16())
	a.Ephemeral = d.varBytes(ephLen)
	if d.err != nil {
		return nil, fmt.Errorf("announcement: %w", d.err)
	}
	return a, nil
}

// DepositRecord tracks a mixer deposit by nonce. The depositor is not stored.
// Target is the PayoutCommitment of the only announcement the deposit may pay.
//
// Layout: disc(8) nonce(32) target(32) amount u64 consumed u8 bump u8
type DepositRecord struct {
	Nonce    [32]byte
	Target   [32]byte
	Amount   uint64
	Consumed bool
	Bump     uint8
}

func (r *DepositRecord) Encode() []byte {
	e := &encoder{buf: make([]byte, 0, 8+64+10)}
	e.bytes(DiscMixerDeposit[:]).bytes(r.Nonce[:]).bytes(r.Target[:]).u64(r.Amount).bool(r.Consumed).u8(r.Bump)
	return e.buf
}

func DecodeDepositRecord(data []byte) (*DepositRecord, error) {
	d := &decoder{buf: data}
	if d.fixed8() != DiscMixerDeposit {
		return nil, fmt.Errorf("deposit record: %w", ErrWrongDiscriminator)
	}
	r := &DepositRecord{}
	r.Nonce = d.fixed32()
	r.Target = d.fixed32()
	r.Amount = d.u64()
	r.Consumed = d.bool()
	r.Bump = d.u8()
	if d.err != nil {
		return nil, fmt.Errorf("deposit record: %w", d.err)
	}
	return r, nil
}

// TeeDepositRecord holds funds delegated to an enclave executor. Until it is
// executed, the depositor may take the funds back after the program's refund
// delay, counted from CreatedAt (unix seconds).
//
// Layout: disc(8) nonce(32) executor(32) depositor(32) target(32) amount u64
// createdAt u64 delegated u8 executed u8 refunded u8 bump u8 sealedLen u16
// sealed[sealedLen]
type TeeDepositRecord struct {
	Nonce     [32]byte
	Executor  Address
	Depositor Address
	Target    [32]byte
	Amount    uint64
	CreatedAt uint64
	Delegated bool
	Executed  bool
	Refunded  bool
	Bump      uint8
	Sealed    []byte
}

// Pending reports whether the record still waits for its executor.
func (r *TeeDepositRecord) Pending() bool {
	return r.Delegated && !r.Executed && !r.Refunded
}

func (r *TeeDepositRecord) Encode() []byte {
	e := &encoder{buf: make([]byte, 0, 8+128+22+len(r.Sealed))}
	e.bytes(DiscTeeDeposit[:]).bytes(r.Nonce[:]).bytes(r.Executor[:]).bytes(r.Depositor[:]).bytes(r.Target[:])
	e.u64(r.Amount).u64(r.CreatedAt)
	e.bool(r.Delegated).bool(r.Executed).bool(r.Refunded).u8(r.Bump)
	e.u16(uint16(len(r.Sealed))).bytes(r.Sealed)
	return e.buf
}

func DecodeTeeDepositRecord(data []byte) (*TeeDepositRecord, error) {
	d := &decoder{buf: data}
	if d.fixed8() != DiscTeeDeposit {
		return nil, fmt.Errorf("tee deposit: %w", ErrWrongDiscriminator)
	}
	r := &TeeDepositRecord{}
	r.Nonce = d.fixed32()
	r.Executor = d.fixed32()
	r.Depositor = d.fixed32()
	r.Target = d.fixed32()
	r.Amount = d.u64()
	r.CreatedAt = d.u64()
	r.Delegated = d.bool()
	r.Executed = d.bool()
	r.Refunded = d.bool()
	r.Bump = d.u8()
	sealedLen := int(d.u16())
	r.Sealed = d.varBytes(sealedLen)
	if d.err != nil {
		return nil, fmt.Errorf("tee deposit: %w", d.err)
	}
	return r, nil
}
