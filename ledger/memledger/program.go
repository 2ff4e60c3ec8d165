package memledger

import (
	"errors"
	"time"

	"github.com/WaveTek-co/WaveSwap-sub000/ledger"
	"github.com/WaveTek-co/WaveSwap-sub000/stealth"
	"github.com/WaveTek-co/WaveSwap-sub000/teeproof"
)

func invalid(format string, args ...any) error {
	return ledger.NewProgramError(ledger.CodeInvalidInstruction, format, args...)
}

// accountAt returns the address of the i-th account meta, checking it exists
// and, when want is non-zero, that it is the expected derived address.
func accountAt(ix *ledger.Instruction, i int, want ledger.Address) (ledger.Address, error) {
	if i >= len(ix.Accounts) {
		return ledger.Address{}, invalid("missing account %d", i)
	}
	got := ix.Accounts[i].Address
	if !want.IsZero() && got != want {
		return ledger.Address{}, ledger.NewProgramError(ledger.CodeInvalidVault, "account %d is %s, expected %s", i, got, want)
	}
	return got, nil
}

func (l *Ledger) execute(st *state, ix *ledger.Instruction, signers map[ledger.Address]bool) error {
	if ix.ProgramID != l.cfg.Program {
		return invalid("unknown program %s", ix.ProgramID)
	}
	for _, meta := range ix.Accounts {
		if meta.IsSigner && !signers[meta.Address] {
			return ledger.NewProgramError(ledger.CodeUnauthorized, "%s did not sign", meta.Address)
		}
	}

	tag := ix.Tag()
	if l.failNext[tag] > 0 {
		l.failNext[tag]--
		return ledger.NewProgramError(ledger.CodeInjectedFailure, "injected failure for %q", tag)
	}

	args, err := ledger.ParseInstruction(ix)
	if err != nil {
		return invalid("%v", err)
	}
	if len(ix.Accounts) == 0 || !ix.Accounts[0].IsSigner {
		return ledger.NewProgramError(ledger.CodeUnauthorized, "first account must sign")
	}

	switch a := args.(type) {
	case *ledger.InitRegistryArgs:
		return l.initRegistry(st, ix, a)
	case *ledger.UploadChunkArgs:
		return l.uploadChunk(st, ix, a)
	case *ledger.FinalizeRegistryArgs:
		return l.finalizeRegistry(st, ix)
	case *ledger.AnnouncementParams:
		return l.publish(st, ix, a)
	case *ledger.FundVaultArgs:
		return l.fundVault(st, ix, a)
	case *ledger.MixerDepositArgs:
		return l.mixerDeposit(st, ix, a)
	case *ledger.MixerExecuteArgs:
		return l.mixerExecute(st, ix, a)
	case *ledger.TeeDepositArgs:
		return l.teeDeposit(st, ix, a)
	case *ledger.TeeExecuteArgs:
		return l.teeExecute(st, ix, a)
	case *ledger.TeeRefundArgs:
		return l.teeRefund(st, ix, a)
	case *ledger.ClaimParams:
		return l.claim(st, ix, a)
	default:
		return invalid("unhandled instruction %q", tag)
	}
}

// Registry

func (l *Ledger) loadRegistry(st *state, ix *ledger.Instruction) (ledger.Address, *accountRecord, *ledger.Registry, error) {
	owner := ix.Accounts[0].Address
	want, _ := ledger.RegistryAddress(l.cfg.Program, owner)
	addr, err := accountAt(ix, 1, want)
	if err != nil {
		return addr, nil, nil, err
	}
	acct, err := st.get(addr)
	if err != nil {
		return addr, nil, nil, err
	}
	if len(acct.Data) == 0 {
		return addr, acct, nil, nil
	}
	reg, err := ledger.DecodeRegistry(acct.Data)
	if err != nil {
		return addr, nil, nil, err
	}
	return addr, acct, reg, nil
}

func (l *Ledger) initRegistry(st *state, ix *ledger.Instruction, a *ledger.InitRegistryArgs) error {
	addr, acct, reg, err := l.loadRegistry(st, ix)
	if err != nil {
		return err
	}
	if reg != nil {
		return ledger.NewProgramError(ledger.CodeAlreadyInitialized, "registry %s exists", addr)
	}
	if a.MetaLen > l.cfg.MaxMetaLen {
		return invalid("meta-address length %d exceeds %d", a.MetaLen, l.cfg.MaxMetaLen)
	}
	_, bump := ledger.RegistryAddress(l.cfg.Program, ix.Accounts[0].Address)
	reg = &ledger.Registry{
		Owner:    ix.Accounts[0].Address,
		SpendPub: a.SpendPub,
		ViewPub:  a.ViewPub,
		MetaLen:  a.MetaLen,
		Bump:     bump,
	}
	acct.Data = reg.Encode()
	acct.Owner = l.cfg.Program
	st.put(addr, acct)
	return nil
}

func (l *Ledger) uploadChunk(st *state, ix *ledger.Instruction, a *ledger.UploadChunkArgs) error {
	addr, acct, reg, err := l.loadRegistry(st, ix)
	if err != nil {
		return err
	}
	switch {
	case reg == nil:
		return ledger.NewProgramError(ledger.CodeAccountNotFound, "registry %s", addr)
	case reg.Finalized:
		return ledger.NewProgramError(ledger.CodeAlreadyFinalized, "registry %s", addr)
	case a.Offset != reg.Written:
		return ledger.NewProgramError(ledger.CodeInvalidOffset, "offset %d, written %d", a.Offset, reg.Written)
	case uint64(a.Offset)+uint64(len(a.Chunk)) > uint64(reg.MetaLen):
		return ledger.NewProgramError(ledger.CodeInvalidOffset, "chunk overflows %d bytes", reg.MetaLen)
	}
	copy(reg.Meta[a.Offset:], a.Chunk)
	reg.Written += uint32(len(a.Chunk))
	acct.Data = reg.Encode()
	st.put(addr, acct)
	return nil
}

func (l *Ledger) finalizeRegistry(st *state, ix *ledger.Instruction) error {
	addr, acct, reg, err := l.loadRegistry(st, ix)
	if err != nil {
		return err
	}
	switch {
	case reg == nil:
		return ledger.NewProgramError(ledger.CodeAccountNotFound, "registry %s", addr)
	case reg.Finalized:
		return ledger.NewProgramError(ledger.CodeAlreadyFinalized, "registry %s", addr)
	case reg.Written != reg.MetaLen:
		return ledger.NewProgramError(ledger.CodeIncomplete, "written %d of %d", reg.Written, reg.MetaLen)
	}
	reg.Finalized = true
	acct.Data = reg.Encode()
	st.put(addr, acct)
	return nil
}

// Announcements and vaults

func (l *Ledger) loadAnnouncement(st *state, addr ledger.Address) (*accountRecord, *ledger.Announcement, error) {
	acct, err := st.get(addr)
	if err != nil {
		return nil, nil, err
	}
	if len(acct.Data) == 0 {
		return nil, nil, ledger.NewProgramError(ledger.CodeAccountNotFound, "announcement %s", addr)
	}
	ann, err := ledger.DecodeAnnouncement(acct.Data)
	if err != nil {
		return nil, nil, err
	}
	return acct, ann, nil
}

func (l *Ledger) publish(st *state, ix *ledger.Instruction, p *ledger.AnnouncementParams) error {
	wantAnn, _ := ledger.AnnouncementAddress(l.cfg.Program, p.Nonce)
	annAddr, err := accountAt(ix, 1, wantAnn)
	if err != nil {
		return err
	}
	wantVault, _ := ledger.VaultAddress(l.cfg.Program, p.StealthPub)
	if _, err := accountAt(ix, 2, wantVault); err != nil {
		return err
	}

	switch p.Kind {
	case ledger.KindClassical:
		if len(p.Ephemeral) != 32 {
			return invalid("classical ephemeral must be 32 bytes")
		}
	case ledger.KindHybrid:
		if len(p.Ephemeral) != stealth.HybridCiphertextSize {
			return invalid("hybrid ciphertext must be %d bytes", stealth.HybridCiphertextSize)
		}
	default:
		return invalid("unknown announcement kind %d", p.Kind)
	}

	acct, err := st.get(annAddr)
	if err != nil {
		return err
	}
	if len(acct.Data) != 0 {
		return ledger.NewProgramError(ledger.CodeNonceInUse, "announcement %s exists", annAddr)
	}
	if err := l.checkDepositTargets(st, ix, p); err != nil {
		return err
	}

	ann := &ledger.Announcement{
		Nonce:      p.Nonce,
		StealthPub: p.StealthPub,
		Vault:      wantVault,
		ViewTag:    p.ViewTag,
		Kind:       p.Kind,
		Ephemeral:  p.Ephemeral,
	}
	acct.Data = ann.Encode()
	acct.Owner = l.cfg.Program
	st.put(annAddr, acct)
	return nil
}

// checkDepositTargets rejects an announcement whose parameters differ from the
// payout commitment of a deposit already made under its nonce.
func (l *Ledger) checkDepositTargets(st *state, ix *ledger.Instruction, p *ledger.AnnouncementParams) error {
	wantMixer, _ := ledger.MixerDepositAddress(l.cfg.Program, p.Nonce)
	mixerAddr, err := accountAt(ix, 3, wantMixer)
	if err != nil {
		return err
	}
	wantTee, _ := ledger.TeeDepositAddress(l.cfg.Program, p.Nonce)
	teeAddr, err := accountAt(ix, 4, wantTee)
	if err != nil {
		return err
	}

	commitment := ledger.PayoutCommitment(*p)
	if acct, err := st.get(mixerAddr); err != nil {
		return err
	} else if len(acct.Data) != 0 {
		record, err := ledger.DecodeDepositRecord(acct.Data)
		if err != nil {
			return err
		}
		if record.Target != commitment {
			return ledger.NewProgramError(ledger.CodeTargetMismatch, "announcement differs from mixer deposit %s", mixerAddr)
		}
	}
	if acct, err := st.get(teeAddr); err != nil {
		return err
	} else if len(acct.Data) != 0 {
		record, err := ledger.DecodeTeeDepositRecord(acct.Data)
		if err != nil {
			return err
		}
		if record.Target != commitment {
			return ledger.NewProgramError(ledger.CodeTargetMismatch, "announcement differs from tee deposit %s", teeAddr)
		}
	}
	return nil
}

// checkAnnouncementTarget allows a deposit only when no announcement exists
// for its nonce or the existing one is unfunded and matches target.
func (l *Ledger) checkAnnouncementTarget(st *state, ix *ledger.Instruction, idx int, nonce, target [32]byte) error {
	wantAnn, _ := ledger.AnnouncementAddress(l.cfg.Program, nonce)
	annAddr, err := accountAt(ix, idx, wantAnn)
	if err != nil {
		return err
	}
	acct, err := st.get(annAddr)
	if err != nil {
		return err
	}
	if len(acct.Data) == 0 {
		return nil
	}
	ann, err := ledger.DecodeAnnouncement(acct.Data)
	if err != nil {
		return err
	}
	if ann.Finalized {
		return ledger.NewProgramError(ledger.CodeNonceInUse, "announcement %s already funded", annAddr)
	}
	if ledger.PayoutCommitment(ann.Params()) != target {
		return ledger.NewProgramError(ledger.CodeTargetMismatch, "announcement %s does not match the deposit target", annAddr)
	}
	return nil
}

// finalizeAnnouncement records the funded amount on an announcement whose
// vault was just credited.
func (l *Ledger) finalizeAnnouncement(st *state, addr ledger.Address, acct *accountRecord, ann *ledger.Announcement, amount uint64) {
	ann.Finalized = true
	ann.Amount = amount
	acct.Data = ann.Encode()
	st.put(addr, acct)
}

// payoutTargets checks the announcement and vault accounts at positions
// annIdx and annIdx+1 for a payout keyed by nonce.
func (l *Ledger) payoutTargets(st *state, ix *ledger.Instruction, annIdx int, nonce [32]byte) (ledger.Address, *accountRecord, *ledger.Announcement, error) {
	wantAnn, _ := ledger.AnnouncementAddress(l.cfg.Program, nonce)
	annAddr, err := accountAt(ix, annIdx, wantAnn)
	if err != nil {
		return annAddr, nil, nil, err
	}
	acct, ann, err := l.loadAnnouncement(st, annAddr)
	if err != nil {
		return annAddr, nil, nil, err
	}
	if ann.Finalized {
		return annAddr, nil, nil, ledger.NewProgramError(ledger.CodeAlreadyFinalized, "announcement %s already funded", annAddr)
	}
	derived, _ := ledger.VaultAddress(l.cfg.Program, ann.StealthPub)
	if ann.Vault != derived {
		return annAddr, nil, nil, ledger.NewProgramError(ledger.CodeInvalidVault, "announcement vault is not derived from its stealth key")
	}
	if _, err := accountAt(ix, annIdx+1, derived); err != nil {
		return annAddr, nil, nil, err
	}
	return annAddr, acct, ann, nil
}

func (l *Ledger) fundVault(st *state, ix *ledger.Instruction, a *ledger.FundVaultArgs) error {
	if a.Amount == 0 {
		return invalid("zero amount")
	}
	if len(ix.Accounts) < 3 {
		return invalid("missing accounts")
	}
	_, existing, err := l.loadAnnouncement(st, ix.Accounts[1].Address)
	if err != nil {
		return err
	}
	annAddr, acct, ann, err := l.payoutTargets(st, ix, 1, existing.Nonce)
	if err != nil {
		return err
	}
	if err := st.transfer(ix.Accounts[0].Address, ann.Vault, a.Amount); err != nil {
		return err
	}
	l.finalizeAnnouncement(st, annAddr, acct, ann, a.Amount)
	return nil
}

// verifyProof checks a TEE proof for a payout and reserves its session id.
func (l *Ledger) verifyProof(st *state, raw []byte, annAddr, vault ledger.Address) error {
	proof, err := teeproof.Parse(raw)
	if err != nil {
		return ledger.NewProgramError(ledger.CodeInvalidProof, "%v", err)
	}
	_, err = teeproof.Verify(proof, annAddr, vault, teeproof.VerifyOptions{
		EnclaveKeys:         l.cfg.EnclaveKeys,
		AllowedMeasurements: l.cfg.AllowedMeasurements,
		MaxAge:              l.cfg.ProofMaxAge,
		Now:                 l.clock.Now(),
	})
	if err != nil {
		return ledger.NewProgramError(ledger.CodeInvalidProof, "%v", err)
	}
	used, err := st.sessionUsed(proof.SessionID)
	if err != nil {
		return err
	}
	if used {
		return ledger.NewProgramError(ledger.CodeSessionReused, "session already used")
	}
	st.sessions[proof.SessionID] = true
	return nil
}

// Mixer

func (l *Ledger) mixerDeposit(st *state, ix *ledger.Instruction, a *ledger.MixerDepositArgs) error {
	if a.Amount == 0 {
		return invalid("zero amount")
	}
	wantRecord, bump := ledger.MixerDepositAddress(l.cfg.Program, a.Nonce)
	recordAddr, err := accountAt(ix, 1, wantRecord)
	if err != nil {
		return err
	}
	wantPool, _ := ledger.MixerPoolAddress(l.cfg.Program)
	if _, err := accountAt(ix, 2, wantPool); err != nil {
		return err
	}

	acct, err := st.get(recordAddr)
	if err != nil {
		return err
	}
	if len(acct.Data) != 0 {
		return ledger.NewProgramError(ledger.CodeNonceInUse, "deposit %s exists", recordAddr)
	}
	if err := l.checkAnnouncementTarget(st, ix, 3, a.Nonce, a.Target); err != nil {
		return err
	}
	if err := st.transfer(ix.Accounts[0].Address, wantPool, a.Amount); err != nil {
		return err
	}

	acct, _ = st.get(recordAddr)
	record := &ledger.DepositRecord{Nonce: a.Nonce, Target: a.Target, Amount: a.Amount, Bump: bump}
	acct.Data = record.Encode()
	acct.Owner = l.cfg.Program
	st.put(recordAddr, acct)
	return nil
}

func (l *Ledger) mixerExecute(st *state, ix *ledger.Instruction, a *ledger.MixerExecuteArgs) error {
	wantRecord, _ := ledger.MixerDepositAddress(l.cfg.Program, a.Nonce)
	recordAddr, err := accountAt(ix, 1, wantRecord)
	if err != nil {
		return err
	}
	wantPool, _ := ledger.MixerPoolAddress(l.cfg.Program)
	if _, err := accountAt(ix, 2, wantPool); err != nil {
		return err
	}

	recordAcct, err := st.get(recordAddr)
	if err != nil {
		return err
	}
	if len(recordAcct.Data) == 0 {
		return ledger.NewProgramError(ledger.CodeAccountNotFound, "deposit %s", recordAddr)
	}
	record, err := ledger.DecodeDepositRecord(recordAcct.Data)
	if err != nil {
		return err
	}
	if record.Consumed {
		return ledger.NewProgramError(ledger.CodeDepositConsumed, "deposit %s", recordAddr)
	}

	annAddr, annAcct, ann, err := l.payoutTargets(st, ix, 3, a.Nonce)
	if err != nil {
		return err
	}
	if ledger.PayoutCommitment(ann.Params()) != record.Target {
		return ledger.NewProgramError(ledger.CodeTargetMismatch, "announcement %s is not the deposit target", annAddr)
	}
	if err := l.verifyProof(st, a.Proof, annAddr, ann.Vault); err != nil {
		return err
	}
	if err := st.transfer(wantPool, ann.Vault, record.Amount); err != nil {
		return err
	}

	record.Consumed = true
	recordAcct.Data = record.Encode()
	st.put(recordAddr, recordAcct)
	l.finalizeAnnouncement(st, annAddr, annAcct, ann, record.Amount)
	return nil
}

// TEE relay

func (l *Ledger) teeDeposit(st *state, ix *ledger.Instruction, a *ledger.TeeDepositArgs) error {
	if a.Amount == 0 {
		return invalid("zero amount")
	}
	if a.Executor.IsZero() {
		return invalid("missing executor")
	}
	wantRecord, bump := ledger.TeeDepositAddress(l.cfg.Program, a.Nonce)
	recordAddr, err := accountAt(ix, 1, wantRecord)
	if err != nil {
		return err
	}
	acct, err := st.get(recordAddr)
	if err != nil {
		return err
	}
	if len(acct.Data) != 0 {
		return ledger.NewProgramError(ledger.CodeNonceInUse, "tee deposit %s exists", recordAddr)
	}
	if err := l.checkAnnouncementTarget(st, ix, 2, a.Nonce, a.Target); err != nil {
		return err
	}
	if err := st.transfer(ix.Accounts[0].Address, recordAddr, a.Amount); err != nil {
		return err
	}

	acct, _ = st.get(recordAddr)
	record := &ledger.TeeDepositRecord{
		Nonce:     a.Nonce,
		Executor:  a.Executor,
		Depositor: ix.Accounts[0].Address,
		Target:    a.Target,
		Amount:    a.Amount,
		CreatedAt: uint64(l.clock.Now().Unix()),
		Delegated: true,
		Bump:      bump,
		Sealed:    a.Sealed,
	}
	acct.Data = record.Encode()
	acct.Owner = l.cfg.Program
	st.put(recordAddr, acct)
	return nil
}

func (l *Ledger) teeExecute(st *state, ix *ledger.Instruction, a *ledger.TeeExecuteArgs) error {
	wantRecord, _ := ledger.TeeDepositAddress(l.cfg.Program, a.Nonce)
	recordAddr, err := accountAt(ix, 1, wantRecord)
	if err != nil {
		return err
	}
	recordAcct, err := st.get(recordAddr)
	if err != nil {
		return err
	}
	if len(recordAcct.Data) == 0 {
		return ledger.NewProgramError(ledger.CodeAccountNotFound, "tee deposit %s", recordAddr)
	}
	record, err := ledger.DecodeTeeDepositRecord(recordAcct.Data)
	if err != nil {
		return err
	}
	if ix.Accounts[0].Address != record.Executor {
		return ledger.NewProgramError(ledger.CodeUnauthorized, "%s is not the delegated executor", ix.Accounts[0].Address)
	}
	if record.Executed || record.Refunded {
		return ledger.NewProgramError(ledger.CodeDepositConsumed, "tee deposit %s", recordAddr)
	}

	annAddr, annAcct, ann, err := l.payoutTargets(st, ix, 2, a.Nonce)
	if err != nil {
		return err
	}
	if ledger.PayoutCommitment(ann.Params()) != record.Target {
		return ledger.NewProgramError(ledger.CodeTargetMismatch, "announcement %s is not the deposit target", annAddr)
	}
	if err := l.verifyProof(st, a.Proof, annAddr, ann.Vault); err != nil {
		return err
	}
	if err := st.transfer(recordAddr, ann.Vault, record.Amount); err != nil {
		return err
	}

	record.Executed = true
	recordAcct, _ = st.get(recordAddr)
	recordAcct.Data = record.Encode()
	st.put(recordAddr, recordAcct)
	l.finalizeAnnouncement(st, annAddr, annAcct, ann, record.Amount)
	return nil
}

func (l *Ledger) teeRefund(st *state, ix *ledger.Instruction, a *ledger.TeeRefundArgs) error {
	wantRecord, _ := ledger.TeeDepositAddress(l.cfg.Program, a.Nonce)
	recordAddr, err := accountAt(ix, 1, wantRecord)
	if err != nil {
		return err
	}
	recordAcct, err := st.get(recordAddr)
	if err != nil {
		return err
	}
	if len(recordAcct.Data) == 0 {
		return ledger.NewProgramError(ledger.CodeAccountNotFound, "tee deposit %s", recordAddr)
	}
	record, err := ledger.DecodeTeeDepositRecord(recordAcct.Data)
	if err != nil {
		return err
	}
	depositor := ix.Accounts[0].Address
	switch {
	case depositor != record.Depositor:
		return ledger.NewProgramError(ledger.CodeUnauthorized, "%s is not the depositor", depositor)
	case record.Executed || record.Refunded:
		return ledger.NewProgramError(ledger.CodeDepositConsumed, "tee deposit %s", recordAddr)
	}
	unlock := time.Unix(int64(record.CreatedAt), 0).Add(l.cfg.RefundDelay)
	if l.clock.Now().Before(unlock) {
		return ledger.NewProgramError(ledger.CodeRefundLocked, "tee deposit %s locked until %s", recordAddr, unlock.UTC().Format(time.RFC3339))
	}
	if err := st.transfer(recordAddr, depositor, recordAcct.Balance); err != nil {
		return err
	}

	record.Refunded = true
	record.Delegated = false
	recordAcct, _ = st.get(recordAddr)
	recordAcct.Data = record.Encode()
	st.put(recordAddr, recordAcct)
	return nil
}

// Claims

var errClaimAccounts = errors.New("claim requires submitter, announcement, vault and destination")

func (l *Ledger) claim(st *state, ix *ledger.Instruction, p *ledger.ClaimParams) error {
	if len(ix.Accounts) < 4 {
		return invalid("%v", errClaimAccounts)
	}
	annAddr := ix.Accounts[1].Address
	vaultAddr := ix.Accounts[2].Address
	destination := ix.Accounts[3].Address

	annAcct, ann, err := l.loadAnnouncement(st, annAddr)
	if err != nil {
		return err
	}
	derived, _ := ledger.VaultAddress(l.cfg.Program, p.StealthPub)
	if ann.StealthPub != p.StealthPub || ann.Vault != derived || vaultAddr != derived {
		return ledger.NewProgramError(ledger.CodeInvalidVault, "vault does not belong to announcement")
	}
	if ledger.DestinationHash(destination) != p.DestinationHash {
		return ledger.NewProgramError(ledger.CodeInvalidClaim, "destination hash mismatch")
	}
	if !ledger.VerifyClaimSignature(p, vaultAddr) {
		return ledger.NewProgramError(ledger.CodeInvalidClaim, "bad stealth signature")
	}
	if ann.Claimed {
		return ledger.NewProgramError(ledger.CodeAlreadyClaimed, "vault %s", vaultAddr)
	}

	vault, err := st.get(vaultAddr)
	if err != nil {
		return err
	}
	if !ann.Finalized || vault.Balance == 0 {
		return ledger.NewProgramError(ledger.CodeEmptyVault, "vault %s", vaultAddr)
	}
	if err := st.transfer(vaultAddr, destination, vault.Balance); err != nil {
		return err
	}

	ann.Claimed = true
	annAcct.Data = ann.Encode()
	st.put(annAddr, annAcct)
	return nil
}
