// Package send runs the sender side of a stealth payment.
//
// One Orchestrator drives the three privacy tiers:
//
//   - Direct publishes the announcement and funds the vault in a single
//     transaction signed by the sender.
//   - Mixer parks the amount in the shared mixer pool and asks a relayer to
//     publish the announcement and pay the vault out of the pool with a TEE
//     proof, so the sender's wallet never signs a transaction naming the vault.
//   - TeeRelayed funds a deposit record delegated to an attested enclave
//     executor, which publishes the announcement and pays the vault itself.
//
// Both deposits commit to the announcement they pay (ledger.PayoutCommitment),
// so a third party who reads the nonce cannot redirect or block the payout.
//
// The pending execution is stored before a deposit is submitted. Unless the
// ledger rejected the deposit, a failure from then on is reported as
// *protocol.FundsSafeError and RetryExecution drives the payout again. An
// unpaid TeeRelayed deposit can be taken back with Refund after the program's
// refund delay.
package send

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/WaveTek-co/WaveSwap-sub000/ledger"
	"github.com/WaveTek-co/WaveSwap-sub000/metrics"
	"github.com/WaveTek-co/WaveSwap-sub000/protocol"
	"github.com/WaveTek-co/WaveSwap-sub000/registration"
	"github.com/WaveTek-co/WaveSwap-sub000/services"
	"github.com/WaveTek-co/WaveSwap-sub000/stealth"
	"github.com/WaveTek-co/WaveSwap-sub000/store"
)

// PendingBucket holds executions whose deposit landed but whose payout has
// not been observed, keyed by hex nonce.
const PendingBucket = "send-pending"

// Tier is the privacy level of a payment.
type Tier int

const (
	TierDirect Tier = iota
	TierMixer
	TierTeeRelayed
)

func (t Tier) String() string {
	switch t {
	case TierDirect:
		return "direct"
	case TierMixer:
		return "mixer"
	case TierTeeRelayed:
		return "tee-relayed"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// ParseTier parses the String form of a tier.
func ParseTier(s string) (Tier, error) {
	for _, t := range []Tier{TierDirect, TierMixer, TierTeeRelayed} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown privacy tier %q", s)
}

// Relayer executes mixer payouts. *relayer.Client implements it.
type Relayer interface {
	ExecuteMixer(ctx context.Context, req *protocol.ExecuteMixerRequest) (*protocol.ExecuteMixerResponse, error)
}

// Request describes one payment.
type Request struct {
	Tier   Tier
	Wallet ledger.Wallet

	// Recipient are the published keys of the payee. When nil they are
	// resolved from the registry of RecipientOwner.
	Recipient      *registration.RecipientKeys
	RecipientOwner ledger.Address

	Amount uint64
	// Asset names what is paid. Only the ledger's native asset is supported;
	// empty selects it.
	Asset string
	// Deadline, when set, is checked before every step.
	Deadline time.Time
	// Nonce pins the payment nonce. A fresh random nonce is used when nil.
	Nonce *[32]byte

	// AnnouncementPayer, when set, publishes the Mixer tier announcement
	// before the deposit. It must not be Wallet. By default the relayer
	// publishes it together with the payout.
	AnnouncementPayer ledger.Wallet
	// Executor is the enclave of the TeeRelayed tier.
	Executor *services.EnclaveInfo
}

// Receipt describes a completed payment.
type Receipt struct {
	Tier          Tier
	Kind          stealth.Kind
	Nonce         [32]byte
	StealthPubkey [32]byte
	Vault         ledger.Address
	Announcement  ledger.Address
	Amount        uint64
	Signatures    []ledger.Signature
}

// Pending is a payment whose funds left the sender but did not reach the vault yet.
type Pending struct {
	Tier             Tier               `cbor:"1,keyasint"`
	Kind             stealth.Kind       `cbor:"2,keyasint"`
	Nonce            [32]byte           `cbor:"3,keyasint"`
	StealthPub       [32]byte           `cbor:"4,keyasint"`
	Announcement     ledger.Address     `cbor:"5,keyasint"`
	Vault            ledger.Address     `cbor:"6,keyasint"`
	Holder           ledger.Address     `cbor:"7,keyasint"`
	Amount           uint64             `cbor:"8,keyasint"`
	DepositSignature ledger.Signature   `cbor:"9,keyasint"`
	Signatures       []ledger.Signature `cbor:"10,keyasint"`
	ViewTag          byte               `cbor:"11,keyasint"`
	Ephemeral        []byte             `cbor:"12,keyasint"`
}

// announcementParams returns the announcement the deposit is committed to.
func (p *Pending) announcementParams() ledger.AnnouncementParams {
	return ledger.AnnouncementParams{
		Nonce:      p.Nonce,
		StealthPub: p.StealthPub,
		ViewTag:    p.ViewTag,
		Kind:       announcementKind(p.Kind),
		Ephemeral:  p.Ephemeral,
	}
}

func (p *Pending) receipt() *Receipt {
	return &Receipt{
		Tier:          p.Tier,
		Kind:          p.Kind,
		Nonce:         p.Nonce,
		StealthPubkey: p.StealthPub,
		Vault:         p.Vault,
		Announcement:  p.Announcement,
		Amount:        p.Amount,
		Signatures:    p.Signatures,
	}
}

func (p *Pending) fundsSafe(cause error) error {
	return &protocol.FundsSafeError{Nonce: p.Nonce, Holder: p.Holder, Amount: p.Amount, Cause: cause}
}

// TeeStatus is the state of a TeeRelayed deposit record.
type TeeStatus struct {
	Exists    bool
	Delegated bool
	Executed  bool
	Refunded  bool
}

type options struct {
	relayer   Relayer
	clock     protocol.Clock
	store     store.Store
	logger    *slog.Logger
	metrics   *metrics.Metrics
	submitter *ledger.Submitter
}

// Option configures an Orchestrator.
type Option func(*options)

// WithRelayer sets the relayer of the Mixer tier.
func WithRelayer(r Relayer) Option { return func(o *options) { o.relayer = r } }

// WithClock sets the clock of deadlines and the TeeRelayed poll.
func WithClock(c protocol.Clock) Option { return func(o *options) { o.clock = c } }

// WithStore persists pending executions in st instead of process memory.
func WithStore(st store.Store) Option { return func(o *options) { o.store = st } }

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

func WithSubmitter(s *ledger.Submitter) Option { return func(o *options) { o.submitter = s } }

// Orchestrator sends payments.
type Orchestrator struct {
	program   ledger.Address
	cfg       *protocol.Config
	client    ledger.Client
	submitter *ledger.Submitter
	relayer   Relayer
	clock     protocol.Clock
	store     store.Store
	logger    *slog.Logger
	metrics   *metrics.Metrics
	locks     *nonceLocks
}

// New creates an orchestrator for the program in cfg.
func New(cfg *protocol.Config, client ledger.Client, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		cfg = protocol.DefaultConfig()
	}
	program, err := ledger.ParseAddress(cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("program id: %w", err)
	}
	if client == nil {
		return nil, errors.New("send requires a ledger client")
	}

	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewUnregistered()
	}
	if o.store == nil {
		o.store = store.NewMemoryStore()
	}
	if o.clock == nil {
		if o.submitter != nil {
			o.clock = o.submitter.Clock()
		} else {
			o.clock = protocol.SystemClock{}
		}
	}
	if o.submitter == nil {
		o.submitter = ledger.NewSubmitter(client, cfg, o.clock, o.logger).WithMetrics(o.metrics)
	}

	return &Orchestrator{
		program:   program,
		cfg:       cfg,
		client:    client,
		submitter: o.submitter,
		relayer:   o.relayer,
		clock:     o.clock,
		store:     o.store,
		logger:    o.logger,
		metrics:   o.metrics,
		locks:     newNonceLocks(),
	}, nil
}

// Send runs one payment through its privacy tier.
func (o *Orchestrator) Send(ctx context.Context, req Request) (*Receipt, error) {
	rec, err := o.send(ctx, req)
	o.metrics.Sends.WithLabelValues(req.Tier.String(), resultLabel(err)).Inc()
	if err != nil {
		return nil, err
	}
	o.logger.Info("payment sent", "tier", rec.Tier.String(), "kind", rec.Kind.String(),
		"nonce", hex.EncodeToString(rec.Nonce[:]), "vault", rec.Vault.String(), "amount", rec.Amount)
	return rec, nil
}

func (o *Orchestrator) send(ctx context.Context, req Request) (*Receipt, error) {
	sender, err := ledger.WalletAddress(req.Wallet)
	if err != nil {
		return nil, err
	}
	if req.Amount == 0 {
		return nil, fmt.Errorf("%w: amount must be positive", protocol.ErrInvalidAmount)
	}
	if req.Asset != "" && req.Asset != protocol.NativeAsset {
		return nil, fmt.Errorf("%w: %q", protocol.ErrUnsupportedAsset, req.Asset)
	}
	switch req.Tier {
	case TierDirect:
	case TierMixer:
		if o.relayer == nil {
			return nil, protocol.ErrNoRelayer
		}
		if req.AnnouncementPayer != nil {
			payer, err := ledger.WalletAddress(req.AnnouncementPayer)
			if err != nil {
				return nil, fmt.Errorf("announcement payer: %w", err)
			}
			if payer == sender {
				return nil, protocol.ErrLinkedPayer
			}
		}
	case TierTeeRelayed:
		if req.Executor == nil {
			return nil, protocol.ErrNoExecutor
		}
	default:
		return nil, fmt.Errorf("unknown privacy tier %d", int(req.Tier))
	}

	keys, err := o.recipientKeys(ctx, req)
	if err != nil {
		return nil, err
	}

	nonce, err := pickNonce(req.Nonce)
	if err != nil {
		return nil, err
	}
	if !o.locks.tryLock(nonce) {
		return nil, protocol.ErrNonceInFlight
	}
	defer o.locks.unlock(nonce)

	if err := o.checkNonceUnused(ctx, nonce); err != nil {
		return nil, err
	}
	if err := o.checkDeadline(req.Deadline); err != nil {
		return nil, err
	}

	cfg, err := deriveAddress(keys)
	if err != nil {
		return nil, err
	}
	ann, _ := ledger.AnnouncementAddress(o.program, nonce)
	vault, _ := ledger.VaultAddress(o.program, cfg.StealthPubkey)
	p := &Pending{
		Tier:         req.Tier,
		Kind:         cfg.Kind,
		Nonce:        nonce,
		StealthPub:   cfg.StealthPubkey,
		Announcement: ann,
		Vault:        vault,
		Amount:       req.Amount,
		ViewTag:      cfg.ViewTag,
		Ephemeral:    cfg.Ephemeral(),
	}

	switch req.Tier {
	case TierMixer:
		return o.sendMixer(ctx, req, sender, cfg, p)
	case TierTeeRelayed:
		return o.sendTeeRelayed(ctx, req, sender, cfg, p)
	default:
		return o.sendDirect(ctx, req, sender, cfg, p)
	}
}

func (o *Orchestrator) sendDirect(ctx context.Context, req Request, sender ledger.Address, cfg *stealth.SendConfig, p *Pending) (*Receipt, error) {
	publish, err := ledger.PublishAnnouncement(o.program, sender, announcementParams(p.Nonce, cfg))
	if err != nil {
		return nil, err
	}
	fund := ledger.FundVault(o.program, sender, p.Nonce, cfg.StealthPubkey, p.Amount)
	sig, err := o.submitter.SubmitInstructions(ctx, []ledger.Wallet{req.Wallet}, publish, fund)
	if err != nil {
		return nil, ledgerErr("direct payment", err)
	}
	p.Signatures = append(p.Signatures, sig)
	return p.receipt(), nil
}

func (o *Orchestrator) sendMixer(ctx context.Context, req Request, sender ledger.Address, cfg *stealth.SendConfig, p *Pending) (*Receipt, error) {
	params := p.announcementParams()
	if req.AnnouncementPayer != nil {
		payerAddr, err := ledger.WalletAddress(req.AnnouncementPayer)
		if err != nil {
			return nil, fmt.Errorf("announcement payer: %w", err)
		}
		publish, err := ledger.PublishAnnouncement(o.program, payerAddr, params)
		if err != nil {
			return nil, err
		}
		sig, err := o.submitter.SubmitInstructions(ctx, []ledger.Wallet{req.AnnouncementPayer}, publish)
		if err != nil {
			return nil, ledgerErr("publish announcement", err)
		}
		p.Signatures = append(p.Signatures, sig)

		if err := o.checkDeadline(req.Deadline); err != nil {
			return nil, err
		}
	}

	p.Holder, _ = ledger.MixerPoolAddress(o.program)
	deposit := ledger.MixerDeposit(o.program, sender, p.Nonce, ledger.PayoutCommitment(params), p.Amount)
	if err := o.submitDeposit(ctx, p, "mixer deposit", req.Wallet, deposit); err != nil {
		return nil, err
	}

	if err := o.checkDeadline(req.Deadline); err != nil {
		return nil, p.fundsSafe(err)
	}
	return o.executeMixer(ctx, p)
}

// submitDeposit signs the deposit, stores p under its signature and only then
// submits it. A program error proves the deposit did not land and p is
// dropped again. Any other failure may hide a landed deposit, so p stays
// stored and the failure is reported as funds safe.
func (o *Orchestrator) submitDeposit(ctx context.Context, p *Pending, step string, wallet ledger.Wallet, ix ledger.Instruction) error {
	tx, err := ledger.NewTransaction(ix)
	if err != nil {
		return err
	}
	if err := wallet.SignTransaction(ctx, tx); err != nil {
		return fmt.Errorf("%s: sign transaction: %w", step, err)
	}
	p.DepositSignature = tx.Signature()
	p.Signatures = append(p.Signatures, p.DepositSignature)
	if err := o.savePending(ctx, p); err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}

	sig, err := o.submitter.Submit(ctx, tx)
	if err == nil {
		err = o.submitter.Confirm(ctx, sig)
	}
	if err == nil {
		return nil
	}
	var pe *ledger.ProgramError
	if errors.As(err, &pe) {
		o.deletePending(ctx, p.Nonce)
		return ledgerErr(step, err)
	}
	o.logger.Warn("deposit outcome unknown, keeping pending execution",
		"nonce", hex.EncodeToString(p.Nonce[:]), "step", step, "err", err)
	return p.fundsSafe(fmt.Errorf("%s: %w", step, err))
}

// executeMixer asks the relayer once to pay the deposit out. A relayer error
// is checked against the ledger, since the payout may have landed with the
// response lost.
func (o *Orchestrator) executeMixer(ctx context.Context, p *Pending) (*Receipt, error) {
	resp, err := o.relayer.ExecuteMixer(ctx, &protocol.ExecuteMixerRequest{
		Nonce:            p.Nonce,
		Announcement:     protocol.Bytes32(p.Announcement),
		Vault:            protocol.Bytes32(p.Vault),
		StealthPubkey:    p.StealthPub,
		ViewTag:          p.ViewTag,
		Kind:             uint8(announcementKind(p.Kind)),
		Ephemeral:        p.Ephemeral,
		DepositSignature: p.DepositSignature[:],
	})
	if err != nil {
		if paid, perr := o.mixerPaid(ctx, p); perr == nil && paid {
			o.deletePending(ctx, p.Nonce)
			return p.receipt(), nil
		}
		o.logger.Warn("mixer execution failed, funds remain in the pool",
			"nonce", hex.EncodeToString(p.Nonce[:]), "err", err)
		return nil, p.fundsSafe(fmt.Errorf("relayer: %w", err))
	}

	var sig ledger.Signature
	if err := sig.UnmarshalText([]byte(resp.Signature)); err == nil {
		p.Signatures = append(p.Signatures, sig)
	}
	o.deletePending(ctx, p.Nonce)
	return p.receipt(), nil
}

// mixerPaid reports whether the deposit of p has been paid into its vault.
// A consumed deposit record can only have paid the announcement it is
// committed to.
func (o *Orchestrator) mixerPaid(ctx context.Context, p *Pending) (bool, error) {
	record, err := o.mixerRecord(ctx, p.Nonce)
	if err != nil || record == nil {
		return false, err
	}
	if record.Target != ledger.PayoutCommitment(p.announcementParams()) {
		return false, errors.New("mixer deposit is committed to another announcement")
	}
	return record.Consumed, nil
}

// mixerRecord reads the mixer deposit record of nonce. A missing record is nil.
func (o *Orchestrator) mixerRecord(ctx context.Context, nonce [32]byte) (*ledger.DepositRecord, error) {
	addr, _ := ledger.MixerDepositAddress(o.program, nonce)
	acct, err := o.client.GetAccount(ctx, addr)
	if err != nil || acct == nil || len(acct.Data) == 0 {
		return nil, err
	}
	return ledger.DecodeDepositRecord(acct.Data)
}

func (o *Orchestrator) sendTeeRelayed(ctx context.Context, req Request, sender ledger.Address, cfg *stealth.SendConfig, p *Pending) (*Receipt, error) {
	signingKey, err := req.Executor.ParseSigningKey()
	if err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}
	sealingKey, err := req.Executor.ParseSealingKey()
	if err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}

	payment := &SealedPayment{
		Nonce:        p.Nonce,
		StealthPub:   cfg.StealthPubkey,
		ViewTag:      cfg.ViewTag,
		Kind:         announcementKind(cfg.Kind),
		Ephemeral:    cfg.Ephemeral(),
		Vault:        p.Vault,
		Announcement: p.Announcement,
	}
	sealed, err := payment.Seal(sealingKey)
	if err != nil {
		return nil, err
	}
	ix, err := ledger.TeeDeposit(o.program, sender, ledger.TeeDepositParams{
		Nonce:    p.Nonce,
		Executor: ledger.AddressFromPublicKey(signingKey),
		Target:   ledger.PayoutCommitment(payment.AnnouncementParams()),
		Amount:   p.Amount,
		Sealed:   sealed,
	})
	if err != nil {
		return nil, err
	}

	p.Holder, _ = ledger.TeeDepositAddress(o.program, p.Nonce)
	if err := o.submitDeposit(ctx, p, "tee deposit", req.Wallet, ix); err != nil {
		return nil, err
	}
	return o.awaitTee(ctx, p)
}

// awaitTee polls the deposit record until the executor paid it out or the
// timeout passes.
func (o *Orchestrator) awaitTee(ctx context.Context, p *Pending) (*Receipt, error) {
	deadline := o.clock.Now().Add(o.cfg.TeeTimeout)
	for {
		status, err := o.TeeStatus(ctx, p.Nonce)
		switch {
		case err != nil && !ledger.IsTransient(err):
			return nil, p.fundsSafe(err)
		case err == nil && status.Executed:
			o.deletePending(ctx, p.Nonce)
			return p.receipt(), nil
		case err == nil && status.Refunded:
			o.deletePending(ctx, p.Nonce)
			return nil, ErrRefunded
		}

		if !o.clock.Now().Before(deadline) {
			return nil, p.fundsSafe(fmt.Errorf("executor did not pay out within %s", o.cfg.TeeTimeout))
		}
		select {
		case <-ctx.Done():
			return nil, p.fundsSafe(ctx.Err())
		case <-o.clock.After(o.cfg.TeePollInterval):
		}
	}
}

// TeeStatus reads the deposit record of a TeeRelayed payment.
func (o *Orchestrator) TeeStatus(ctx context.Context, nonce [32]byte) (*TeeStatus, error) {
	addr, _ := ledger.TeeDepositAddress(o.program, nonce)
	acct, err := o.client.GetAccount(ctx, addr)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return &TeeStatus{}, nil
	}
	rec, err := ledger.DecodeTeeDepositRecord(acct.Data)
	if err != nil {
		return nil, err
	}
	return &TeeStatus{Exists: true, Delegated: rec.Delegated, Executed: rec.Executed, Refunded: rec.Refunded}, nil
}

// ErrRefunded is returned for a TeeRelayed payment whose deposit went back
// to the sender.
var ErrRefunded = errors.New("deposit was refunded")

// ErrDepositMissing is returned by RetryExecution when the deposit of a
// pending payment is not on the ledger.
var ErrDepositMissing = errors.New("deposit not found on ledger")

// RetryExecution drives the last step of a pending payment again: the relayer
// call of the Mixer tier or the status poll of the TeeRelayed tier. The ledger
// is read first, so a payout that landed without being observed completes
// the payment instead of asking the relayer again.
func (o *Orchestrator) RetryExecution(ctx context.Context, nonce [32]byte) (*Receipt, error) {
	if !o.locks.tryLock(nonce) {
		return nil, protocol.ErrNonceInFlight
	}
	defer o.locks.unlock(nonce)

	p, err := o.loadPending(ctx, nonce)
	if err != nil {
		return nil, err
	}

	var rec *Receipt
	switch p.Tier {
	case TierMixer:
		rec, err = o.retryMixer(ctx, p)
	case TierTeeRelayed:
		rec, err = o.retryTee(ctx, p)
	default:
		return nil, fmt.Errorf("tier %s has no execution step", p.Tier)
	}
	o.metrics.Sends.WithLabelValues(p.Tier.String(), resultLabel(err)).Inc()
	return rec, err
}

func (o *Orchestrator) retryMixer(ctx context.Context, p *Pending) (*Receipt, error) {
	record, err := o.mixerRecord(ctx, p.Nonce)
	if err != nil {
		return nil, p.fundsSafe(err)
	}
	if record == nil {
		return nil, o.depositMissing(ctx, p)
	}
	if record.Consumed {
		if record.Target != ledger.PayoutCommitment(p.announcementParams()) {
			return nil, errors.New("mixer deposit is committed to another announcement")
		}
		o.deletePending(ctx, p.Nonce)
		return p.receipt(), nil
	}
	if o.relayer == nil {
		return nil, protocol.ErrNoRelayer
	}
	return o.executeMixer(ctx, p)
}

func (o *Orchestrator) retryTee(ctx context.Context, p *Pending) (*Receipt, error) {
	status, err := o.TeeStatus(ctx, p.Nonce)
	if err != nil {
		return nil, p.fundsSafe(err)
	}
	if !status.Exists {
		return nil, o.depositMissing(ctx, p)
	}
	return o.awaitTee(ctx, p)
}

// depositMissing handles a pending payment without a deposit record. A
// failed deposit transaction drops the pending entry; otherwise the deposit
// may still land and the entry is kept.
func (o *Orchestrator) depositMissing(ctx context.Context, p *Pending) error {
	status, err := o.client.GetSignatureStatus(ctx, p.DepositSignature)
	if err != nil {
		return fmt.Errorf("%w: deposit status: %v", ErrDepositMissing, err)
	}
	if status.Status == ledger.StatusFailed {
		o.deletePending(ctx, p.Nonce)
		return fmt.Errorf("%w: deposit transaction failed", ErrDepositMissing)
	}
	return fmt.Errorf("%w: deposit %s is %s", ErrDepositMissing, p.DepositSignature, status.Status)
}

// Refund takes an unpaid TeeRelayed deposit back to wallet, which must be the
// depositor. The program only allows it once the refund delay has passed.
func (o *Orchestrator) Refund(ctx context.Context, wallet ledger.Wallet, nonce [32]byte) (ledger.Signature, error) {
	if !o.locks.tryLock(nonce) {
		return ledger.Signature{}, protocol.ErrNonceInFlight
	}
	defer o.locks.unlock(nonce)

	depositor, err := ledger.WalletAddress(wallet)
	if err != nil {
		return ledger.Signature{}, err
	}
	if p, err := o.loadPending(ctx, nonce); err == nil && p.Tier != TierTeeRelayed {
		return ledger.Signature{}, fmt.Errorf("tier %s deposits cannot be refunded", p.Tier)
	}
	sig, err := o.submitter.SubmitInstructions(ctx, []ledger.Wallet{wallet}, ledger.TeeRefund(o.program, depositor, nonce))
	if err != nil {
		return sig, ledgerErr("tee refund", err)
	}
	o.deletePending(ctx, nonce)
	o.logger.Info("tee deposit refunded", "nonce", hex.EncodeToString(nonce[:]), "signature", sig.String())
	return sig, nil
}

func (o *Orchestrator) loadPending(ctx context.Context, nonce [32]byte) (*Pending, error) {
	p, err := store.GetObject[Pending](ctx, o.store, PendingBucket, hex.EncodeToString(nonce[:]))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no pending execution for nonce %x", nonce)
	}
	return p, err
}

// Pending lists the payments waiting for a payout.
func (o *Orchestrator) Pending(ctx context.Context) ([]*Pending, error) {
	return store.ListObjects[Pending](ctx, o.store, PendingBucket)
}

func (o *Orchestrator) savePending(ctx context.Context, p *Pending) error {
	key := hex.EncodeToString(p.Nonce[:])
	if err := store.PutObject(ctx, o.store, PendingBucket, key, p); err != nil {
		return fmt.Errorf("persisting pending execution: %w", err)
	}
	return nil
}

func (o *Orchestrator) deletePending(ctx context.Context, nonce [32]byte) {
	key := hex.EncodeToString(nonce[:])
	if err := o.store.Delete(ctx, PendingBucket, key); err != nil {
		o.logger.Error("removing pending execution", "nonce", key, "err", err)
	}
}

func (o *Orchestrator) recipientKeys(ctx context.Context, req Request) (*registration.RecipientKeys, error) {
	keys := req.Recipient
	if keys == nil {
		if req.RecipientOwner.IsZero() {
			return nil, protocol.ErrNotRegistered
		}
		resolved, err := registration.ResolveRecipient(ctx, o.client, o.program, req.RecipientOwner)
		if err != nil {
			return nil, err
		}
		keys = resolved
	}
	if len(keys.MetaAddress) != 0 && !keys.Hybrid() {
		return nil, fmt.Errorf("meta-address must be %d bytes, got %d", stealth.HybridMetaAddressSize, len(keys.MetaAddress))
	}
	return keys, nil
}

// checkNonceUnused rejects a nonce already used by any tier.
func (o *Orchestrator) checkNonceUnused(ctx context.Context, nonce [32]byte) error {
	ann, _ := ledger.AnnouncementAddress(o.program, nonce)
	mixer, _ := ledger.MixerDepositAddress(o.program, nonce)
	tee, _ := ledger.TeeDepositAddress(o.program, nonce)
	for _, addr := range []ledger.Address{ann, mixer, tee} {
		acct, err := o.client.GetAccount(ctx, addr)
		if err != nil {
			return fmt.Errorf("checking nonce: %w", err)
		}
		if acct != nil && len(acct.Data) > 0 {
			return protocol.ErrNonceReuse
		}
	}
	return nil
}

func (o *Orchestrator) checkDeadline(deadline time.Time) error {
	if !deadline.IsZero() && !o.clock.Now().Before(deadline) {
		return protocol.ErrQuoteExpired
	}
	return nil
}

func pickNonce(n *[32]byte) ([32]byte, error) {
	if n != nil {
		return *n, nil
	}
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, nil
}

func deriveAddress(keys *registration.RecipientKeys) (*stealth.SendConfig, error) {
	if keys.Hybrid() {
		return stealth.DeriveHybridSendAddress(keys.MetaAddress, keys.SpendPub, rand.Reader)
	}
	return stealth.DeriveSendAddress(keys.SpendPub, keys.ViewPub, nil)
}

func announcementKind(k stealth.Kind) ledger.AnnouncementKind {
	if k == stealth.Hybrid {
		return ledger.KindHybrid
	}
	return ledger.KindClassical
}

func announcementParams(nonce [32]byte, cfg *stealth.SendConfig) ledger.AnnouncementParams {
	return ledger.AnnouncementParams{
		Nonce:      nonce,
		StealthPub: cfg.StealthPubkey,
		ViewTag:    cfg.ViewTag,
		Kind:       announcementKind(cfg.Kind),
		Ephemeral:  cfg.Ephemeral(),
	}
}

func ledgerErr(step string, err error) error {
	if ledger.HasCode(err, ledger.CodeNonceInUse) {
		return fmt.Errorf("%s: %w: %v", step, protocol.ErrNonceReuse, err)
	}
	return fmt.Errorf("%s: %w", step, err)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, protocol.ErrFundsSafe):
		return metrics.ResultFundsSafe
	}
	return metrics.ResultError
}
