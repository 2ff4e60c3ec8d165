// Package executor is the enclave-hosted side of the TeeRelayed tier.
//
// The executor watches the ledger for deposit records delegated to its
// signing key. For each one it unseals the payment instructions, publishes
// the announcement and pays the vault with a tee_exec transaction carrying a
// fresh TEE proof. Announcement and payout go out in one transaction, so a
// failure leaves the deposit untouched for the next pass. Every deposit is
// bound to the payout commitment of its announcement; a deposit the executor
// cannot pay stays refundable to its depositor after the program's delay.
//
// The same process can serve TEE proofs for mixer payouts over HTTP, see
// Server and RemoteProver.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
	"github.com/WaveTek-co/WaveSwap-sub000/ledger"
	"github.com/WaveTek-co/WaveSwap-sub000/metrics"
	"github.com/WaveTek-co/WaveSwap-sub000/protocol"
	"github.com/WaveTek-co/WaveSwap-sub000/send"
	"github.com/WaveTek-co/WaveSwap-sub000/teeproof"
)

// Enclave holds the keys that never leave the TEE.
// *teeproof.InsecureTestEnclave implements it.
type Enclave interface {
	Prove(announcement, vault ledger.Address) (*teeproof.Proof, error)
	Unseal(sealed []byte) ([]byte, error)
	SigningKey() crypto.PublicKey
}

type options struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	clock     protocol.Clock
	submitter *ledger.Submitter
	interval  time.Duration
}

// Option configures an Executor.
type Option func(*options)

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

func WithClock(c protocol.Clock) Option { return func(o *options) { o.clock = c } }

func WithSubmitter(s *ledger.Submitter) Option { return func(o *options) { o.submitter = s } }

// WithPollInterval sets the period of Run. Defaults to the config's TeePollInterval.
func WithPollInterval(d time.Duration) Option { return func(o *options) { o.interval = d } }

// Executor pays out deposits delegated to one enclave.
type Executor struct {
	program   ledger.Address
	client    ledger.Client
	submitter *ledger.Submitter
	enclave   Enclave
	wallet    ledger.Wallet
	address   ledger.Address
	logger    *slog.Logger
	metrics   *metrics.Metrics
	clock     protocol.Clock
	interval  time.Duration

	mu sync.Mutex
	// settled holds nonces paid out or rejected by this process.
	settled map[[32]byte]bool
}

// New creates an executor. wallet must hold the enclave signing key, since
// the ledger only accepts tee_exec from the delegated key.
func New(cfg *protocol.Config, client ledger.Client, enclave Enclave, wallet ledger.Wallet, opts ...Option) (*Executor, error) {
	if cfg == nil {
		cfg = protocol.DefaultConfig()
	}
	program, err := ledger.ParseAddress(cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("program id: %w", err)
	}
	if enclave == nil {
		return nil, errors.New("executor requires an enclave")
	}
	address, err := ledger.WalletAddress(wallet)
	if err != nil {
		return nil, err
	}
	if address != ledger.AddressFromPublicKey(enclave.SigningKey()) {
		return nil, errors.New("executor wallet does not hold the enclave signing key")
	}

	o := &options{logger: slog.Default(), clock: protocol.SystemClock{}, interval: cfg.TeePollInterval}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewUnregistered()
	}
	if o.submitter == nil {
		o.submitter = ledger.NewSubmitter(client, cfg, o.clock, o.logger).WithMetrics(o.metrics)
	}
	if o.interval <= 0 {
		o.interval = protocol.DefaultConfig().TeePollInterval
	}

	return &Executor{
		program:   program,
		client:    client,
		submitter: o.submitter,
		enclave:   enclave,
		wallet:    wallet,
		address:   address,
		logger:    o.logger,
		metrics:   o.metrics,
		clock:     o.clock,
		interval:  o.interval,
		settled:   make(map[[32]byte]bool),
	}, nil
}

// Address is the ledger address deposits must delegate to.
func (e *Executor) Address() ledger.Address { return e.address }

// Run processes delegated deposits every poll interval until ctx is done.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started", "address", e.address.String(), "interval", e.interval)
	for {
		if _, err := e.ProcessOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Warn("executor pass failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.clock.After(e.interval):
		}
	}
}

// ProcessOnce pays out every pending deposit delegated to this executor and
// returns how many were paid.
func (e *Executor) ProcessOnce(ctx context.Context) (int, error) {
	accounts, err := e.client.GetProgramAccounts(ctx, e.program, ledger.DiscTeeDeposit)
	if err != nil {
		return 0, fmt.Errorf("list tee deposits: %w", err)
	}

	paid := 0
	for _, ka := range accounts {
		if err := ctx.Err(); err != nil {
			return paid, err
		}
		rec, err := ledger.DecodeTeeDepositRecord(ka.Account.Data)
		if err != nil || rec.Executor != e.address || !rec.Pending() {
			continue
		}
		if e.isSettled(rec.Nonce) {
			continue
		}

		log := e.logger.With("record", ka.Address.String(), "amount", rec.Amount)
		err = e.execute(ctx, rec)
		switch {
		case err == nil:
			paid++
			e.settle(rec.Nonce)
			e.metrics.ExecutorPayouts.WithLabelValues(metrics.ResultOK).Inc()
			log.Info("delegated deposit paid out")
		case ledger.IsTransient(err) || errors.Is(err, protocol.ErrTemporarilyUnavailable) || errors.Is(err, protocol.ErrConfirmationUnknown):
			e.metrics.ExecutorPayouts.WithLabelValues(metrics.ResultError).Inc()
			log.Warn("payout failed, retrying next pass", "err", err)
		default:
			e.settle(rec.Nonce)
			e.metrics.ExecutorPayouts.WithLabelValues(metrics.ResultError).Inc()
			log.Error("rejecting delegated deposit", "err", err)
		}
	}
	return paid, nil
}

func (e *Executor) execute(ctx context.Context, rec *ledger.TeeDepositRecord) error {
	plaintext, err := e.enclave.Unseal(rec.Sealed)
	if err != nil {
		return fmt.Errorf("unseal: %w", err)
	}
	payment, err := send.DecodeSealedPayment(plaintext)
	if err != nil {
		return err
	}
	if payment.Nonce != rec.Nonce {
		return errors.New("sealed payment is for another nonce")
	}
	if err := payment.Validate(e.program); err != nil {
		return err
	}
	params := payment.AnnouncementParams()
	if ledger.PayoutCommitment(params) != rec.Target {
		return errors.New("sealed payment does not match the deposit target")
	}

	var ixs []ledger.Instruction
	published, err := e.announcementPublished(ctx, payment.Announcement, rec.Target)
	if err != nil {
		return err
	}
	if !published {
		publish, err := ledger.PublishAnnouncement(e.program, e.address, params)
		if err != nil {
			return err
		}
		ixs = append(ixs, publish)
	}

	proof, err := e.enclave.Prove(payment.Announcement, payment.Vault)
	if err != nil {
		return fmt.Errorf("tee proof: %w", err)
	}
	raw, err := proof.MarshalBinary()
	if err != nil {
		return err
	}
	exec, err := ledger.TeeExecute(e.program, e.address, rec.Nonce, payment.StealthPub, raw)
	if err != nil {
		return err
	}
	ixs = append(ixs, exec)

	_, err = e.submitter.SubmitInstructions(ctx, []ledger.Wallet{e.wallet}, ixs...)
	return err
}

// announcementPublished reports whether the announcement exists, and fails
// when it exists with contents other than the deposit target. The program
// rejects such announcements, so this only trips on a misconfigured ledger.
func (e *Executor) announcementPublished(ctx context.Context, announcement ledger.Address, target [32]byte) (bool, error) {
	acct, err := e.client.GetAccount(ctx, announcement)
	if err != nil {
		return false, err
	}
	if acct == nil || len(acct.Data) == 0 {
		return false, nil
	}
	ann, err := ledger.DecodeAnnouncement(acct.Data)
	if err != nil {
		return false, err
	}
	if ledger.PayoutCommitment(ann.Params()) != target {
		return false, errors.New("announcement for nonce published with other keys")
	}
	return true, nil
}

func (e *Executor) isSettled(nonce [32]byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settled[nonce]
}

func (e *Executor) settle(nonce [32]byte) {
	e.mu.Lock()
	e.settled[nonce] = true
	e.mu.Unlock()
}
