// Package memledger is a single-node simulation of the stealth payment
// program. It implements ledger.Client, verifies transaction signatures and
// executes instructions atomically against accounts kept in a store.Store.
//
// It is used by the tests and by the devnet mode of the CLIs. It has no
// consensus, no fees and no rent.
package memledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
	"github.com/WaveTek-co/WaveSwap-sub000/ledger"
	"github.com/WaveTek-co/WaveSwap-sub000/protocol"
	"github.com/WaveTek-co/WaveSwap-sub000/store"
)

const (
	accountsBucket     = "ledger-accounts"
	transactionsBucket = "ledger-transactions"
	sessionsBucket     = "ledger-tee-sessions"
)

// Config holds the program parameters of the simulated ledger.
type Config struct {
	Program ledger.Address

	// ConfirmationDepth is the number of status polls reporting Processed
	// before a transaction is reported Confirmed.
	ConfirmationDepth int

	// EnclaveKeys and AllowedMeasurements are the TEE proof trust set.
	EnclaveKeys         []crypto.PublicKey
	AllowedMeasurements [][32]byte

	// ProofMaxAge bounds TEE proof age. Zero disables the check.
	ProofMaxAge time.Duration

	// MaxMetaLen bounds registry payloads.
	MaxMetaLen uint32

	// RefundDelay is how long a TEE deposit stays locked to its executor
	// before the depositor may take it back. Defaults to DefaultRefundDelay.
	RefundDelay time.Duration
}

const DefaultRefundDelay = 24 * time.Hour

type options struct {
	logger *slog.Logger
	clock  protocol.Clock
}

// Option configures a Ledger.
type Option func(*options)

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

func WithClock(c protocol.Clock) Option { return func(o *options) { o.clock = c } }

// accountRecord is the stored form of an account.
type accountRecord struct {
	Data    []byte         `cbor:"1,keyasint,omitempty"`
	Balance uint64         `cbor:"2,keyasint"`
	Owner   ledger.Address `cbor:"3,keyasint"`
}

// txRecord is the stored outcome of a transaction.
type txRecord struct {
	Failed      bool             `cbor:"1,keyasint"`
	Code        ledger.ErrorCode `cbor:"2,keyasint,omitempty"`
	Instruction int              `cbor:"3,keyasint,omitempty"`
	Msg         string           `cbor:"4,keyasint,omitempty"`
}

func (r *txRecord) err() error {
	if !r.Failed {
		return nil
	}
	return &ledger.ProgramError{Code: r.Code, Instruction: r.Instruction, Msg: r.Msg}
}

// Ledger is the simulated runtime.
type Ledger struct {
	cfg    Config
	st     store.Store
	logger *slog.Logger
	clock  protocol.Clock

	mu        sync.Mutex
	polls     map[ledger.Signature]int
	failNext  map[[8]byte]int
	transient int
}

// New creates a ledger persisting its state in st.
func New(st store.Store, cfg Config, opts ...Option) (*Ledger, error) {
	if st == nil {
		return nil, errors.New("memledger requires a store")
	}
	if cfg.Program.IsZero() {
		return nil, errors.New("memledger requires a program address")
	}
	if cfg.MaxMetaLen == 0 {
		cfg.MaxMetaLen = 4096
	}
	if cfg.RefundDelay <= 0 {
		cfg.RefundDelay = DefaultRefundDelay
	}
	o := &options{logger: slog.Default(), clock: protocol.SystemClock{}}
	for _, opt := range opts {
		opt(o)
	}
	return &Ledger{
		cfg:      cfg,
		st:       st,
		logger:   o.logger,
		clock:    o.clock,
		polls:    make(map[ledger.Signature]int),
		failNext: make(map[[8]byte]int),
	}, nil
}

// Program returns the program address.
func (l *Ledger) Program() ledger.Address { return l.cfg.Program }

// TrustEnclave adds an enclave key and measurement to the TEE proof trust set.
func (l *Ledger) TrustEnclave(key crypto.PublicKey, measurement [32]byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg.EnclaveKeys = append(l.cfg.EnclaveKeys, key)
	for _, m := range l.cfg.AllowedMeasurements {
		if m == measurement {
			return
		}
	}
	l.cfg.AllowedMeasurements = append(l.cfg.AllowedMeasurements, measurement)
}

// FailNextInstruction makes the next instruction with tag fail with
// CodeInjectedFailure.
func (l *Ledger) FailNextInstruction(tag [8]byte) {
	l.mu.Lock()
	l.failNext[tag]++
	l.mu.Unlock()
}

// InjectTransientErrors makes the next n SendTransaction calls fail with
// ledger.ErrTransient before doing anything.
func (l *Ledger) InjectTransientErrors(n int) {
	l.mu.Lock()
	l.transient = n
	l.mu.Unlock()
}

// Airdrop credits amount to addr.
func (l *Ledger) Airdrop(ctx context.Context, addr ledger.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := newState(ctx, l.st)
	acct, err := st.get(addr)
	if err != nil {
		return err
	}
	acct.Balance += amount
	st.put(addr, acct)
	return st.commit(nil)
}

func (l *Ledger) SendTransaction(ctx context.Context, tx *ledger.Transaction) (ledger.Signature, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.transient > 0 {
		l.transient--
		return ledger.Signature{}, fmt.Errorf("%w: injected", ledger.ErrTransient)
	}

	if err := tx.VerifySignatures(); err != nil {
		return ledger.Signature{}, fmt.Errorf("signature verification failed: %w", err)
	}
	sig := tx.Signature()

	// Resubmission of a processed transaction returns its original outcome.
	prior, err := store.GetObject[txRecord](ctx, l.st, transactionsBucket, sig.String())
	switch {
	case err == nil:
		return sig, prior.err()
	case !errors.Is(err, store.ErrNotFound):
		return ledger.Signature{}, err
	}

	signers := make(map[ledger.Address]bool)
	for _, s := range tx.RequiredSigners() {
		signers[s] = true
	}

	st := newState(ctx, l.st)
	for i := range tx.Instructions {
		ix := &tx.Instructions[i]
		if err := l.execute(st, ix, signers); err != nil {
			var pe *ledger.ProgramError
			if !errors.As(err, &pe) {
				return ledger.Signature{}, err
			}
			pe.Instruction = i
			record := &txRecord{Failed: true, Code: pe.Code, Instruction: i, Msg: pe.Msg}
			if err := l.recordOnly(ctx, sig, record); err != nil {
				return ledger.Signature{}, err
			}
			l.logger.Debug("transaction failed", "signature", sig.String(), "instruction", i, "code", pe.Code.String())
			return sig, pe
		}
	}

	if err := st.commit(map[string]any{sig.String(): &txRecord{}}); err != nil {
		return ledger.Signature{}, err
	}
	l.logger.Debug("transaction executed", "signature", sig.String(), "instructions", len(tx.Instructions))
	return sig, nil
}

func (l *Ledger) recordOnly(ctx context.Context, sig ledger.Signature, r *txRecord) error {
	return store.PutObject(ctx, l.st, transactionsBucket, sig.String(), r)
}

func (l *Ledger) GetSignatureStatus(ctx context.Context, sig ledger.Signature) (*ledger.SignatureStatus, error) {
	record, err := store.GetObject[txRecord](ctx, l.st, transactionsBucket, sig.String())
	if errors.Is(err, store.ErrNotFound) {
		return &ledger.SignatureStatus{Status: ledger.StatusUnknown}, nil
	}
	if err != nil {
		return nil, err
	}
	if record.Failed {
		return &ledger.SignatureStatus{Status: ledger.StatusFailed, Err: record.err()}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.polls[sig] < l.cfg.ConfirmationDepth {
		l.polls[sig]++
		return &ledger.SignatureStatus{Status: ledger.StatusProcessed}, nil
	}
	return &ledger.SignatureStatus{Status: ledger.StatusConfirmed}, nil
}

func (l *Ledger) GetAccount(ctx context.Context, addr ledger.Address) (*ledger.Account, error) {
	r, err := store.GetObject[accountRecord](ctx, l.st, accountsBucket, addrKey(addr))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ledger.Account{Data: r.Data, Balance: r.Balance}, nil
}

func (l *Ledger) GetProgramAccounts(ctx context.Context, program ledger.Address, discriminator [8]byte) ([]ledger.KeyedAccount, error) {
	entries, err := l.st.List(ctx, accountsBucket)
	if err != nil {
		return nil, err
	}
	var out []ledger.KeyedAccount
	for _, e := range entries {
		var r accountRecord
		if err := store.Unmarshal(e.Value, &r); err != nil {
			return nil, fmt.Errorf("account %s: %w", e.Key, err)
		}
		if r.Owner != program {
			continue
		}
		if d, ok := ledger.Discriminator(r.Data); !ok || d != discriminator {
			continue
		}
		addr, err := ledger.ParseAddress(e.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, ledger.KeyedAccount{Address: addr, Account: ledger.Account{Data: r.Data, Balance: r.Balance}})
	}
	return out, nil
}

func (l *Ledger) GetBalance(ctx context.Context, addr ledger.Address) (uint64, error) {
	acct, err := l.GetAccount(ctx, addr)
	if err != nil || acct == nil {
		return 0, err
	}
	return acct.Balance, nil
}

func addrKey(a ledger.Address) string { return hex.EncodeToString(a[:]) }

// state is the write overlay of one transaction. Nothing reaches the store
// until commit.
type state struct {
	ctx      context.Context
	st       store.Store
	accounts map[ledger.Address]*accountRecord
	dirty    map[ledger.Address]bool
	sessions map[[32]byte]bool
}

func newState(ctx context.Context, st store.Store) *state {
	return &state{
		ctx:      ctx,
		st:       st,
		accounts: make(map[ledger.Address]*accountRecord),
		dirty:    make(map[ledger.Address]bool),
		sessions: make(map[[32]byte]bool),
	}
}

// get returns the account at addr, an empty one if it does not exist.
func (s *state) get(addr ledger.Address) (*accountRecord, error) {
	if a, ok := s.accounts[addr]; ok {
		return a, nil
	}
	r, err := store.GetObject[accountRecord](s.ctx, s.st, accountsBucket, addrKey(addr))
	if errors.Is(err, store.ErrNotFound) {
		r = &accountRecord{}
	} else if err != nil {
		return nil, err
	}
	s.accounts[addr] = r
	return r, nil
}

func (s *state) put(addr ledger.Address, r *accountRecord) {
	s.accounts[addr] = r
	s.dirty[addr] = true
}

func (s *state) sessionUsed(id [32]byte) (bool, error) {
	if s.sessions[id] {
		return true, nil
	}
	_, err := s.st.Get(s.ctx, sessionsBucket, hex.EncodeToString(id[:]))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *state) transfer(from, to ledger.Address, amount uint64) error {
	src, err := s.get(from)
	if err != nil {
		return err
	}
	if src.Balance < amount {
		return ledger.NewProgramError(ledger.CodeInsufficientFunds, "%s holds %d, needs %d", from, src.Balance, amount)
	}
	dst, err := s.get(to)
	if err != nil {
		return err
	}
	src.Balance -= amount
	dst.Balance += amount
	s.put(from, src)
	s.put(to, dst)
	return nil
}

func (s *state) commit(txs map[string]any) error {
	ops := make([]store.Op, 0, len(s.dirty)+len(s.sessions)+len(txs))
	for addr := range s.dirty {
		value, err := store.Marshal(s.accounts[addr])
		if err != nil {
			return err
		}
		ops = append(ops, store.Op{Bucket: accountsBucket, Key: addrKey(addr), Value: value})
	}
	for id := range s.sessions {
		ops = append(ops, store.Op{Bucket: sessionsBucket, Key: hex.EncodeToString(id[:]), Value: []byte{1}})
	}
	for key, v := range txs {
		value, err := store.Marshal(v)
		if err != nil {
			return err
		}
		ops = append(ops, store.Op{Bucket: transactionsBucket, Key: key, Value: value})
	}
	return s.st.Batch(s.ctx, ops)
}
