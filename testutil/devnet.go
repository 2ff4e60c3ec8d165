package testutil

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
	"github.com/WaveTek-co/WaveSwap-sub000/ledger"
	"github.com/WaveTek-co/WaveSwap-sub000/ledger/memledger"
	"github.com/WaveTek-co/WaveSwap-sub000/protocol"
	"github.com/WaveTek-co/WaveSwap-sub000/stealth"
	"github.com/WaveTek-co/WaveSwap-sub000/store"
	"github.com/WaveTek-co/WaveSwap-sub000/teeproof"
)

// Epoch is the start time of devnet clocks.
var Epoch = time.Unix(1_700_000_000, 0)

// Bounds for require.Eventually on background loops.
const (
	EventuallyTimeout = 5 * time.Second
	EventuallyTick    = 20 * time.Millisecond
)

// Devnet is a simulated ledger with a trusted insecure enclave.
type Devnet struct {
	T         testing.TB
	Ledger    *memledger.Ledger
	Store     store.Store
	Program   ledger.Address
	Config    *protocol.Config
	Clock     *protocol.ManualClock
	Enclave   *teeproof.InsecureTestEnclave
	Submitter *ledger.Submitter
}

type devnetOptions struct {
	confirmationDepth int
	chunkSize         int
	store             store.Store
	trustEnclave      bool
	proofMaxAge       time.Duration
	refundDelay       time.Duration
}

// DevnetOption customizes NewDevnet.
type DevnetOption func(*devnetOptions)

// WithConfirmationDepth sets the number of Processed polls before Confirmed.
func WithConfirmationDepth(depth int) DevnetOption {
	return func(o *devnetOptions) { o.confirmationDepth = depth }
}

// WithChunkSize sets the registration chunk size of the config.
func WithChunkSize(size int) DevnetOption {
	return func(o *devnetOptions) { o.chunkSize = size }
}

// WithStore backs the ledger with st instead of a fresh memory store.
func WithStore(st store.Store) DevnetOption {
	return func(o *devnetOptions) { o.store = st }
}

// WithUntrustedEnclave leaves the enclave out of the ledger's trust set.
func WithUntrustedEnclave() DevnetOption {
	return func(o *devnetOptions) { o.trustEnclave = false }
}

// WithProofMaxAge bounds TEE proof age on the ledger.
func WithProofMaxAge(d time.Duration) DevnetOption {
	return func(o *devnetOptions) { o.proofMaxAge = d }
}

// WithRefundDelay sets how long TEE deposits stay locked to their executor.
func WithRefundDelay(d time.Duration) DevnetOption {
	return func(o *devnetOptions) { o.refundDelay = d }
}

// NewDevnet creates a devnet. Everything is torn down with the test.
func NewDevnet(t testing.TB, options ...DevnetOption) *Devnet {
	t.Helper()

	o := &devnetOptions{chunkSize: protocol.MaxChunkSize, trustEnclave: true}
	for _, opt := range options {
		opt(o)
	}
	if o.store == nil {
		o.store = store.NewMemoryStore()
	}

	clock := protocol.NewAutoClock(Epoch)
	program := ledger.Address(crypto.SHA3([]byte("WaveSwap:Program:devnet"), RandomBytes(t, 8)))

	enclave, err := teeproof.NewInsecureTestEnclave(nil, clock)
	require.NoError(t, err)

	cfg := memledger.Config{
		Program:           program,
		ConfirmationDepth: o.confirmationDepth,
		ProofMaxAge:       o.proofMaxAge,
		RefundDelay:       o.refundDelay,
	}
	if o.trustEnclave {
		cfg.EnclaveKeys = []crypto.PublicKey{enclave.SigningKey()}
		cfg.AllowedMeasurements = [][32]byte{enclave.Measurement()}
	}
	l, err := memledger.New(o.store, cfg, memledger.WithClock(clock))
	require.NoError(t, err)

	pcfg := protocol.DefaultConfig()
	pcfg.ProgramID = program.String()
	pcfg.ChunkSize = o.chunkSize
	pcfg.ConfirmTimeout = 5 * time.Second
	pcfg.ConfirmPollInterval = 100 * time.Millisecond
	pcfg.RetryBaseDelay = 10 * time.Millisecond
	pcfg.RetryMaxDelay = 100 * time.Millisecond
	pcfg.TeePollInterval = 100 * time.Millisecond
	pcfg.TeeTimeout = 5 * time.Second
	pcfg.ScanInterval = time.Second

	t.Cleanup(func() { o.store.Close() })

	return &Devnet{
		T:         t,
		Ledger:    l,
		Store:     o.store,
		Program:   program,
		Config:    pcfg,
		Clock:     clock,
		Enclave:   enclave,
		Submitter: ledger.NewSubmitter(l, pcfg, clock, nil),
	}
}

// FundedWallet returns a new wallet holding amount.
func (d *Devnet) FundedWallet(amount uint64) *ledger.KeypairWallet {
	d.T.Helper()
	w, err := ledger.GenerateKeypairWallet()
	require.NoError(d.T, err)
	if amount > 0 {
		require.NoError(d.T, d.Ledger.Airdrop(context.Background(), w.Address(), amount))
	}
	return w
}

// Balance returns the balance of addr.
func (d *Devnet) Balance(addr ledger.Address) uint64 {
	d.T.Helper()
	b, err := d.Ledger.GetBalance(context.Background(), addr)
	require.NoError(d.T, err)
	return b
}

// Submit signs and submits instructions, waiting for confirmation.
func (d *Devnet) Submit(signers []ledger.Wallet, ixs ...ledger.Instruction) (ledger.Signature, error) {
	return d.Submitter.SubmitInstructions(context.Background(), signers, ixs...)
}

// Announcement fetches and decodes the announcement for nonce.
func (d *Devnet) Announcement(nonce [32]byte) *ledger.Announcement {
	d.T.Helper()
	addr, _ := ledger.AnnouncementAddress(d.Program, nonce)
	acct, err := d.Ledger.GetAccount(context.Background(), addr)
	require.NoError(d.T, err)
	require.NotNil(d.T, acct, "announcement %s not found", addr)
	ann, err := ledger.DecodeAnnouncement(acct.Data)
	require.NoError(d.T, err)
	return ann
}

// Pay publishes and funds a direct classical payment to kp and returns the
// nonce and the send config used.
func (d *Devnet) Pay(payer ledger.Wallet, kp *stealth.StealthKeyPair, amount uint64) ([32]byte, *stealth.SendConfig) {
	d.T.Helper()
	cfg, err := stealth.DeriveSendAddress(kp.SpendPub, kp.ViewPub, nil)
	require.NoError(d.T, err)
	nonce := RandomNonce(d.T)

	payerAddr, err := ledger.WalletAddress(payer)
	require.NoError(d.T, err)
	publish, err := ledger.PublishAnnouncement(d.Program, payerAddr, ledger.AnnouncementParams{
		Nonce:      nonce,
		StealthPub: cfg.StealthPubkey,
		ViewTag:    cfg.ViewTag,
		Kind:       ledger.KindClassical,
		Ephemeral:  cfg.Ephemeral(),
	})
	require.NoError(d.T, err)
	fund := ledger.FundVault(d.Program, payerAddr, nonce, cfg.StealthPubkey, amount)

	_, err = d.Submit([]ledger.Wallet{payer}, publish, fund)
	require.NoError(d.T, err)
	return nonce, cfg
}

// =====================================
// Generators
// =====================================

// RandomBytes returns n random bytes.
func RandomBytes(t testing.TB, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

// RandomNonce returns a random payment nonce.
func RandomNonce(t testing.TB) [32]byte {
	var n [32]byte
	copy(n[:], RandomBytes(t, 32))
	return n
}

// MetaAddressFixture returns n deterministic non-trivial bytes.
func MetaAddressFixture(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i*31 + i/256 + 7)
	}
	return out
}

// Recipient bundles a wallet with its derived stealth keys.
type Recipient struct {
	Wallet *ledger.KeypairWallet
	Keys   *stealth.StealthKeyPair
}

// NewRecipient creates a wallet and derives its stealth keys from it.
func NewRecipient(t testing.TB) *Recipient {
	t.Helper()
	w, err := ledger.GenerateKeypairWallet()
	require.NoError(t, err)
	kp, err := stealth.DeriveKeysFromWallet(context.Background(), w)
	require.NoError(t, err)
	return &Recipient{Wallet: w, Keys: kp}
}
