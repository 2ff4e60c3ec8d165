package executor_test

import (
	"context"
	"crypto/rand"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
	"github.com/WaveTek-co/WaveSwap-sub000/executor"
	"github.com/WaveTek-co/WaveSwap-sub000/ledger"
	"github.com/WaveTek-co/WaveSwap-sub000/metrics"
	"github.com/WaveTek-co/WaveSwap-sub000/send"
	"github.com/WaveTek-co/WaveSwap-sub000/stealth"
	"github.com/WaveTek-co/WaveSwap-sub000/teeproof"
	"github.com/WaveTek-co/WaveSwap-sub000/testutil"
)

func newExecutor(t *testing.T, dn *testutil.Devnet) (*executor.Executor, *metrics.Metrics) {
	t.Helper()
	wallet, err := dn.Enclave.Wallet()
	require.NoError(t, err)
	m := metrics.NewUnregistered()
	ex, err := executor.New(dn.Config, dn.Ledger, dn.Enclave, wallet,
		executor.WithSubmitter(dn.Submitter), executor.WithMetrics(m))
	require.NoError(t, err)
	return ex, m
}

func newPayment(t *testing.T, dn *testutil.Devnet) *send.SealedPayment {
	t.Helper()
	kp, err := stealth.NewRandomKeyPair(rand.Reader)
	require.NoError(t, err)
	cfg, err := stealth.DeriveSendAddress(kp.SpendPub, kp.ViewPub, nil)
	require.NoError(t, err)
	nonce := testutil.RandomNonce(t)
	ann, _ := ledger.AnnouncementAddress(dn.Program, nonce)
	vault, _ := ledger.VaultAddress(dn.Program, cfg.StealthPubkey)
	return &send.SealedPayment{
		Nonce:        nonce,
		StealthPub:   cfg.StealthPubkey,
		ViewTag:      cfg.ViewTag,
		Kind:         ledger.KindClassical,
		Ephemeral:    cfg.Ephemeral(),
		Vault:        vault,
		Announcement: ann,
	}
}

func deposit(t *testing.T, dn *testutil.Devnet, executorAddr ledger.Address, payment *send.SealedPayment, sealed []byte, amount uint64) *ledger.KeypairWallet {
	t.Helper()
	return depositTo(t, dn, executorAddr, payment.Nonce, ledger.PayoutCommitment(payment.AnnouncementParams()), sealed, amount)
}

func depositTo(t *testing.T, dn *testutil.Devnet, executorAddr ledger.Address, nonce, target [32]byte, sealed []byte, amount uint64) *ledger.KeypairWallet {
	t.Helper()
	depositor := dn.FundedWallet(amount)
	ix, err := ledger.TeeDeposit(dn.Program, depositor.Address(), ledger.TeeDepositParams{
		Nonce: nonce, Executor: executorAddr, Target: target, Amount: amount, Sealed: sealed,
	})
	require.NoError(t, err)
	_, err = dn.Submit([]ledger.Wallet{depositor}, ix)
	require.NoError(t, err)
	return depositor
}

func TestProcessOnce(t *testing.T) {
	dn := testutil.NewDevnet(t)
	ex, m := newExecutor(t, dn)
	ctx := context.Background()

	payment := newPayment(t, dn)
	sealed, err := payment.Seal(dn.Enclave.SealingKey())
	require.NoError(t, err)
	deposit(t, dn, ex.Address(), payment, sealed, 6000)

	paid, err := ex.ProcessOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, paid)
	require.Equal(t, uint64(6000), dn.Balance(payment.Vault))

	ann := dn.Announcement(payment.Nonce)
	require.True(t, ann.Finalized)
	require.Equal(t, uint64(6000), ann.Amount)
	require.Equal(t, payment.StealthPub, ann.StealthPub)

	paid, err = ex.ProcessOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, paid)
	require.Equal(t, 1, dn.Enclave.ProofsIssued())
	require.Equal(t, float64(1), promtestutil.ToFloat64(m.ExecutorPayouts.WithLabelValues(metrics.ResultOK)))
}

func TestProcessOncePublishedAnnouncement(t *testing.T) {
	dn := testutil.NewDevnet(t)
	ex, _ := newExecutor(t, dn)

	payment := newPayment(t, dn)
	publisher := dn.FundedWallet(0)
	publish, err := ledger.PublishAnnouncement(dn.Program, publisher.Address(), payment.AnnouncementParams())
	require.NoError(t, err)
	_, err = dn.Submit([]ledger.Wallet{publisher}, publish)
	require.NoError(t, err)

	sealed, err := payment.Seal(dn.Enclave.SealingKey())
	require.NoError(t, err)
	deposit(t, dn, ex.Address(), payment, sealed, 900)

	paid, err := ex.ProcessOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, paid)
	require.Equal(t, uint64(900), dn.Balance(payment.Vault))
}

func TestProcessOnceAfterFrontRunningAnnouncement(t *testing.T) {
	dn := testutil.NewDevnet(t)
	ex, _ := newExecutor(t, dn)

	payment := newPayment(t, dn)
	sealed, err := payment.Seal(dn.Enclave.SealingKey())
	require.NoError(t, err)
	deposit(t, dn, ex.Address(), payment, sealed, 700)

	// The nonce is readable from the deposit record; an announcement for it
	// with other keys must not land.
	attacker := dn.FundedWallet(0)
	forged := newPayment(t, dn)
	forged.Nonce = payment.Nonce
	publish, err := ledger.PublishAnnouncement(dn.Program, attacker.Address(), forged.AnnouncementParams())
	require.NoError(t, err)
	_, err = dn.Submit([]ledger.Wallet{attacker}, publish)
	require.True(t, ledger.HasCode(err, ledger.CodeTargetMismatch), err)

	paid, err := ex.ProcessOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, paid)
	require.Equal(t, uint64(700), dn.Balance(payment.Vault))
}

func TestUnpayableDepositIsRefundable(t *testing.T) {
	dn := testutil.NewDevnet(t, testutil.WithRefundDelay(time.Hour))
	ex, m := newExecutor(t, dn)
	ctx := context.Background()

	// The sealed payment does not match the committed target.
	payment := newPayment(t, dn)
	sealed, err := payment.Seal(dn.Enclave.SealingKey())
	require.NoError(t, err)
	depositor := depositTo(t, dn, ex.Address(), payment.Nonce, [32]byte{1}, sealed, 300)

	paid, err := ex.ProcessOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, paid)
	require.Equal(t, float64(1), promtestutil.ToFloat64(m.ExecutorPayouts.WithLabelValues(metrics.ResultError)))

	dn.Clock.Advance(time.Hour)
	_, err = dn.Submit([]ledger.Wallet{depositor}, ledger.TeeRefund(dn.Program, depositor.Address(), payment.Nonce))
	require.NoError(t, err)
	require.Equal(t, uint64(300), dn.Balance(depositor.Address()))

	// Refunded records are no longer listed as pending work.
	fresh, _ := newExecutor(t, dn)
	paid, err = fresh.ProcessOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, paid)
	require.Zero(t, dn.Enclave.ProofsIssued())
}

func TestProcessOnceSkipsForeignAndInvalid(t *testing.T) {
	dn := testutil.NewDevnet(t)
	ex, m := newExecutor(t, dn)
	ctx := context.Background()

	// Delegated to someone else.
	other := newPayment(t, dn)
	sealed, err := other.Seal(dn.Enclave.SealingKey())
	require.NoError(t, err)
	deposit(t, dn, ledger.Address(testutil.RandomNonce(t)), other, sealed, 100)

	// Sealed to another key.
	foreignKey, _, err := crypto.GenerateKemKeyPair()
	require.NoError(t, err)
	unreadable := newPayment(t, dn)
	sealed, err = unreadable.Seal(foreignKey)
	require.NoError(t, err)
	deposit(t, dn, ex.Address(), unreadable, sealed, 100)

	// Addresses that do not derive from the keys.
	forged := newPayment(t, dn)
	forged.Vault = ledger.Address(testutil.RandomNonce(t))
	sealed, err = forged.Seal(dn.Enclave.SealingKey())
	require.NoError(t, err)
	deposit(t, dn, ex.Address(), forged, sealed, 100)

	paid, err := ex.ProcessOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, paid)
	require.Equal(t, float64(2), promtestutil.ToFloat64(m.ExecutorPayouts.WithLabelValues(metrics.ResultError)))

	// Rejected records are not retried.
	_, err = ex.ProcessOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, float64(2), promtestutil.ToFloat64(m.ExecutorPayouts.WithLabelValues(metrics.ResultError)))
	require.Zero(t, dn.Enclave.ProofsIssued())
}

func TestRunStopsOnCancel(t *testing.T) {
	dn := testutil.NewDevnet(t)
	ex, _ := newExecutor(t, dn)

	payment := newPayment(t, dn)
	sealed, err := payment.Seal(dn.Enclave.SealingKey())
	require.NoError(t, err)
	deposit(t, dn, ex.Address(), payment, sealed, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ex.Run(ctx) }()

	require.Eventually(t, func() bool { return dn.Balance(payment.Vault) == 10 }, testutil.EventuallyTimeout, testutil.EventuallyTick)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestNewRequiresEnclaveWallet(t *testing.T) {
	dn := testutil.NewDevnet(t)
	_, err := executor.New(dn.Config, dn.Ledger, dn.Enclave, dn.FundedWallet(0))
	require.Error(t, err)
	_, err = executor.New(dn.Config, dn.Ledger, nil, dn.FundedWallet(0))
	require.Error(t, err)
}

func TestRemoteProver(t *testing.T) {
	dn := testutil.NewDevnet(t)
	info, err := dn.Enclave.Info("http://enclave.local")
	require.NoError(t, err)
	srv, err := executor.NewServer(dn.Config, dn.Ledger, dn.Enclave, info, nil)
	require.NoError(t, err)
	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	ts := httptest.NewServer(r)
	defer ts.Close()

	// A mixer deposit waiting for its payout.
	payment := newPayment(t, dn)
	depositor := dn.FundedWallet(500)
	publish, err := ledger.PublishAnnouncement(dn.Program, depositor.Address(), payment.AnnouncementParams())
	require.NoError(t, err)
	target := ledger.PayoutCommitment(payment.AnnouncementParams())
	_, err = dn.Submit([]ledger.Wallet{depositor}, publish, ledger.MixerDeposit(dn.Program, depositor.Address(), payment.Nonce, target, 500))
	require.NoError(t, err)

	prover := executor.NewRemoteProver(ts.URL, dn.Enclave.SigningKey(), dn.Enclave.Measurement(), 0)
	require.Equal(t, dn.Enclave.Measurement(), prover.Measurement())
	require.True(t, prover.EnclaveKey().Equal(dn.Enclave.SigningKey()))
	proof, err := prover.Prove(payment.Announcement, payment.Vault)
	require.NoError(t, err)
	_, err = teeproof.Verify(proof, payment.Announcement, payment.Vault, dn.Enclave.VerifyOptions(dn.Clock))
	require.NoError(t, err)

	t.Run("wrong vault", func(t *testing.T) {
		_, err := prover.Prove(payment.Announcement, ledger.Address(testutil.RandomNonce(t)))
		require.ErrorContains(t, err, "409")
	})

	t.Run("no deposit", func(t *testing.T) {
		unfunded := newPayment(t, dn)
		publish, err := ledger.PublishAnnouncement(dn.Program, depositor.Address(), unfunded.AnnouncementParams())
		require.NoError(t, err)
		_, err = dn.Submit([]ledger.Wallet{depositor}, publish)
		require.NoError(t, err)
		_, err = prover.Prove(unfunded.Announcement, unfunded.Vault)
		require.Error(t, err)
	})

	t.Run("unpinned enclave", func(t *testing.T) {
		otherKey, _, err := crypto.GenerateKeyPair()
		require.NoError(t, err)
		p := executor.NewRemoteProver(ts.URL, otherKey, dn.Enclave.Measurement(), 0)
		_, err = p.Prove(payment.Announcement, payment.Vault)
		require.ErrorIs(t, err, teeproof.ErrUnknownEnclave)
	})
}
