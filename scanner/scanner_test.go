package scanner_test

import (
	"context"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
	"github.com/WaveTek-co/WaveSwap-sub000/ledger"
	"github.com/WaveTek-co/WaveSwap-sub000/metrics"
	"github.com/WaveTek-co/WaveSwap-sub000/protocol"
	"github.com/WaveTek-co/WaveSwap-sub000/scanner"
	"github.com/WaveTek-co/WaveSwap-sub000/stealth"
	"github.com/WaveTek-co/WaveSwap-sub000/store"
	"github.com/WaveTek-co/WaveSwap-sub000/testutil"
)

func newScanner(t *testing.T, dn *testutil.Devnet, r *stealth.Recipient, opts ...scanner.Option) (*scanner.Scanner, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewUnregistered()
	opts = append([]scanner.Option{scanner.WithMetrics(m)}, opts...)
	s, err := scanner.New(dn.Config, dn.Ledger, r, store.NewMemoryStore(), opts...)
	require.NoError(t, err)
	return s, m
}

func TestScanFindsOwnPayments(t *testing.T) {
	dn := testutil.NewDevnet(t)
	payer := dn.FundedWallet(100_000)
	alice := testutil.NewRecipient(t)
	bob := testutil.NewRecipient(t)

	nonce1, _ := dn.Pay(payer, alice.Keys, 1000)
	nonce2, _ := dn.Pay(payer, alice.Keys, 2000)
	for i := 0; i < 20; i++ {
		dn.Pay(payer, bob.Keys, 10)
	}

	s, m := newScanner(t, dn, alice.Keys.Recipient())
	matches, err := s.ScanOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, matches, 2)

	byNonce := map[[32]byte]*scanner.Match{}
	for _, mt := range matches {
		byNonce[mt.Nonce] = mt
		vault, _ := ledger.VaultAddress(dn.Program, mt.StealthPub)
		require.Equal(t, vault, mt.Vault)

		pub, err := crypto.ScalarBaseMult(mt.StealthPriv)
		require.NoError(t, err)
		require.Equal(t, mt.StealthPub, pub)
	}
	require.Equal(t, uint64(1000), byNonce[nonce1].Amount)
	require.Equal(t, uint64(2000), byNonce[nonce2].Balance)

	require.Equal(t, float64(22), promtestutil.ToFloat64(m.AnnouncementsExamined))
	require.Equal(t, float64(2), promtestutil.ToFloat64(m.ConfirmedMatches))
	require.GreaterOrEqual(t, promtestutil.ToFloat64(m.ViewTagHits), float64(2))
	require.Equal(t, scanner.Idle, s.State())

	for i := 0; i < 2; i++ {
		select {
		case <-s.Matches():
		default:
			t.Fatal("expected a match notification")
		}
	}
}

func TestScanUsesCache(t *testing.T) {
	dn := testutil.NewDevnet(t)
	payer := dn.FundedWallet(10_000)
	alice := testutil.NewRecipient(t)
	dn.Pay(payer, alice.Keys, 1000)

	s, m := newScanner(t, dn, alice.Keys.Recipient())
	_, err := s.ScanOnce(context.Background())
	require.NoError(t, err)
	<-s.Matches()

	hits := promtestutil.ToFloat64(m.ViewTagHits)
	matches, err := s.ScanOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, hits, promtestutil.ToFloat64(m.ViewTagHits), "cached match derived again")
	require.Equal(t, float64(1), promtestutil.ToFloat64(m.ConfirmedMatches))

	select {
	case <-s.Matches():
		t.Fatal("cached match notified twice")
	default:
	}
}

func TestScanSkipsUnfundedAndClaimed(t *testing.T) {
	dn := testutil.NewDevnet(t)
	payer := dn.FundedWallet(10_000)
	alice := testutil.NewRecipient(t)

	// Published but never funded.
	cfg, err := stealth.DeriveSendAddress(alice.Keys.SpendPub, alice.Keys.ViewPub, nil)
	require.NoError(t, err)
	publish, err := ledger.PublishAnnouncement(dn.Program, payer.Address(), ledger.AnnouncementParams{
		Nonce: testutil.RandomNonce(t), StealthPub: cfg.StealthPubkey, ViewTag: cfg.ViewTag, Ephemeral: cfg.Ephemeral(),
	})
	require.NoError(t, err)
	_, err = dn.Submit([]ledger.Wallet{payer}, publish)
	require.NoError(t, err)

	nonce, sent := dn.Pay(payer, alice.Keys, 700)

	s, _ := newScanner(t, dn, alice.Keys.Recipient())
	matches, err := s.ScanOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, nonce, matches[0].Nonce)

	// Drain the vault with a direct claim.
	dest := dn.FundedWallet(0)
	mt := matches[0]
	destHash := ledger.DestinationHash(dest.Address())
	sig, err := crypto.SignWithScalar(mt.StealthPriv, mt.StealthPub, ledger.ClaimMessage(mt.Vault, destHash))
	require.NoError(t, err)
	p := ledger.ClaimParams{StealthPub: sent.StealthPubkey, DestinationHash: destHash}
	copy(p.Signature[:], sig)
	_, err = dn.Submit([]ledger.Wallet{dest}, ledger.Claim(dn.Program, dest.Address(), mt.Announcement, dest.Address(), p))
	require.NoError(t, err)

	matches, err = s.ScanOnce(context.Background())
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestScanHybridRecipient(t *testing.T) {
	dn := testutil.NewDevnet(t)
	payer := dn.FundedWallet(10_000)

	bundle, err := stealth.GenerateHybridBundle(rand.Reader)
	require.NoError(t, err)
	recipient, err := bundle.Recipient()
	require.NoError(t, err)

	cfg, err := stealth.DeriveHybridSendAddress(bundle.MetaAddress(), bundle.Classical.SpendPub, rand.Reader)
	require.NoError(t, err)
	nonce := testutil.RandomNonce(t)
	publish, err := ledger.PublishAnnouncement(dn.Program, payer.Address(), ledger.AnnouncementParams{
		Nonce:      nonce,
		StealthPub: cfg.StealthPubkey,
		ViewTag:    cfg.ViewTag,
		Kind:       ledger.KindHybrid,
		Ephemeral:  cfg.Ephemeral(),
	})
	require.NoError(t, err)
	_, err = dn.Submit([]ledger.Wallet{payer}, publish, ledger.FundVault(dn.Program, payer.Address(), nonce, cfg.StealthPubkey, 900))
	require.NoError(t, err)

	// Classical payments to the same bundle are found too.
	dn.Pay(payer, &bundle.Classical, 100)

	s, _ := newScanner(t, dn, recipient)
	matches, err := s.ScanOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, matches, 2)
}

func TestRunAndTrigger(t *testing.T) {
	dn := testutil.NewDevnet(t)
	payer := dn.FundedWallet(10_000)
	alice := testutil.NewRecipient(t)
	dn.Pay(payer, alice.Keys, 1000)

	clock := protocol.NewManualClock(testutil.Epoch)
	s, _ := newScanner(t, dn, alice.Keys.Recipient(), scanner.WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-s.Matches():
	case <-time.After(5 * time.Second):
		t.Fatal("initial pass produced no match")
	}

	dn.Pay(payer, alice.Keys, 2000)
	s.Trigger()
	select {
	case mt := <-s.Matches():
		require.Equal(t, uint64(2000), mt.Amount)
	case <-time.After(5 * time.Second):
		t.Fatal("triggered pass produced no match")
	}

	dn.Pay(payer, alice.Keys, 3000)
	// The waiter of the first interval is still pending after the trigger.
	clock.BlockUntil(2)
	clock.Advance(dn.Config.ScanInterval)
	select {
	case mt := <-s.Matches():
		require.Equal(t, uint64(3000), mt.Amount)
	case <-time.After(5 * time.Second):
		t.Fatal("interval pass produced no match")
	}

	cancel()
	require.True(t, errors.Is(<-done, context.Canceled))
}

func TestNewValidation(t *testing.T) {
	dn := testutil.NewDevnet(t)
	alice := testutil.NewRecipient(t)

	_, err := scanner.New(dn.Config, dn.Ledger, nil, store.NewMemoryStore())
	require.Error(t, err)
	_, err = scanner.New(dn.Config, dn.Ledger, alice.Keys.Recipient(), nil)
	require.Error(t, err)

	cfg := *dn.Config
	cfg.ProgramID = "not hex"
	_, err = scanner.New(&cfg, dn.Ledger, alice.Keys.Recipient(), store.NewMemoryStore())
	require.Error(t, err)
}
