package claim_test

import (
	"context"
	"crypto/rand"
	"net/http/httptest"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/WaveTek-co/WaveSwap-sub000/claim"
	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
	"github.com/WaveTek-co/WaveSwap-sub000/ledger"
	"github.com/WaveTek-co/WaveSwap-sub000/metrics"
	"github.com/WaveTek-co/WaveSwap-sub000/protocol"
	"github.com/WaveTek-co/WaveSwap-sub000/relayer"
	"github.com/WaveTek-co/WaveSwap-sub000/scanner"
	"github.com/WaveTek-co/WaveSwap-sub000/stealth"
	"github.com/WaveTek-co/WaveSwap-sub000/store"
	"github.com/WaveTek-co/WaveSwap-sub000/testutil"
)

func scanOne(t *testing.T, dn *testutil.Devnet, r *testutil.Recipient) *scanner.Match {
	t.Helper()
	s, err := scanner.New(dn.Config, dn.Ledger, r.Keys.Recipient(), store.NewMemoryStore())
	require.NoError(t, err)
	matches, err := s.ScanOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, matches, 1)
	return matches[0]
}

func TestClaimProof(t *testing.T) {
	kp, err := stealth.NewRandomKeyPair(rand.Reader)
	require.NoError(t, err)
	cfg, err := stealth.DeriveSendAddress(kp.SpendPub, kp.ViewPub, nil)
	require.NoError(t, err)
	priv, pub, err := stealth.DeriveStealthPrivateKey(kp.SpendPriv, kp.ViewKey(), cfg.Ephemeral())
	require.NoError(t, err)

	vault := ledger.Address(testutil.RandomNonce(t))
	dest := ledger.Address(testutil.RandomNonce(t))
	p, err := claim.BuildClaimProof(priv, pub, vault, dest)
	require.NoError(t, err)
	require.True(t, claim.VerifyClaimProof(p, vault, dest))

	require.False(t, claim.VerifyClaimProof(p, vault, ledger.Address(testutil.RandomNonce(t))))
	require.False(t, claim.VerifyClaimProof(p, ledger.Address(testutil.RandomNonce(t)), dest))
	require.False(t, claim.VerifyClaimProof(nil, vault, dest))

	tampered := *p
	tampered.Signature[5] ^= 1
	require.False(t, claim.VerifyClaimProof(&tampered, vault, dest))

	// The request form carries the same proof.
	ann := ledger.Address(testutil.RandomNonce(t))
	back, err := claim.ProofFromRequest(p.Request(ann, vault, dest))
	require.NoError(t, err)
	require.Equal(t, p, back)

	req := p.Request(ann, vault, dest)
	req.Signature = req.Signature[:10]
	_, err = claim.ProofFromRequest(req)
	require.Error(t, err)
}

func TestDirectClaim(t *testing.T) {
	dn := testutil.NewDevnet(t)
	ctx := context.Background()
	payer := dn.FundedWallet(10_000)
	alice := testutil.NewRecipient(t)
	nonce, _ := dn.Pay(payer, alice.Keys, 3000)
	mt := scanOne(t, dn, alice)

	m := metrics.NewUnregistered()
	c, err := claim.New(dn.Config, dn.Ledger, claim.WithSubmitter(dn.Submitter), claim.WithMetrics(m))
	require.NoError(t, err)

	res, err := c.Claim(ctx, claim.Request{Match: mt, Wallet: alice.Wallet})
	require.NoError(t, err)
	require.Equal(t, claim.ModeDirect, res.Mode)
	require.Equal(t, alice.Wallet.Address(), res.Destination)
	require.Equal(t, uint64(3000), res.Amount)
	require.False(t, res.Signature.IsZero())
	require.Equal(t, uint64(3000), dn.Balance(alice.Wallet.Address()))
	require.True(t, dn.Announcement(nonce).Claimed)

	t.Run("replay is idempotent", func(t *testing.T) {
		res, err := c.Claim(ctx, claim.Request{Match: mt, Wallet: alice.Wallet})
		require.NoError(t, err)
		require.True(t, res.AlreadyClaimed)
		require.Equal(t, uint64(3000), dn.Balance(alice.Wallet.Address()))
	})

	require.Equal(t, float64(1), promtestutil.ToFloat64(m.Claims.WithLabelValues(claim.ModeDirect, metrics.ResultOK)))
	require.Equal(t, float64(1), promtestutil.ToFloat64(m.Claims.WithLabelValues(claim.ModeDirect, metrics.ResultDuplicate)))
}

func TestDirectClaimToOtherDestination(t *testing.T) {
	dn := testutil.NewDevnet(t)
	payer := dn.FundedWallet(10_000)
	alice := testutil.NewRecipient(t)
	dn.Pay(payer, alice.Keys, 1200)
	mt := scanOne(t, dn, alice)

	c, err := claim.New(dn.Config, dn.Ledger, claim.WithSubmitter(dn.Submitter))
	require.NoError(t, err)

	cold := dn.FundedWallet(0).Address()
	res, err := c.Claim(context.Background(), claim.Request{Match: mt, Wallet: alice.Wallet, Destination: cold})
	require.NoError(t, err)
	require.Equal(t, cold, res.Destination)
	require.Equal(t, uint64(1200), dn.Balance(cold))
	require.Zero(t, dn.Balance(alice.Wallet.Address()))
}

func TestClaimEmptyVault(t *testing.T) {
	dn := testutil.NewDevnet(t)
	payer := dn.FundedWallet(1000)
	alice := testutil.NewRecipient(t)

	// Published but never funded, so the scanner would not report it.
	cfg, err := stealth.DeriveSendAddress(alice.Keys.SpendPub, alice.Keys.ViewPub, nil)
	require.NoError(t, err)
	nonce := testutil.RandomNonce(t)
	publish, err := ledger.PublishAnnouncement(dn.Program, payer.Address(), ledger.AnnouncementParams{
		Nonce: nonce, StealthPub: cfg.StealthPubkey, ViewTag: cfg.ViewTag, Ephemeral: cfg.Ephemeral(),
	})
	require.NoError(t, err)
	_, err = dn.Submit([]ledger.Wallet{payer}, publish)
	require.NoError(t, err)

	sm, ok := alice.Keys.Recipient().Match(cfg.StealthPubkey, cfg.Ephemeral(), cfg.ViewTag)
	require.True(t, ok)
	ann, _ := ledger.AnnouncementAddress(dn.Program, nonce)
	vault, _ := ledger.VaultAddress(dn.Program, cfg.StealthPubkey)
	mt := &scanner.Match{Match: *sm, Announcement: ann, Vault: vault, Nonce: nonce}

	c, err := claim.New(dn.Config, dn.Ledger, claim.WithSubmitter(dn.Submitter))
	require.NoError(t, err)
	_, err = c.Claim(context.Background(), claim.Request{Match: mt, Wallet: alice.Wallet})
	require.ErrorIs(t, err, protocol.ErrEmptyVault)
}

func TestClaimValidation(t *testing.T) {
	dn := testutil.NewDevnet(t)
	c, err := claim.New(dn.Config, dn.Ledger)
	require.NoError(t, err)

	_, err = c.Claim(context.Background(), claim.Request{})
	require.Error(t, err)

	payer := dn.FundedWallet(1000)
	alice := testutil.NewRecipient(t)
	dn.Pay(payer, alice.Keys, 500)
	mt := scanOne(t, dn, alice)

	_, err = c.Claim(context.Background(), claim.Request{Match: mt})
	require.ErrorIs(t, err, protocol.ErrWalletNotConnected)

	alice.Wallet.Disconnect()
	_, err = c.Claim(context.Background(), claim.Request{Match: mt, Wallet: alice.Wallet})
	require.ErrorIs(t, err, protocol.ErrWalletNotConnected)
}

func TestPrivateClaimThroughRelayer(t *testing.T) {
	dn := testutil.NewDevnet(t)
	ctx := context.Background()
	payer := dn.FundedWallet(10_000)
	alice := testutil.NewRecipient(t)
	nonce, _ := dn.Pay(payer, alice.Keys, 4200)
	mt := scanOne(t, dn, alice)

	feePayer := dn.FundedWallet(0)
	_, identity, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	srv, err := relayer.NewServer(dn.Config, dn.Ledger, feePayer, identity, dn.Enclave, store.NewMemoryStore(),
		relayer.WithSubmitter(dn.Submitter))
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c, err := claim.New(dn.Config, dn.Ledger, claim.WithRelayer(relayer.NewClient(ts.URL, srv.PublicKey(), 0)))
	require.NoError(t, err)

	// A fresh destination that has never signed anything.
	dest := dn.FundedWallet(0).Address()
	res, err := c.Claim(ctx, claim.Request{Match: mt, Destination: dest})
	require.NoError(t, err)
	require.Equal(t, claim.ModeRelayed, res.Mode)
	require.Equal(t, uint64(4200), res.Amount)
	require.False(t, res.Signature.IsZero())
	require.Equal(t, uint64(4200), dn.Balance(dest))
	require.True(t, dn.Announcement(nonce).Claimed)

	// The recipient wallet never appears on the ledger.
	status, err := dn.Ledger.GetSignatureStatus(ctx, res.Signature)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusConfirmed, status.Status)
	require.Zero(t, dn.Balance(alice.Wallet.Address()))

	again, err := c.Claim(ctx, claim.Request{Match: mt, Destination: dest})
	require.NoError(t, err)
	require.Equal(t, res.Signature, again.Signature)
}
