package stealth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
	"github.com/WaveTek-co/WaveSwap-sub000/ledger"
	"github.com/WaveTek-co/WaveSwap-sub000/protocol"
	"github.com/stretchr/testify/require"
)

func randomKeys(t testing.TB) *StealthKeyPair {
	kp, err := NewRandomKeyPair(rand.Reader)
	require.NoError(t, err)
	return kp
}

func TestDeriveKeysDeterministic(t *testing.T) {
	sig := []byte("some wallet signature bytes")
	a, err := DeriveKeys(sig)
	require.NoError(t, err)
	b, err := DeriveKeys(sig)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.True(t, crypto.IsCanonicalScalar(a.SpendPriv))

	c, err := DeriveKeys([]byte("another signature"))
	require.NoError(t, err)
	require.NotEqual(t, a.SpendPub, c.SpendPub)

	_, err = DeriveKeys(nil)
	require.Error(t, err)
}

func TestDeriveKeysFromWallet(t *testing.T) {
	w, err := ledger.GenerateKeypairWallet()
	require.NoError(t, err)

	a, err := DeriveKeysFromWallet(context.Background(), w)
	require.NoError(t, err)
	b, err := DeriveKeysFromWallet(context.Background(), w)
	require.NoError(t, err)
	require.Equal(t, a, b)

	w.Disconnect()
	_, err = DeriveKeysFromWallet(context.Background(), w)
	require.ErrorIs(t, err, protocol.ErrWalletNotConnected)
}

func TestClassicalRoundTrip(t *testing.T) {
	kp := randomKeys(t)
	recipient := kp.Recipient()

	for i := 0; i < 50; i++ {
		cfg, err := DeriveSendAddress(kp.SpendPub, kp.ViewPub, nil)
		require.NoError(t, err)
		require.Equal(t, Classical, cfg.Kind)
		require.Len(t, cfg.Ephemeral(), 32)

		require.True(t, CheckViewTag(kp.ViewKey(), cfg.Ephemeral(), cfg.ViewTag))

		priv, pub, err := DeriveStealthPrivateKey(kp.SpendPriv, kp.ViewKey(), cfg.Ephemeral())
		require.NoError(t, err)
		require.Equal(t, cfg.StealthPubkey, pub)

		m, ok := recipient.Match(cfg.StealthPubkey, cfg.Ephemeral(), cfg.ViewTag)
		require.True(t, ok)
		require.Equal(t, priv, m.StealthPriv)

		// The stealth key signs like any Ed25519 key.
		sig, err := crypto.SignWithScalar(priv, pub, []byte("msg"))
		require.NoError(t, err)
		require.True(t, ed25519.Verify(pub[:], []byte("msg"), sig))
	}
}

func TestDeriveSendAddressWithFixedEphemeral(t *testing.T) {
	kp := randomKeys(t)
	eph := [32]byte{1, 2, 3}
	a, err := DeriveSendAddress(kp.SpendPub, kp.ViewPub, &eph)
	require.NoError(t, err)
	b, err := DeriveSendAddress(kp.SpendPub, kp.ViewPub, &eph)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestHybridRoundTrip(t *testing.T) {
	bundle, err := GenerateHybridBundle(rand.Reader)
	require.NoError(t, err)
	require.Len(t, bundle.MetaAddress(), HybridMetaAddressSize)

	recipient, err := bundle.Recipient()
	require.NoError(t, err)
	hvk, err := bundle.ViewKey()
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		cfg, err := DeriveHybridSendAddress(bundle.MetaAddress(), bundle.Classical.SpendPub, rand.Reader)
		require.NoError(t, err)
		require.Equal(t, Hybrid, cfg.Kind)
		require.Len(t, cfg.Ephemeral(), HybridCiphertextSize)

		require.True(t, CheckViewTag(hvk, cfg.Ephemeral(), cfg.ViewTag))

		_, pub, err := DeriveStealthPrivateKey(bundle.Classical.SpendPriv, hvk, cfg.Ephemeral())
		require.NoError(t, err)
		require.Equal(t, cfg.StealthPubkey, pub)

		_, ok := recipient.Match(cfg.StealthPubkey, cfg.Ephemeral(), cfg.ViewTag)
		require.True(t, ok)
	}

	// The bundle recipient also accepts classical payments to its classical keys.
	cfg, err := DeriveSendAddress(bundle.Classical.SpendPub, bundle.Classical.ViewPub, nil)
	require.NoError(t, err)
	_, ok := recipient.Match(cfg.StealthPubkey, cfg.Ephemeral(), cfg.ViewTag)
	require.True(t, ok)
}

func TestHybridBundlePersistence(t *testing.T) {
	bundle, err := GenerateHybridBundle(rand.Reader)
	require.NoError(t, err)

	data, err := bundle.MarshalBinary()
	require.NoError(t, err)
	restored, err := UnmarshalHybridBundle(data)
	require.NoError(t, err)
	require.Equal(t, bundle.MetaAddress(), restored.MetaAddress())

	cfg, err := DeriveHybridSendAddress(bundle.MetaAddress(), bundle.Classical.SpendPub, rand.Reader)
	require.NoError(t, err)
	recipient, err := restored.Recipient()
	require.NoError(t, err)
	_, ok := recipient.Match(cfg.StealthPubkey, cfg.Ephemeral(), cfg.ViewTag)
	require.True(t, ok)

	restored.Hybrid.X25519Public[0] ^= 1
	data, err = restored.MarshalBinary()
	require.NoError(t, err)
	_, err = UnmarshalHybridBundle(data)
	require.Error(t, err)
}

func TestHybridMalformedInput(t *testing.T) {
	bundle, err := GenerateHybridBundle(rand.Reader)
	require.NoError(t, err)
	hvk, err := bundle.ViewKey()
	require.NoError(t, err)

	_, err = DeriveHybridSendAddress(bundle.MetaAddress()[:100], bundle.Classical.SpendPub, rand.Reader)
	require.Error(t, err)

	require.False(t, CheckViewTag(hvk, make([]byte, 32), 0))
	require.False(t, CheckViewTag(hvk, make([]byte, HybridCiphertextSize-1), 0))

	// A tampered ciphertext decapsulates to an unrelated secret and never matches.
	cfg, err := DeriveHybridSendAddress(bundle.MetaAddress(), bundle.Classical.SpendPub, rand.Reader)
	require.NoError(t, err)
	ct := append([]byte(nil), cfg.Ciphertext...)
	ct[10] ^= 0xff
	recipient, err := bundle.Recipient()
	require.NoError(t, err)
	_, ok := recipient.Match(cfg.StealthPubkey, ct, cfg.ViewTag)
	require.False(t, ok)
}

func TestMalformedEphemeralNeverMatches(t *testing.T) {
	kp := randomKeys(t)
	r := kp.Recipient()

	// All-zero is a low-order point and X25519 rejects it.
	_, ok := r.Match([32]byte{}, make([]byte, 32), 0)
	require.False(t, ok)
	require.False(t, CheckViewTag(kp.ViewKey(), nil, 0))
	require.False(t, CheckViewTag(kp.ViewKey(), make([]byte, 33), 0))
}

// A random ephemeral key passes the tag check about once in 256 trials and
// the full derivation rejects every one of those.
func TestViewTagFalseAcceptRate(t *testing.T) {
	kp := randomKeys(t)
	r := kp.Recipient()

	const trials = 10000
	tagHits := 0
	for i := 0; i < trials; i++ {
		var eph, stealthPub [32]byte
		_, _ = rand.Read(eph[:])
		_, _ = rand.Read(stealthPub[:])
		tag := byte(i)

		if !r.CheckTag(eph[:], tag) {
			continue
		}
		tagHits++
		_, ok := r.Match(stealthPub, eph[:], tag)
		require.False(t, ok, "false positive after full derivation")
	}
	// Expected 39, standard deviation about 6.2.
	require.Greater(t, tagHits, 10)
	require.Less(t, tagHits, 80)
}

func TestUnrelatedViewKeyRejectedAtTagStage(t *testing.T) {
	alice := randomKeys(t)
	bob := randomKeys(t)

	const trials = 10000
	rejected := 0
	for i := 0; i < trials; i++ {
		cfg, err := DeriveSendAddress(alice.SpendPub, alice.ViewPub, nil)
		require.NoError(t, err)
		if !CheckViewTag(bob.ViewKey(), cfg.Ephemeral(), cfg.ViewTag) {
			rejected++
			continue
		}
		_, ok := bob.Recipient().Match(cfg.StealthPubkey, cfg.Ephemeral(), cfg.ViewTag)
		require.False(t, ok)
	}
	require.GreaterOrEqual(t, rejected, trials*99/100)
}
