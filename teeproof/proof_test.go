package teeproof

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
	"github.com/WaveTek-co/WaveSwap-sub000/ledger"
	"github.com/WaveTek-co/WaveSwap-sub000/protocol"
	"github.com/WaveTek-co/WaveSwap-sub000/services"
	"github.com/WaveTek-co/WaveSwap-sub000/tdx"
)

var (
	testAnnouncement = ledger.Address{1, 2, 3}
	testVault        = ledger.Address{4, 5, 6}
)

func newEnclave(t *testing.T) (*InsecureTestEnclave, *protocol.ManualClock) {
	t.Helper()
	clock := protocol.NewManualClock(time.Unix(1_700_000_000, 0))
	e, err := NewInsecureTestEnclave(nil, clock)
	require.NoError(t, err)
	return e, clock
}

func TestProofCodecBoundaries(t *testing.T) {
	var p Proof
	for _, n := range []int{0, 1, Size - 1, Size + 1, 2 * Size} {
		require.ErrorIs(t, p.UnmarshalBinary(make([]byte, n)), ErrInvalidLength, "length %d", n)
	}

	raw := make([]byte, Size)
	for i := range raw {
		raw[i] = byte(i)
	}
	require.NoError(t, p.UnmarshalBinary(raw))
	require.Equal(t, raw[0:32], p.Commitment[:])
	require.Equal(t, raw[32:96], p.Signature[:])
	require.Equal(t, raw[96:128], p.Measurement[:])
	require.Equal(t, uint64(0x8786858483828180), p.Timestamp)
	require.Equal(t, raw[136:168], p.SessionID[:])

	out, err := p.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, out, Size)
	require.True(t, bytes.Equal(raw, out))
	require.Equal(t, Size, ledger.TEEProofSize)
}

func TestCommitmentBindsAccounts(t *testing.T) {
	c := Commitment(testAnnouncement, testVault)
	require.Equal(t, c, Commitment(testAnnouncement, testVault))
	require.NotEqual(t, c, Commitment(testVault, testAnnouncement))
	require.NotEqual(t, c, Commitment(testAnnouncement, ledger.Address{}))
}

func TestProveAndVerify(t *testing.T) {
	e, clock := newEnclave(t)

	p, err := e.Prove(testAnnouncement, testVault)
	require.NoError(t, err)
	require.Equal(t, 1, e.ProofsIssued())

	raw, err := p.MarshalBinary()
	require.NoError(t, err)
	parsed, err := Parse(raw)
	require.NoError(t, err)

	opts := e.VerifyOptions(clock)
	opts.MaxAge = time.Minute
	signer, err := Verify(parsed, testAnnouncement, testVault, opts)
	require.NoError(t, err)
	require.True(t, signer.Equal(e.SigningKey()))

	t.Run("wrong accounts", func(t *testing.T) {
		_, err := Verify(parsed, testAnnouncement, ledger.Address{9}, opts)
		require.ErrorIs(t, err, ErrCommitmentMismatch)
	})

	t.Run("unknown enclave", func(t *testing.T) {
		other, _ := newEnclave(t)
		o := opts
		o.EnclaveKeys = []crypto.PublicKey{other.SigningKey()}
		_, err := Verify(parsed, testAnnouncement, testVault, o)
		require.ErrorIs(t, err, ErrUnknownEnclave)
	})

	t.Run("measurement not allowed", func(t *testing.T) {
		o := opts
		o.AllowedMeasurements = [][32]byte{{0xff}}
		_, err := Verify(parsed, testAnnouncement, testVault, o)
		require.ErrorIs(t, err, ErrMeasurementRejected)

		o.AllowedMeasurements = nil
		_, err = Verify(parsed, testAnnouncement, testVault, o)
		require.ErrorIs(t, err, ErrMeasurementRejected)
	})

	t.Run("tampered fields", func(t *testing.T) {
		tampered := *parsed
		tampered.Timestamp++
		_, err := Verify(&tampered, testAnnouncement, testVault, opts)
		require.ErrorIs(t, err, ErrUnknownEnclave)

		tampered = *parsed
		tampered.SessionID[0] ^= 1
		_, err = Verify(&tampered, testAnnouncement, testVault, opts)
		require.ErrorIs(t, err, ErrUnknownEnclave)
	})

	t.Run("expired", func(t *testing.T) {
		o := opts
		o.Now = clock.Now().Add(2 * time.Minute)
		_, err := Verify(parsed, testAnnouncement, testVault, o)
		require.ErrorIs(t, err, ErrExpired)

		o.Now = clock.Now().Add(-2 * time.Minute)
		_, err = Verify(parsed, testAnnouncement, testVault, o)
		require.ErrorIs(t, err, ErrExpired)

		o.MaxAge = 0
		_, err = Verify(parsed, testAnnouncement, testVault, o)
		require.NoError(t, err)
	})
}

func TestSessionIDsAreFresh(t *testing.T) {
	e, _ := newEnclave(t)
	a, err := e.Prove(testAnnouncement, testVault)
	require.NoError(t, err)
	b, err := e.Prove(testAnnouncement, testVault)
	require.NoError(t, err)
	require.NotEqual(t, a.SessionID, b.SessionID)
}

func TestEnclaveMeasurementMatchesRegistry(t *testing.T) {
	e, _ := newEnclave(t)

	signed, err := e.Info("http://enclave:8080")
	require.NoError(t, err)

	digest, err := services.VerifyEnclaveInfo(context.Background(), services.DemoMeasurementSource(), &tdx.DummyProvider{}, signed)
	require.NoError(t, err)
	require.Equal(t, e.Measurement(), digest)

	allowed, err := services.AllowedMeasurementDigests(context.Background(), services.DemoMeasurementSource())
	require.NoError(t, err)
	require.Contains(t, allowed, e.Measurement())
}

func TestUnseal(t *testing.T) {
	e, _ := newEnclave(t)

	msg, err := crypto.Seal(e.SealingKey(), []byte("pay the vault"))
	require.NoError(t, err)
	out, err := e.Unseal(msg.Bytes())
	require.NoError(t, err)
	require.Equal(t, []byte("pay the vault"), out)

	other, _ := newEnclave(t)
	_, err = other.Unseal(msg.Bytes())
	require.Error(t, err)
}

func FuzzProofUnmarshal(f *testing.F) {
	f.Add(make([]byte, Size))
	f.Add([]byte{1, 2, 3})
	f.Fuzz(func(t *testing.T, data []byte) {
		var p Proof
		if err := p.UnmarshalBinary(data); err != nil {
			return
		}
		out, err := p.MarshalBinary()
		if err != nil || !bytes.Equal(out, data) {
			t.Fatalf("re-encoding mismatch")
		}
	})
}
