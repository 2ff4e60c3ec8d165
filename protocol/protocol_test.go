package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Nonce  string `json:"nonce"`
	Amount uint64 `json:"amount"`
}

func TestSignedRecover(t *testing.T) {
	pub, priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	signed, err := NewSigned(priv, &testPayload{Nonce: "ab", Amount: 7})
	require.NoError(t, err)

	obj, signer, err := signed.Recover()
	require.NoError(t, err)
	require.Equal(t, uint64(7), obj.Amount)
	require.True(t, signer.Equal(pub))

	_, err = signed.RecoverFrom(pub)
	require.NoError(t, err)

	other, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	_, err = signed.RecoverFrom(other)
	require.ErrorIs(t, err, ErrUnexpectedSigner)
}

func TestSignedRejectsTampering(t *testing.T) {
	_, priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	signed, err := NewSigned(priv, &testPayload{Nonce: "ab", Amount: 7})
	require.NoError(t, err)

	signed.Object.Amount = 8
	_, _, err = signed.Recover()
	require.ErrorIs(t, err, ErrInvalidSignature)

	// A signature over the bare object does not verify without the domain prefix.
	data, err := json.Marshal(signed.Object)
	require.NoError(t, err)
	signed.Signature, err = crypto.Sign(priv, append(data, signed.PublicKey...))
	require.NoError(t, err)
	_, _, err = signed.Recover()
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestSignedJSONRoundTrip(t *testing.T) {
	_, priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	signed, err := NewSigned(priv, &testPayload{Nonce: "cd", Amount: 1})
	require.NoError(t, err)

	data, err := SerializeMessage(signed)
	require.NoError(t, err)

	decoded, err := UnmarshalMessage[Signed[testPayload]](data)
	require.NoError(t, err)

	obj, _, err := decoded.Recover()
	require.NoError(t, err)
	require.Equal(t, "cd", obj.Nonce)
}

func TestFundsSafeError(t *testing.T) {
	cause := errors.New("relayer returned 502")
	err := fmt.Errorf("mixer execution: %w", &FundsSafeError{Amount: 10, Cause: cause})

	require.ErrorIs(t, err, ErrFundsSafe)
	require.ErrorIs(t, err, cause)
	require.True(t, IsRetrySafe(err))

	var fse *FundsSafeError
	require.ErrorAs(t, err, &fse)
	require.Equal(t, uint64(10), fse.Amount)

	require.False(t, IsRetrySafe(ErrNonceReuse))
	require.True(t, IsRetrySafe(ErrConfirmationUnknown))
}

func TestManualClockAdvance(t *testing.T) {
	start := time.Unix(1000, 0)
	clock := NewManualClock(start)

	ch := clock.After(5 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired before advance")
	default:
	}

	clock.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired too early")
	default:
	}

	clock.Advance(time.Second)
	select {
	case fired := <-ch:
		require.Equal(t, start.Add(5*time.Second), fired)
	default:
		t.Fatal("did not fire")
	}
}

func TestManualClockBlockUntil(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	done := make(chan struct{})

	go func() {
		<-clock.After(time.Minute)
		close(done)
	}()

	clock.BlockUntil(1)
	clock.Advance(time.Minute)
	<-done
}

func TestAutoClock(t *testing.T) {
	clock := NewAutoClock(time.Unix(0, 0))
	<-clock.After(time.Hour)
	require.Equal(t, time.Unix(0, 0).Add(time.Hour), clock.Now())
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.ChunkSize = MaxChunkSize + 1
	require.Error(t, cfg.Validate())
}
