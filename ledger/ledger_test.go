package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
	"github.com/WaveTek-co/WaveSwap-sub000/protocol"
	"github.com/stretchr/testify/require"
)

var testProgram = Address{0x01, 0x02, 0x03}

func TestProgramAddressDeterministicAndOffCurve(t *testing.T) {
	owner := Address{0xaa}
	a1, b1 := RegistryAddress(testProgram, owner)
	a2, b2 := RegistryAddress(testProgram, owner)
	require.Equal(t, a1, a2)
	require.Equal(t, b1, b2)
	require.False(t, crypto.IsOnCurve(a1))

	other, _ := RegistryAddress(testProgram, Address{0xab})
	require.NotEqual(t, a1, other)

	var nonce [32]byte
	ann, _ := AnnouncementAddress(testProgram, nonce)
	dep, _ := MixerDepositAddress(testProgram, nonce)
	tee, _ := TeeDepositAddress(testProgram, nonce)
	require.NotEqual(t, ann, dep)
	require.NotEqual(t, dep, tee)

	// The bump reproduces the address.
	addr, err := CreateProgramAddress([][]byte{[]byte(SeedRegistry), owner[:], {b1}}, testProgram)
	require.NoError(t, err)
	require.Equal(t, a1, addr)
}

func TestCreateProgramAddressLimits(t *testing.T) {
	_, err := CreateProgramAddress([][]byte{make([]byte, 33)}, testProgram)
	require.Error(t, err)

	seeds := make([][]byte, 17)
	_, err = CreateProgramAddress(seeds, testProgram)
	require.Error(t, err)
}

func TestAddressText(t *testing.T) {
	a := Address{0xde, 0xad}
	text, err := a.MarshalText()
	require.NoError(t, err)

	var b Address
	require.NoError(t, b.UnmarshalText(text))
	require.Equal(t, a, b)

	_, err = ParseAddress("abcd")
	require.Error(t, err)
}

func TestRegistryEncoding(t *testing.T) {
	r := &Registry{
		Owner:    Address{1},
		SpendPub: [32]byte{2},
		ViewPub:  [32]byte{3},
		MetaLen:  10,
		Written:  4,
		Bump:     254,
		Meta:     []byte{1, 2, 3, 4},
	}
	data := r.Encode()
	require.Len(t, data, 8+96+10+10)

	decoded, err := DecodeRegistry(data)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, decoded.MetaAddress())
	require.Len(t, decoded.Meta, 10)

	_, err = DecodeRegistry(data[:len(data)-1])
	require.Error(t, err)

	_, err = DecodeAnnouncement(data)
	require.ErrorIs(t, err, ErrWrongDiscriminator)
}

func TestAnnouncementTruncated(t *testing.T) {
	a := &Announcement{Kind: KindHybrid, Ephemeral: make([]byte, 1120), Amount: 5}
	data := a.Encode()

	decoded, err := DecodeAnnouncement(data)
	require.NoError(t, err)
	require.Equal(t, KindHybrid, decoded.Kind)
	require.Len(t, decoded.Ephemeral, 1120)

	for _, n := range []int{0, 7, 8, 100, len(data) - 1} {
		_, err := DecodeAnnouncement(data[:n])
		require.Error(t, err, "length %d", n)
	}
}

func TestTeeDepositRecordEncoding(t *testing.T) {
	r := &TeeDepositRecord{
		Nonce:     [32]byte{1},
		Executor:  Address{2},
		Depositor: Address{3},
		Target:    [32]byte{4},
		Amount:    500,
		CreatedAt: 1_700_000_000,
		Delegated: true,
		Refunded:  true,
		Bump:      253,
		Sealed:    []byte{9, 9, 9},
	}
	decoded, err := DecodeTeeDepositRecord(r.Encode())
	require.NoError(t, err)
	require.Equal(t, r, decoded)
	require.False(t, decoded.Pending())

	_, err = DecodeDepositRecord(r.Encode())
	require.ErrorIs(t, err, ErrWrongDiscriminator)
}

func TestPayoutCommitment(t *testing.T) {
	p := AnnouncementParams{Nonce: [32]byte{1}, StealthPub: [32]byte{2}, ViewTag: 3, Kind: KindClassical, Ephemeral: []byte{4, 5}}
	c := PayoutCommitment(p)
	require.Equal(t, c, PayoutCommitment(p))

	for name, mutate := range map[string]func(*AnnouncementParams){
		"stealth key": func(q *AnnouncementParams) { q.StealthPub[0] ^= 1 },
		"view tag":    func(q *AnnouncementParams) { q.ViewTag++ },
		"kind":        func(q *AnnouncementParams) { q.Kind = KindHybrid },
		"ephemeral":   func(q *AnnouncementParams) { q.Ephemeral = []byte{4, 5, 0} },
		"nonce":       func(q *AnnouncementParams) { q.Nonce[31] = 1 },
	} {
		q := p
		q.Ephemeral = append([]byte{}, p.Ephemeral...)
		mutate(&q)
		require.NotEqual(t, c, PayoutCommitment(q), name)
	}
}

func TestDepositInstructionsParse(t *testing.T) {
	target := [32]byte{7}
	ix := MixerDeposit(testProgram, Address{1}, [32]byte{2}, target, 99)
	args, err := ParseInstruction(&ix)
	require.NoError(t, err)
	require.Equal(t, &MixerDepositArgs{Nonce: [32]byte{2}, Target: target, Amount: 99}, args)

	ix, err = TeeDeposit(testProgram, Address{1}, TeeDepositParams{
		Nonce: [32]byte{3}, Executor: Address{4}, Target: target, Amount: 5, Sealed: []byte{1, 2},
	})
	require.NoError(t, err)
	args, err = ParseInstruction(&ix)
	require.NoError(t, err)
	require.Equal(t, target, args.(*TeeDepositArgs).Target)
	require.Equal(t, []byte{1, 2}, args.(*TeeDepositArgs).Sealed)

	ix = TeeRefund(testProgram, Address{1}, [32]byte{3})
	args, err = ParseInstruction(&ix)
	require.NoError(t, err)
	require.Equal(t, &TeeRefundArgs{Nonce: [32]byte{3}}, args)
	require.True(t, ix.Accounts[0].IsSigner)
}

func TestTransactionSigning(t *testing.T) {
	w1, err := GenerateKeypairWallet()
	require.NoError(t, err)
	w2, err := GenerateKeypairWallet()
	require.NoError(t, err)

	ix1 := FinalizeRegistry(testProgram, w1.Address())
	ix2 := MixerDeposit(testProgram, w2.Address(), [32]byte{9}, [32]byte{8}, 10)
	tx, err := NewTransaction(ix1, ix2)
	require.NoError(t, err)
	require.Equal(t, []Address{w1.Address(), w2.Address()}, tx.RequiredSigners())

	require.NoError(t, w1.SignTransaction(context.Background(), tx))
	require.Error(t, tx.VerifySignatures())

	require.NoError(t, w2.SignTransaction(context.Background(), tx))
	require.NoError(t, tx.VerifySignatures())
	require.Equal(t, tx.Signatures[w1.Address()], tx.Signature())

	tx.Instructions[1].Data[len(tx.Instructions[1].Data)-1] ^= 1
	require.Error(t, tx.VerifySignatures())
}

func TestWalletDisconnect(t *testing.T) {
	w, err := GenerateKeypairWallet()
	require.NoError(t, err)

	_, err = WalletAddress(w)
	require.NoError(t, err)

	w.Disconnect()
	require.Nil(t, w.PublicKey())
	_, err = WalletAddress(w)
	require.ErrorIs(t, err, protocol.ErrWalletNotConnected)
	_, err = w.SignMessage(context.Background(), []byte("x"))
	require.ErrorIs(t, err, protocol.ErrWalletNotConnected)
}

func TestInstructionValidation(t *testing.T) {
	_, err := MixerExecute(testProgram, Address{}, [32]byte{}, [32]byte{}, make([]byte, 167))
	require.Error(t, err)
	_, err = PublishAnnouncement(testProgram, Address{}, AnnouncementParams{})
	require.Error(t, err)

	ix := FundVault(testProgram, Address{}, [32]byte{}, [32]byte{}, 77)
	require.Equal(t, TagFundVault, ix.Tag())
	require.Len(t, ix.Body(), 8)
}

func TestProgramErrorMatching(t *testing.T) {
	err := errors.Join(errors.New("ctx"), &ProgramError{Code: CodeAlreadyClaimed, Instruction: 0})
	require.ErrorIs(t, err, &ProgramError{Code: CodeAlreadyClaimed})
	require.NotErrorIs(t, err, &ProgramError{Code: CodeEmptyVault})
	require.True(t, HasCode(err, CodeAlreadyClaimed))
	require.False(t, IsTransient(err))

	require.True(t, IsTransient(errors.New("dial tcp: connection refused")))
	require.True(t, IsTransient(ErrTransient))
	require.False(t, IsTransient(nil))
}

func TestDelayBounds(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := Delay(100*time.Millisecond, time.Second, DefaultJitter, attempt)
		require.LessOrEqual(t, d, 1200*time.Millisecond)
		require.GreaterOrEqual(t, d, 80*time.Millisecond)
	}
	require.Equal(t, 400*time.Millisecond, Delay(100*time.Millisecond, time.Second, 0, 2))
}

type fakeClient struct {
	mu          sync.Mutex
	sendErrs    []error
	sendCalls   int
	statuses    []SignatureStatus
	statusCalls int
}

func (f *fakeClient) SendTransaction(_ context.Context, tx *Transaction) (Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return Signature{}, err
		}
	}
	return tx.Signature(), nil
}

func (f *fakeClient) GetSignatureStatus(context.Context, Signature) (*SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if len(f.statuses) == 0 {
		return &SignatureStatus{Status: StatusProcessed}, nil
	}
	s := f.statuses[0]
	f.statuses = f.statuses[1:]
	return &s, nil
}

func (f *fakeClient) GetAccount(context.Context, Address) (*Account, error) { return nil, nil }

func (f *fakeClient) GetProgramAccounts(context.Context, Address, [8]byte) ([]KeyedAccount, error) {
	return nil, nil
}

func (f *fakeClient) GetBalance(context.Context, Address) (uint64, error) { return 0, nil }

func signedTx(t *testing.T) (*Transaction, *KeypairWallet) {
	w, err := GenerateKeypairWallet()
	require.NoError(t, err)
	tx, err := NewTransaction(FinalizeRegistry(testProgram, w.Address()))
	require.NoError(t, err)
	require.NoError(t, w.SignTransaction(context.Background(), tx))
	return tx, w
}

func TestSubmitRetriesTransient(t *testing.T) {
	client := &fakeClient{sendErrs: []error{ErrTransient, ErrTransient, nil}}
	s := NewSubmitter(client, protocol.DefaultConfig(), protocol.NewAutoClock(time.Unix(0, 0)), nil)

	tx, _ := signedTx(t)
	sig, err := s.Submit(context.Background(), tx)
	require.NoError(t, err)
	require.Equal(t, tx.Signature(), sig)
	require.Equal(t, 3, client.sendCalls)
}

func TestSubmitExhaustsRetries(t *testing.T) {
	cfg := protocol.DefaultConfig()
	cfg.MaxSubmitAttempts = 3
	client := &fakeClient{sendErrs: []error{ErrTransient, ErrTransient, ErrTransient, ErrTransient}}
	s := NewSubmitter(client, cfg, protocol.NewAutoClock(time.Unix(0, 0)), nil)

	tx, _ := signedTx(t)
	_, err := s.Submit(context.Background(), tx)
	require.ErrorIs(t, err, protocol.ErrTemporarilyUnavailable)
	require.Equal(t, 3, client.sendCalls)
}

func TestSubmitDoesNotRetryProgramErrors(t *testing.T) {
	client := &fakeClient{sendErrs: []error{&ProgramError{Code: CodeNonceInUse}}}
	s := NewSubmitter(client, protocol.DefaultConfig(), protocol.NewAutoClock(time.Unix(0, 0)), nil)

	tx, _ := signedTx(t)
	_, err := s.Submit(context.Background(), tx)
	require.True(t, HasCode(err, CodeNonceInUse))
	require.Equal(t, 1, client.sendCalls)
}

func TestConfirmTimeout(t *testing.T) {
	cfg := protocol.DefaultConfig()
	clock := protocol.NewAutoClock(time.Unix(0, 0))
	client := &fakeClient{}
	s := NewSubmitter(client, cfg, clock, nil)

	err := s.Confirm(context.Background(), Signature{1})
	require.ErrorIs(t, err, protocol.ErrConfirmationUnknown)
	require.True(t, protocol.IsRetrySafe(err))
	require.Equal(t, int(cfg.ConfirmTimeout/cfg.ConfirmPollInterval)+1, client.statusCalls)
}

func TestConfirmCancelled(t *testing.T) {
	cfg := protocol.DefaultConfig()
	clock := protocol.NewManualClock(time.Unix(0, 0))
	s := NewSubmitter(&fakeClient{}, cfg, clock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Confirm(ctx, Signature{1}) }()

	clock.BlockUntil(1)
	cancel()
	err := <-done
	require.ErrorIs(t, err, protocol.ErrConfirmationUnknown)
	require.ErrorIs(t, err, context.Canceled)
}

func TestConfirmManualClock(t *testing.T) {
	cfg := protocol.DefaultConfig()
	clock := protocol.NewManualClock(time.Unix(0, 0))
	client := &fakeClient{statuses: []SignatureStatus{
		{Status: StatusProcessed},
		{Status: StatusConfirmed},
	}}
	s := NewSubmitter(client, cfg, clock, nil)

	done := make(chan error, 1)
	go func() { done <- s.Confirm(context.Background(), Signature{1}) }()

	clock.BlockUntil(1)
	clock.Advance(cfg.ConfirmPollInterval)
	require.NoError(t, <-done)
}

func TestConfirmFailed(t *testing.T) {
	perr := &ProgramError{Code: CodeInsufficientFunds}
	client := &fakeClient{statuses: []SignatureStatus{{Status: StatusFailed, Err: perr}}}
	s := NewSubmitter(client, protocol.DefaultConfig(), protocol.NewAutoClock(time.Unix(0, 0)), nil)

	err := s.Confirm(context.Background(), Signature{1})
	require.ErrorIs(t, err, &ProgramError{Code: CodeInsufficientFunds})
}
