package teeproof

import (
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
	"github.com/WaveTek-co/WaveSwap-sub000/ledger"
	"github.com/WaveTek-co/WaveSwap-sub000/protocol"
	"github.com/WaveTek-co/WaveSwap-sub000/services"
	"github.com/WaveTek-co/WaveSwap-sub000/tdx"
)

// InsecureTestEnclave simulates an enclave executor by keeping its keys in
// process memory. It produces proofs that verify against its own key and the
// dummy measurement, but provides no hardware security guarantees.
//
// It exists for tests and the devnet demo only.
type InsecureTestEnclave struct {
	signingKey  crypto.PrivateKey
	signingPub  crypto.PublicKey
	sealingKey  crypto.KemPrivateKey
	sealingPub  crypto.KemPublicKey
	provider    services.TEEProvider
	measurement [32]byte
	clock       protocol.Clock

	mu       sync.Mutex
	sessions int
}

// NewInsecureTestEnclave creates an enclave with fresh keys. A nil clock
// selects the system clock.
func NewInsecureTestEnclave(logger *slog.Logger, clock protocol.Clock) (*InsecureTestEnclave, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = protocol.SystemClock{}
	}

	signingPub, signingKey, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	sealingPub, sealingKey, err := crypto.GenerateKemKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate sealing key: %w", err)
	}

	provider := &tdx.DummyProvider{}
	var reportData [64]byte
	attestation, err := provider.Attest(reportData)
	if err != nil {
		return nil, err
	}
	measurements, err := provider.Verify(attestation, reportData)
	if err != nil {
		return nil, err
	}

	logger.Warn("using insecure test enclave, proofs carry no hardware guarantees",
		"signingKey", signingPub.String())

	return &InsecureTestEnclave{
		signingKey:  signingKey,
		signingPub:  signingPub,
		sealingKey:  sealingKey,
		sealingPub:  sealingPub,
		provider:    provider,
		measurement: services.MeasurementDigest(measurements),
		clock:       clock,
	}, nil
}

// Prove issues a proof for a payout into vault announced at announcement.
func (e *InsecureTestEnclave) Prove(announcement, vault ledger.Address) (*Proof, error) {
	p := &Proof{
		Commitment:  Commitment(announcement, vault),
		Measurement: e.measurement,
		Timestamp:   uint64(e.clock.Now().Unix()),
	}
	if _, err := io.ReadFull(rand.Reader, p.SessionID[:]); err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	sig, err := crypto.Sign(e.signingKey, p.SigningMessage())
	if err != nil {
		return nil, err
	}
	copy(p.Signature[:], sig)

	e.mu.Lock()
	e.sessions++
	e.mu.Unlock()
	return p, nil
}

// Unseal opens a payload sealed to the enclave's sealing key.
func (e *InsecureTestEnclave) Unseal(sealed []byte) ([]byte, error) {
	msg, err := crypto.ParseEncryptedMessage(sealed)
	if err != nil {
		return nil, err
	}
	return crypto.Open(e.sealingKey, msg)
}

// SigningKey returns the enclave's public signing key.
func (e *InsecureTestEnclave) SigningKey() crypto.PublicKey { return e.signingPub }

// SealingKey returns the key senders seal payment instructions to.
func (e *InsecureTestEnclave) SealingKey() crypto.KemPublicKey { return e.sealingPub }

// Measurement returns the digest carried by this enclave's proofs.
func (e *InsecureTestEnclave) Measurement() [32]byte { return e.measurement }

// ProofsIssued reports how many proofs were signed.
func (e *InsecureTestEnclave) ProofsIssued() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions
}

// Wallet returns a wallet holding the enclave signing key. The executor pays
// for and signs its transactions with it.
func (e *InsecureTestEnclave) Wallet() (*ledger.KeypairWallet, error) {
	return ledger.NewKeypairWallet(e.signingKey)
}

// Info returns the attested, signed enclave identity for registry publication.
func (e *InsecureTestEnclave) Info(endpoint string) (*protocol.Signed[services.EnclaveInfo], error) {
	return services.SignEnclaveInfo(e.signingKey, e.sealingPub, endpoint, e.provider)
}

// VerifyOptions returns options trusting exactly this enclave.
func (e *InsecureTestEnclave) VerifyOptions(clock protocol.Clock) VerifyOptions {
	if clock == nil {
		clock = e.clock
	}
	return VerifyOptions{
		EnclaveKeys:         []crypto.PublicKey{e.signingPub},
		AllowedMeasurements: [][32]byte{e.measurement},
		Now:                 clock.Now(),
	}
}
