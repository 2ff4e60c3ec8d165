// Package claim moves the funds of a stealth vault to a destination.
//
// A direct claim is a vlt_clam transaction signed by the recipient's wallet,
// which pays the fee and links the wallet to the vault. A private claim hands
// a ClaimProof to a relayer, which submits the transaction and pays the fee
// itself, so only the destination ever appears next to the vault.
//
// Both modes are idempotent: claiming a vault that an earlier claim drained
// returns a Result with AlreadyClaimed set instead of an error.
package claim

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
	"github.com/WaveTek-co/WaveSwap-sub000/ledger"
	"github.com/WaveTek-co/WaveSwap-sub000/metrics"
	"github.com/WaveTek-co/WaveSwap-sub000/protocol"
	"github.com/WaveTek-co/WaveSwap-sub000/scanner"
)

const (
	ModeDirect  = "direct"
	ModeRelayed = "relayed"
)

// Proof authorizes moving a vault's funds to one destination.
type Proof struct {
	StealthPubkey   [32]byte
	Signature       [64]byte
	DestinationHash [32]byte
}

// BuildClaimProof signs the claim message with the stealth private scalar.
func BuildClaimProof(stealthPriv, stealthPub [32]byte, vault, destination ledger.Address) (*Proof, error) {
	destHash := ledger.DestinationHash(destination)
	sig, err := crypto.SignWithScalar(stealthPriv, stealthPub, ledger.ClaimMessage(vault, destHash))
	if err != nil {
		return nil, fmt.Errorf("sign claim: %w", err)
	}
	p := &Proof{StealthPubkey: stealthPub, DestinationHash: destHash}
	copy(p.Signature[:], sig)
	return p, nil
}

// VerifyClaimProof checks that p authorizes paying vault out to destination.
func VerifyClaimProof(p *Proof, vault, destination ledger.Address) bool {
	if p == nil || ledger.DestinationHash(destination) != p.DestinationHash {
		return false
	}
	params := p.Params()
	return ledger.VerifyClaimSignature(&params, vault)
}

// Params converts the proof to claim instruction parameters.
func (p *Proof) Params() ledger.ClaimParams {
	return ledger.ClaimParams{
		StealthPub:      p.StealthPubkey,
		Signature:       p.Signature,
		DestinationHash: p.DestinationHash,
	}
}

// Request returns the relayer request carrying p.
func (p *Proof) Request(announcement, vault, destination ledger.Address) *protocol.ClaimRequest {
	return &protocol.ClaimRequest{
		VaultAddress:        protocol.Bytes32(vault),
		AnnouncementAddress: protocol.Bytes32(announcement),
		Destination:         protocol.Bytes32(destination),
		StealthPubkey:       protocol.Bytes32(p.StealthPubkey),
		Signature:           protocol.HexBytes(p.Signature[:]),
		DestinationHash:     protocol.Bytes32(p.DestinationHash),
	}
}

// ProofFromRequest extracts the proof of a relayer claim request.
func ProofFromRequest(req *protocol.ClaimRequest) (*Proof, error) {
	if len(req.Signature) != ed25519.SignatureSize {
		return nil, fmt.Errorf("claim signature must be %d bytes, got %d", ed25519.SignatureSize, len(req.Signature))
	}
	p := &Proof{
		StealthPubkey:   req.StealthPubkey,
		DestinationHash: req.DestinationHash,
	}
	copy(p.Signature[:], req.Signature)
	return p, nil
}

// Relayer submits claims on behalf of recipients. *relayer.Client implements it.
type Relayer interface {
	Claim(ctx context.Context, req *protocol.ClaimRequest) (*protocol.ClaimResponse, error)
}

// Request describes one claim. Destination defaults to the wallet address.
// A private claim needs no wallet when Destination is set.
type Request struct {
	Match       *scanner.Match
	Destination ledger.Address
	Wallet      ledger.Wallet
}

// Result reports a claim.
type Result struct {
	Mode           string
	Destination    ledger.Address
	Signature      ledger.Signature
	Amount         uint64
	AlreadyClaimed bool
}

type options struct {
	relayer   Relayer
	logger    *slog.Logger
	metrics   *metrics.Metrics
	submitter *ledger.Submitter
}

// Option configures a Claimer.
type Option func(*options)

// WithRelayer makes every claim private, submitted through r.
func WithRelayer(r Relayer) Option { return func(o *options) { o.relayer = r } }

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

func WithSubmitter(s *ledger.Submitter) Option { return func(o *options) { o.submitter = s } }

// Claimer runs direct and relayed claims.
type Claimer struct {
	program   ledger.Address
	client    ledger.Client
	submitter *ledger.Submitter
	relayer   Relayer
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New creates a claimer for the program in cfg.
func New(cfg *protocol.Config, client ledger.Client, opts ...Option) (*Claimer, error) {
	if cfg == nil {
		cfg = protocol.DefaultConfig()
	}
	program, err := ledger.ParseAddress(cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("program id: %w", err)
	}
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewUnregistered()
	}
	if o.submitter == nil {
		o.submitter = ledger.NewSubmitter(client, cfg, nil, o.logger).WithMetrics(o.metrics)
	}
	return &Claimer{
		program:   program,
		client:    client,
		submitter: o.submitter,
		relayer:   o.relayer,
		logger:    o.logger,
		metrics:   o.metrics,
	}, nil
}

// Claim pays the matched vault out to the destination.
func (c *Claimer) Claim(ctx context.Context, req Request) (*Result, error) {
	if req.Match == nil {
		return nil, errors.New("claim requires a match")
	}
	dest := req.Destination
	if dest.IsZero() {
		addr, err := ledger.WalletAddress(req.Wallet)
		if err != nil {
			return nil, err
		}
		dest = addr
	}

	mode := ModeDirect
	if c.relayer != nil {
		mode = ModeRelayed
	}
	res, err := c.claim(ctx, mode, req, dest)
	switch {
	case err != nil:
		c.metrics.Claims.WithLabelValues(mode, metrics.ResultError).Inc()
	case res.AlreadyClaimed:
		c.metrics.Claims.WithLabelValues(mode, metrics.ResultDuplicate).Inc()
	default:
		c.metrics.Claims.WithLabelValues(mode, metrics.ResultOK).Inc()
	}
	return res, err
}

func (c *Claimer) claim(ctx context.Context, mode string, req Request, dest ledger.Address) (*Result, error) {
	m := req.Match
	log := c.logger.With("vault", m.Vault.String(), "mode", mode)

	proof, err := BuildClaimProof(m.StealthPriv, m.StealthPub, m.Vault, dest)
	if err != nil {
		return nil, err
	}
	res := &Result{Mode: mode, Destination: dest}

	if mode == ModeRelayed {
		resp, err := c.relayer.Claim(ctx, proof.Request(m.Announcement, m.Vault, dest))
		if err != nil {
			return nil, fmt.Errorf("relayed claim: %w", err)
		}
		if ledger.Address(resp.VaultAddress) != m.Vault {
			return nil, errors.New("relayer answered for a different vault")
		}
		res.AlreadyClaimed = resp.AlreadyClaimed
		res.Amount = resp.Amount
		if resp.Signature != "" {
			var sig ledger.Signature
			if err := sig.UnmarshalText([]byte(resp.Signature)); err != nil {
				return nil, fmt.Errorf("relayer signature: %w", err)
			}
			res.Signature = sig
		}
		log.Info("claim relayed", "amount", res.Amount, "alreadyClaimed", res.AlreadyClaimed)
		return res, nil
	}

	submitter, err := ledger.WalletAddress(req.Wallet)
	if err != nil {
		return nil, err
	}
	balance, err := c.client.GetBalance(ctx, m.Vault)
	if err != nil {
		return nil, fmt.Errorf("vault balance: %w", err)
	}

	ix := ledger.Claim(c.program, submitter, m.Announcement, dest, proof.Params())
	sig, err := c.submitter.SubmitInstructions(ctx, []ledger.Wallet{req.Wallet}, ix)
	switch {
	case ledger.HasCode(err, ledger.CodeAlreadyClaimed):
		log.Info("vault already claimed")
		res.AlreadyClaimed = true
		return res, nil
	case ledger.HasCode(err, ledger.CodeEmptyVault):
		return nil, fmt.Errorf("%w: %v", protocol.ErrEmptyVault, err)
	case err != nil:
		return nil, fmt.Errorf("claim: %w", err)
	}

	res.Signature = sig
	res.Amount = balance
	log.Info("claim confirmed", "amount", balance, "signature", sig.String())
	return res, nil
}
