// Package relayer implements the relayer service and its client.
//
// The relayer submits transactions that must not be signed by the user's
// wallet: the mixer payout (mix_exec) and private claims (vlt_clam). It pays
// their fees with its own wallet. Every response is a protocol.Signed envelope
// signed by the relayer identity key, which clients pin.
//
// Executions are idempotent. A repeated request for a nonce or vault the
// relayer already handled returns the stored result without submitting again.
package relayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/WaveTek-co/WaveSwap-sub000/claim"
	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
	"github.com/WaveTek-co/WaveSwap-sub000/ledger"
	"github.com/WaveTek-co/WaveSwap-sub000/metrics"
	"github.com/WaveTek-co/WaveSwap-sub000/protocol"
	"github.com/WaveTek-co/WaveSwap-sub000/store"
	"github.com/WaveTek-co/WaveSwap-sub000/teeproof"
)

const (
	executionsBucket = "relayer-executions"
	claimsBucket     = "relayer-claims"

	maxBodySize = 64 << 10
)

// Prover obtains TEE proofs for mixer payouts. *teeproof.InsecureTestEnclave
// and *executor.RemoteProver implement it.
type Prover interface {
	Prove(announcement, vault ledger.Address) (*teeproof.Proof, error)
}

type options struct {
	logger      *slog.Logger
	metrics     *metrics.Metrics
	submitter   *ledger.Submitter
	corsOrigins []string
}

// Option configures a Server.
type Option func(*options)

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

func WithSubmitter(s *ledger.Submitter) Option { return func(o *options) { o.submitter = s } }

// WithCORSOrigins sets the origins allowed to call the relayer from a browser.
func WithCORSOrigins(origins ...string) Option { return func(o *options) { o.corsOrigins = origins } }

// Server is the relayer HTTP service.
type Server struct {
	program   ledger.Address
	client    ledger.Client
	submitter *ledger.Submitter
	wallet    ledger.Wallet
	feePayer  ledger.Address
	identity  crypto.PrivateKey
	prover    Prover
	store     store.Store
	logger    *slog.Logger
	metrics   *metrics.Metrics
	cors      []string

	// mu serializes executions so a nonce or vault is never submitted twice.
	mu sync.Mutex
}

// NewServer creates a relayer. wallet pays the fees of relayed transactions,
// identity signs the responses and prover supplies mixer payout proofs.
func NewServer(cfg *protocol.Config, client ledger.Client, wallet ledger.Wallet, identity crypto.PrivateKey, prover Prover, st store.Store, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = protocol.DefaultConfig()
	}
	program, err := ledger.ParseAddress(cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("program id: %w", err)
	}
	feePayer, err := ledger.WalletAddress(wallet)
	if err != nil {
		return nil, fmt.Errorf("fee payer: %w", err)
	}
	if _, err := identity.PublicKey(); err != nil {
		return nil, fmt.Errorf("identity key: %w", err)
	}
	if st == nil {
		return nil, errors.New("relayer requires a store")
	}

	o := &options{logger: slog.Default(), corsOrigins: []string{"*"}}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewUnregistered()
	}
	if o.submitter == nil {
		o.submitter = ledger.NewSubmitter(client, cfg, nil, o.logger).WithMetrics(o.metrics)
	}

	return &Server{
		program:   program,
		client:    client,
		submitter: o.submitter,
		wallet:    wallet,
		feePayer:  feePayer,
		identity:  identity,
		prover:    prover,
		store:     st,
		logger:    o.logger,
		metrics:   o.metrics,
		cors:      o.corsOrigins,
	}, nil
}

// PublicKey returns the key clients pin.
func (s *Server) PublicKey() crypto.PublicKey {
	pk, _ := s.identity.PublicKey()
	return pk
}

// RegisterRoutes mounts the relayer routes.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cors,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
		r.Use(s.httpLogger)

		r.Get("/info", s.handleInfo)
		r.Post("/execute-mixer", s.handleExecuteMixer)
		r.Post("/claim", s.handleClaim)
	})
}

// Handler returns a router serving only the relayer routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.RegisterRoutes(r)
	return r
}

func (s *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(s.logger, next)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeSigned(s, w, http.StatusOK, &protocol.RelayerInfo{
		PublicKey: s.PublicKey().String(),
		FeePayer:  protocol.Bytes32(s.feePayer),
		Program:   protocol.Bytes32(s.program),
	})
}

func (s *Server) handleExecuteMixer(w http.ResponseWriter, r *http.Request) {
	req, err := protocol.DecodeMessage[protocol.ExecuteMixerRequest](http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		s.reject(w, "execute-mixer", http.StatusBadRequest, "invalid request")
		return
	}

	resp, status, err := s.executeMixer(r.Context(), req)
	if err != nil {
		s.logger.Warn("mixer execution failed", "nonce", req.Nonce.String(), "err", err)
		if resp == nil {
			s.reject(w, "execute-mixer", status, err.Error())
			return
		}
	}
	result := metrics.ResultOK
	if !resp.Success {
		result = metrics.ResultError
	}
	s.metrics.RelayerRequests.WithLabelValues("execute-mixer", result).Inc()
	writeSigned(s, w, status, resp)
}

// executeMixer returns either a response to sign or a plain error with its
// status code.
func (s *Server) executeMixer(ctx context.Context, req *protocol.ExecuteMixerRequest) (*protocol.ExecuteMixerResponse, int, error) {
	if req.Nonce.IsZero() || req.Announcement.IsZero() || req.Vault.IsZero() || req.StealthPubkey.IsZero() {
		return nil, http.StatusBadRequest, errors.New("missing fields")
	}
	nonce := [32]byte(req.Nonce)
	key := req.Nonce.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	prior, err := store.GetObject[protocol.ExecuteMixerResponse](ctx, s.store, executionsBucket, key)
	switch {
	case err == nil:
		return prior, http.StatusOK, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, http.StatusInternalServerError, err
	}

	if len(req.DepositSignature) > 0 {
		var sig ledger.Signature
		if len(req.DepositSignature) != len(sig) {
			return nil, http.StatusBadRequest, errors.New("invalid deposit signature")
		}
		copy(sig[:], req.DepositSignature)
		status, err := s.client.GetSignatureStatus(ctx, sig)
		if err != nil {
			return nil, http.StatusBadGateway, err
		}
		if status.Status == ledger.StatusFailed {
			return nil, http.StatusBadRequest, errors.New("deposit transaction failed")
		}
	}

	recordAddr, _ := ledger.MixerDepositAddress(s.program, nonce)
	acct, err := s.client.GetAccount(ctx, recordAddr)
	if err != nil {
		return nil, http.StatusBadGateway, err
	}
	if acct == nil {
		return nil, http.StatusNotFound, errors.New("no deposit for nonce")
	}
	record, err := ledger.DecodeDepositRecord(acct.Data)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	if record.Consumed {
		return nil, http.StatusConflict, errors.New("deposit already executed")
	}

	params := ledger.AnnouncementParams{
		Nonce:      nonce,
		StealthPub: req.StealthPubkey,
		ViewTag:    req.ViewTag,
		Kind:       ledger.AnnouncementKind(req.Kind),
		Ephemeral:  req.Ephemeral,
	}
	vault := ledger.Address(req.Vault)
	wantAnn, _ := ledger.AnnouncementAddress(s.program, nonce)
	wantVault, _ := ledger.VaultAddress(s.program, req.StealthPubkey)
	if ledger.Address(req.Announcement) != wantAnn || vault != wantVault {
		return nil, http.StatusBadRequest, errors.New("announcement does not match request")
	}
	if ledger.PayoutCommitment(params) != record.Target {
		return nil, http.StatusBadRequest, errors.New("announcement does not match deposit target")
	}
	if status, err := s.ensureAnnouncement(ctx, params, record.Target); err != nil {
		return nil, status, err
	}

	resp := &protocol.ExecuteMixerResponse{Nonce: req.Nonce}
	sig, err := s.submitMixerExecute(ctx, nonce, wantAnn, vault, req.StealthPubkey)
	if err != nil {
		resp.Error = err.Error()
		return resp, http.StatusBadGateway, err
	}
	resp.Success = true
	resp.Signature = sig.String()
	if err := store.PutObject(ctx, s.store, executionsBucket, key, resp); err != nil {
		s.logger.Error("storing execution result", "nonce", key, "err", err)
	}
	s.logger.Info("mixer deposit executed", "nonce", key, "amount", record.Amount, "signature", resp.Signature)
	return resp, http.StatusOK, nil
}

// ensureAnnouncement publishes the announcement of a mixer payout from the
// relayer fee payer unless it already exists. An existing announcement must
// match the deposit target and be unfunded.
func (s *Server) ensureAnnouncement(ctx context.Context, params ledger.AnnouncementParams, target [32]byte) (int, error) {
	addr, _ := ledger.AnnouncementAddress(s.program, params.Nonce)
	acct, err := s.client.GetAccount(ctx, addr)
	if err != nil {
		return http.StatusBadGateway, err
	}
	if acct != nil {
		ann, err := ledger.DecodeAnnouncement(acct.Data)
		if err != nil {
			return http.StatusInternalServerError, err
		}
		if ledger.PayoutCommitment(ann.Params()) != target {
			return http.StatusBadRequest, errors.New("announcement does not match deposit target")
		}
		if ann.Finalized {
			return http.StatusConflict, errors.New("announcement already funded")
		}
		return http.StatusOK, nil
	}

	publish, err := ledger.PublishAnnouncement(s.program, s.feePayer, params)
	if err != nil {
		return http.StatusBadRequest, err
	}
	if _, err := s.submitter.SubmitInstructions(ctx, []ledger.Wallet{s.wallet}, publish); err != nil {
		return http.StatusBadGateway, fmt.Errorf("publish announcement: %w", err)
	}
	s.logger.Info("announcement published for mixer payout", "announcement", addr.String())
	return http.StatusOK, nil
}

func (s *Server) submitMixerExecute(ctx context.Context, nonce [32]byte, announcement, vault ledger.Address, stealthPub [32]byte) (ledger.Signature, error) {
	if s.prover == nil {
		return ledger.Signature{}, errors.New("relayer has no TEE prover")
	}
	proof, err := s.prover.Prove(announcement, vault)
	if err != nil {
		return ledger.Signature{}, fmt.Errorf("tee proof: %w", err)
	}
	raw, err := proof.MarshalBinary()
	if err != nil {
		return ledger.Signature{}, err
	}
	ix, err := ledger.MixerExecute(s.program, s.feePayer, nonce, stealthPub, raw)
	if err != nil {
		return ledger.Signature{}, err
	}
	return s.submitter.SubmitInstructions(ctx, []ledger.Wallet{s.wallet}, ix)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	req, err := protocol.DecodeMessage[protocol.ClaimRequest](http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		s.reject(w, "claim", http.StatusBadRequest, "invalid request")
		return
	}

	resp, status, err := s.claim(r.Context(), req)
	if err != nil {
		s.logger.Warn("relayed claim failed", "vault", req.VaultAddress.String(), "err", err)
		s.reject(w, "claim", status, err.Error())
		return
	}
	result := metrics.ResultOK
	if resp.AlreadyClaimed {
		result = metrics.ResultDuplicate
	}
	s.metrics.RelayerRequests.WithLabelValues("claim", result).Inc()
	writeSigned(s, w, http.StatusOK, resp)
}

func (s *Server) claim(ctx context.Context, req *protocol.ClaimRequest) (*protocol.ClaimResponse, int, error) {
	proof, err := claim.ProofFromRequest(req)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	vault := ledger.Address(req.VaultAddress)
	dest := ledger.Address(req.Destination)
	if dest.IsZero() {
		return nil, http.StatusBadRequest, errors.New("missing destination")
	}
	if !claim.VerifyClaimProof(proof, vault, dest) {
		return nil, http.StatusForbidden, errors.New("invalid claim proof")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := req.VaultAddress.String()
	prior, err := store.GetObject[protocol.ClaimResponse](ctx, s.store, claimsBucket, key)
	switch {
	case err == nil:
		return prior, http.StatusOK, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, http.StatusInternalServerError, err
	}

	annAddr := ledger.Address(req.AnnouncementAddress)
	ann, err := s.announcement(ctx, annAddr)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	wantVault, _ := ledger.VaultAddress(s.program, proof.StealthPubkey)
	if ann.StealthPub != proof.StealthPubkey || ann.Vault != vault || vault != wantVault {
		return nil, http.StatusBadRequest, errors.New("vault does not belong to announcement")
	}

	resp := &protocol.ClaimResponse{VaultAddress: req.VaultAddress}
	if ann.Claimed {
		resp.AlreadyClaimed = true
		return resp, http.StatusOK, nil
	}
	balance, err := s.client.GetBalance(ctx, vault)
	if err != nil {
		return nil, http.StatusBadGateway, err
	}
	if !ann.Finalized || balance == 0 {
		return nil, http.StatusGone, protocol.ErrEmptyVault
	}

	ix := ledger.Claim(s.program, s.feePayer, annAddr, dest, proof.Params())
	sig, err := s.submitter.SubmitInstructions(ctx, []ledger.Wallet{s.wallet}, ix)
	switch {
	case ledger.HasCode(err, ledger.CodeAlreadyClaimed):
		resp.AlreadyClaimed = true
		return resp, http.StatusOK, nil
	case ledger.HasCode(err, ledger.CodeEmptyVault):
		return nil, http.StatusGone, protocol.ErrEmptyVault
	case err != nil:
		return nil, http.StatusBadGateway, fmt.Errorf("submit claim: %w", err)
	}

	resp.Signature = sig.String()
	resp.Amount = balance
	if err := store.PutObject(ctx, s.store, claimsBucket, key, resp); err != nil {
		s.logger.Error("storing claim result", "vault", key, "err", err)
	}
	s.logger.Info("claim relayed", "vault", key, "amount", balance, "signature", resp.Signature)
	return resp, http.StatusOK, nil
}

func (s *Server) announcement(ctx context.Context, addr ledger.Address) (*ledger.Announcement, error) {
	acct, err := s.client.GetAccount(ctx, addr)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, errors.New("announcement not found")
	}
	return ledger.DecodeAnnouncement(acct.Data)
}

func (s *Server) reject(w http.ResponseWriter, route string, status int, msg string) {
	s.metrics.RelayerRequests.WithLabelValues(route, metrics.ResultError).Inc()
	http.Error(w, msg, status)
}

// writeSigned signs obj with the relayer identity and writes it as JSON.
func writeSigned[T any](s *Server, w http.ResponseWriter, status int, obj *T) {
	signed, err := protocol.NewSigned(s.identity, obj)
	if err != nil {
		s.logger.Error("signing response", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(signed); err != nil {
		s.logger.Error("writing response", "err", err)
	}
}
