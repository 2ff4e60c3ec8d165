package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
	"github.com/WaveTek-co/WaveSwap-sub000/ledger"
	"github.com/WaveTek-co/WaveSwap-sub000/protocol"
	"github.com/WaveTek-co/WaveSwap-sub000/services"
	"github.com/WaveTek-co/WaveSwap-sub000/teeproof"
)

// ProveRequest asks the enclave for a mixer payout proof.
type ProveRequest struct {
	Announcement protocol.Bytes32 `json:"announcement"`
	Vault        protocol.Bytes32 `json:"vault"`
}

// ProveResponse carries the 168-byte proof.
type ProveResponse struct {
	Proof protocol.HexBytes `json:"proof"`
}

// Server exposes the enclave to relayers. It only proves payouts of mixer
// deposits that exist and are not consumed yet.
type Server struct {
	program ledger.Address
	client  ledger.Client
	enclave Enclave
	info    *protocol.Signed[services.EnclaveInfo]
	logger  *slog.Logger
}

// NewServer creates the proof service. info, when set, is served on GET /info
// for registry publication.
func NewServer(cfg *protocol.Config, client ledger.Client, enclave Enclave, info *protocol.Signed[services.EnclaveInfo], logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		cfg = protocol.DefaultConfig()
	}
	program, err := ledger.ParseAddress(cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("program id: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{program: program, client: client, enclave: enclave, info: info, logger: logger}, nil
}

// RegisterRoutes mounts the enclave routes.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return httplogger.LoggingMiddlewareSlog(s.logger, next)
		})
		r.Get("/enclave/info", s.handleInfo)
		r.Post("/enclave/prove", s.handleProve)
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if s.info == nil {
		http.Error(w, "enclave info not configured", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.info)
}

func (s *Server) handleProve(w http.ResponseWriter, r *http.Request) {
	req, err := protocol.DecodeMessage[ProveRequest](http.MaxBytesReader(w, r.Body, 4096))
	if err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	announcement := ledger.Address(req.Announcement)
	vault := ledger.Address(req.Vault)
	if err := s.checkMixerPayout(r.Context(), announcement, vault); err != nil {
		s.logger.Warn("refusing proof", "announcement", announcement.String(), "err", err)
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	proof, err := s.enclave.Prove(announcement, vault)
	if err != nil {
		http.Error(w, "proof generation failed", http.StatusInternalServerError)
		return
	}
	raw, err := proof.MarshalBinary()
	if err != nil {
		http.Error(w, "proof encoding failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(&ProveResponse{Proof: raw})
}

// checkMixerPayout requires an unfunded announcement whose nonce has an
// unconsumed mixer deposit committed to it and whose vault is the requested
// one.
func (s *Server) checkMixerPayout(ctx context.Context, announcement, vault ledger.Address) error {
	acct, err := s.client.GetAccount(ctx, announcement)
	if err != nil {
		return err
	}
	if acct == nil {
		return errors.New("announcement not found")
	}
	ann, err := ledger.DecodeAnnouncement(acct.Data)
	if err != nil {
		return err
	}
	if ann.Vault != vault {
		return errors.New("vault does not belong to announcement")
	}
	if ann.Finalized {
		return errors.New("announcement already funded")
	}

	recordAddr, _ := ledger.MixerDepositAddress(s.program, ann.Nonce)
	acct, err = s.client.GetAccount(ctx, recordAddr)
	if err != nil {
		return err
	}
	if acct == nil {
		return errors.New("no mixer deposit for announcement")
	}
	record, err := ledger.DecodeDepositRecord(acct.Data)
	if err != nil {
		return err
	}
	if record.Consumed {
		return errors.New("mixer deposit already consumed")
	}
	if ledger.PayoutCommitment(ann.Params()) != record.Target {
		return errors.New("announcement is not the mixer deposit target")
	}
	return nil
}

// RemoteProver obtains proofs from an enclave Server. It implements the
// relayer's Prover and checks every proof against the pinned enclave key.
type RemoteProver struct {
	baseURL    string
	verify     teeproof.VerifyOptions
	httpClient *http.Client
}

// NewRemoteProver creates a prover for the enclave at baseURL. Proofs must be
// signed by enclaveKey and carry the measurement digest.
func NewRemoteProver(baseURL string, enclaveKey crypto.PublicKey, measurement [32]byte, timeout time.Duration) *RemoteProver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RemoteProver{
		baseURL: strings.TrimRight(baseURL, "/"),
		verify: teeproof.VerifyOptions{
			EnclaveKeys:         []crypto.PublicKey{enclaveKey},
			AllowedMeasurements: [][32]byte{measurement},
		},
		httpClient: &http.Client{Timeout: timeout},
	}
}

// EnclaveKey returns the pinned enclave signing key.
func (p *RemoteProver) EnclaveKey() crypto.PublicKey { return p.verify.EnclaveKeys[0] }

// Measurement returns the pinned measurement digest.
func (p *RemoteProver) Measurement() [32]byte { return p.verify.AllowedMeasurements[0] }

// Prove requests a proof for a payout into vault announced at announcement.
func (p *RemoteProver) Prove(announcement, vault ledger.Address) (*teeproof.Proof, error) {
	body, err := json.Marshal(&ProveRequest{Announcement: protocol.Bytes32(announcement), Vault: protocol.Bytes32(vault)})
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Post(p.baseURL+"/enclave/prove", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("enclave request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("enclave returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	out, err := protocol.DecodeMessage[ProveResponse](resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decoding enclave response: %w", err)
	}
	proof, err := teeproof.Parse(out.Proof)
	if err != nil {
		return nil, err
	}
	if _, err := teeproof.Verify(proof, announcement, vault, p.verify); err != nil {
		return nil, fmt.Errorf("enclave proof: %w", err)
	}
	return proof, nil
}
