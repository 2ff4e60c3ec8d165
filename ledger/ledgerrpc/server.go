package ledgerrpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"

	"github.com/WaveTek-co/WaveSwap-sub000/ledger"
	"github.com/WaveTek-co/WaveSwap-sub000/store"
)

var errBadRequest = errors.New("malformed request")

// Server exposes a ledger over HTTP.
type Server struct {
	client ledger.Client
	faucet Airdropper
	logger *slog.Logger
}

// NewServer serves client. A nil faucet disables the airdrop route.
func NewServer(client ledger.Client, faucet Airdropper, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{client: client, faucet: faucet, logger: logger}
}

// RegisterRoutes mounts the ledger routes.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return httplogger.LoggingMiddlewareSlog(s.logger, next)
		})
		r.Post(pathSend, handle(s, s.sendTransaction))
		r.Post(pathStatus, handle(s, s.signatureStatus))
		r.Post(pathAccount, handle(s, s.account))
		r.Post(pathProgramAccts, handle(s, s.programAccounts))
		r.Post(pathBalance, handle(s, s.balance))
		if s.faucet != nil {
			r.Post(pathAirdrop, handle(s, s.airdrop))
		}
	})
}

func handle[Req, Resp any](s *Server, fn func(context.Context, *Req) (*Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyLen))
		if err != nil {
			s.writeError(w, errBadRequest)
			return
		}
		var req Req
		if err := store.Unmarshal(body, &req); err != nil {
			s.writeError(w, errBadRequest)
			return
		}
		resp, err := fn(r.Context(), &req)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.write(w, http.StatusOK, resp)
	}
}

func (s *Server) write(w http.ResponseWriter, code int, v any) {
	out, err := store.Marshal(v)
	if err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(code)
	w.Write(out)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var pe *ledger.ProgramError
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadRequest):
		code = http.StatusBadRequest
	case errors.As(err, &pe):
		code = http.StatusUnprocessableEntity
	case ledger.IsTransient(err):
		code = http.StatusServiceUnavailable
	default:
		s.logger.Error("ledger request failed", "err", err)
	}
	s.write(w, code, encodeErr(err))
}

func (s *Server) sendTransaction(ctx context.Context, req *txWire) (*sendResponse, error) {
	tx, err := req.decode()
	if err != nil {
		return nil, errBadRequest
	}
	sig, err := s.client.SendTransaction(ctx, tx)
	var pe *ledger.ProgramError
	if err != nil && !errors.As(err, &pe) {
		return nil, err
	}
	return &sendResponse{Signature: sig, Err: encodeErr(err)}, nil
}

func (s *Server) signatureStatus(ctx context.Context, req *statusRequest) (*statusResponse, error) {
	st, err := s.client.GetSignatureStatus(ctx, req.Signature)
	if err != nil {
		return nil, err
	}
	return &statusResponse{Status: st.Status, Err: encodeErr(st.Err)}, nil
}

func (s *Server) account(ctx context.Context, req *accountRequest) (*accountResponse, error) {
	acct, err := s.client.GetAccount(ctx, req.Address)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return &accountResponse{}, nil
	}
	return &accountResponse{Found: true, Data: acct.Data, Balance: acct.Balance}, nil
}

func (s *Server) programAccounts(ctx context.Context, req *programAccountsRequest) (*programAccountsResponse, error) {
	accounts, err := s.client.GetProgramAccounts(ctx, req.Program, req.Discriminator)
	if err != nil {
		return nil, err
	}
	resp := &programAccountsResponse{Accounts: make([]keyedAccountWire, 0, len(accounts))}
	for _, ka := range accounts {
		resp.Accounts = append(resp.Accounts, keyedAccountWire{Address: ka.Address, Data: ka.Account.Data, Balance: ka.Account.Balance})
	}
	return resp, nil
}

func (s *Server) balance(ctx context.Context, req *accountRequest) (*balanceResponse, error) {
	b, err := s.client.GetBalance(ctx, req.Address)
	if err != nil {
		return nil, err
	}
	return &balanceResponse{Balance: b}, nil
}

func (s *Server) airdrop(ctx context.Context, req *airdropRequest) (*balanceResponse, error) {
	if err := s.faucet.Airdrop(ctx, req.Address, req.Amount); err != nil {
		return nil, err
	}
	return s.balance(ctx, &accountRequest{Address: req.Address})
}
