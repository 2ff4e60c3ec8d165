package ledgerrpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/WaveTek-co/WaveSwap-sub000/ledger"
	"github.com/WaveTek-co/WaveSwap-sub000/store"
)

// Client is a ledger.Client talking to a Server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ ledger.Client = (*Client)(nil)

// NewClient creates a client for the server at baseURL. A zero timeout
// means 30 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func call[Resp any](ctx context.Context, c *Client, path string, req any) (*Resp, error) {
	body, err := store.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrTransient, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ledger.ErrTransient, err)
	}

	if resp.StatusCode != http.StatusOK {
		var w errorWire
		if err := store.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("ledger returned %d", resp.StatusCode)
		}
		if resp.StatusCode == http.StatusServiceUnavailable {
			return nil, fmt.Errorf("%w: %s", ledger.ErrTransient, w.Msg)
		}
		return nil, w.err()
	}

	var out Resp
	if err := store.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding ledger response: %w", err)
	}
	return &out, nil
}

func (c *Client) SendTransaction(ctx context.Context, tx *ledger.Transaction) (ledger.Signature, error) {
	resp, err := call[sendResponse](ctx, c, pathSend, encodeTx(tx))
	if err != nil {
		return ledger.Signature{}, err
	}
	return resp.Signature, resp.Err.err()
}

func (c *Client) GetSignatureStatus(ctx context.Context, sig ledger.Signature) (*ledger.SignatureStatus, error) {
	resp, err := call[statusResponse](ctx, c, pathStatus, &statusRequest{Signature: sig})
	if err != nil {
		return nil, err
	}
	return &ledger.SignatureStatus{Status: resp.Status, Err: resp.Err.err()}, nil
}

func (c *Client) GetAccount(ctx context.Context, addr ledger.Address) (*ledger.Account, error) {
	resp, err := call[accountResponse](ctx, c, pathAccount, &accountRequest{Address: addr})
	if err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, nil
	}
	return &ledger.Account{Data: resp.Data, Balance: resp.Balance}, nil
}

func (c *Client) GetProgramAccounts(ctx context.Context, program ledger.Address, discriminator [8]byte) ([]ledger.KeyedAccount, error) {
	resp, err := call[programAccountsResponse](ctx, c, pathProgramAccts, &programAccountsRequest{Program: program, Discriminator: discriminator})
	if err != nil {
		return nil, err
	}
	out := make([]ledger.KeyedAccount, 0, len(resp.Accounts))
	for _, ka := range resp.Accounts {
		out = append(out, ledger.KeyedAccount{Address: ka.Address, Account: ledger.Account{Data: ka.Data, Balance: ka.Balance}})
	}
	return out, nil
}

func (c *Client) GetBalance(ctx context.Context, addr ledger.Address) (uint64, error) {
	resp, err := call[balanceResponse](ctx, c, pathBalance, &accountRequest{Address: addr})
	if err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

// Airdrop asks a development ledger to fund addr.
func (c *Client) Airdrop(ctx context.Context, addr ledger.Address, amount uint64) error {
	_, err := call[balanceResponse](ctx, c, pathAirdrop, &airdropRequest{Address: addr, Amount: amount})
	return err
}
