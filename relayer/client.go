package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
	"github.com/WaveTek-co/WaveSwap-sub000/protocol"
)

// StatusError is a non-success relayer answer.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relayer returned %d: %s", e.Code, e.Message)
}

// Client calls a relayer and only accepts responses signed by its pinned key.
// Requests are sent once and never retried.
type Client struct {
	baseURL    string
	relayerKey crypto.PublicKey
	httpClient *http.Client
}

// NewClient creates a client for the relayer at baseURL pinned to relayerKey.
func NewClient(baseURL string, relayerKey crypto.PublicKey, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		relayerKey: relayerKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ExecuteMixer asks the relayer to pay out a mixer deposit. A response with
// Success unset is returned together with an error.
func (c *Client) ExecuteMixer(ctx context.Context, req *protocol.ExecuteMixerRequest) (*protocol.ExecuteMixerResponse, error) {
	resp, err := call[protocol.ExecuteMixerRequest, protocol.ExecuteMixerResponse](ctx, c, http.MethodPost, "/execute-mixer", req)
	if err != nil {
		return resp, err
	}
	if resp.Nonce != req.Nonce {
		return nil, errors.New("relayer answered for a different nonce")
	}
	if !resp.Success {
		return resp, fmt.Errorf("mixer execution failed: %s", resp.Error)
	}
	return resp, nil
}

// Claim submits a claim proof. An empty vault yields protocol.ErrEmptyVault.
func (c *Client) Claim(ctx context.Context, req *protocol.ClaimRequest) (*protocol.ClaimResponse, error) {
	resp, err := call[protocol.ClaimRequest, protocol.ClaimResponse](ctx, c, http.MethodPost, "/claim", req)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusGone {
		return nil, fmt.Errorf("%w: %s", protocol.ErrEmptyVault, se.Message)
	}
	if err != nil {
		return nil, err
	}
	if resp.VaultAddress != req.VaultAddress {
		return nil, errors.New("relayer answered for a different vault")
	}
	return resp, nil
}

// Info fetches the relayer description.
func (c *Client) Info(ctx context.Context) (*protocol.RelayerInfo, error) {
	return call[struct{}, protocol.RelayerInfo](ctx, c, http.MethodGet, "/info", nil)
}

// call performs one request. A signed body is decoded and verified even for
// error statuses, so callers can inspect a signed failure.
func call[Req, Resp any](ctx context.Context, c *Client, method, path string, req *Req) (*Resp, error) {
	var body io.Reader
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if req != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("relayer request: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(httpResp.Header.Get("Content-Type"), "application/json") {
		return nil, &StatusError{Code: httpResp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	signed, err := protocol.UnmarshalMessage[protocol.Signed[Resp]](raw)
	if err != nil {
		return nil, fmt.Errorf("decoding relayer response: %w", err)
	}
	obj, err := signed.RecoverFrom(c.relayerKey)
	if err != nil {
		return nil, fmt.Errorf("relayer response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return obj, &StatusError{Code: httpResp.StatusCode, Message: http.StatusText(httpResp.StatusCode)}
	}
	return obj, nil
}
