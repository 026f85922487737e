package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/arkline/escrowd/internal/config"
)

// CreateParams holds the inputs for creating a new escrow contract.
type CreateParams struct {
	ChainID          int64  `json:"chain_id"`
	RequesterAddress string `json:"requester_address"`
	ManifestURL      string `json:"manifest_url"`
	ManifestHash     string `json:"manifest_hash"`
	ExchangeOracle   string `json:"exchange_oracle"`
	RecordingOracle  string `json:"recording_oracle"`
	ReputationOracle string `json:"reputation_oracle"`
}

// FundParams holds the inputs for funding an existing escrow.
type FundParams struct {
	ChainID       int64  `json:"chain_id"`
	EscrowAddress string `json:"escrow_address"`
	Amount        string `json:"amount"`
}

// CancelParams holds the inputs for canceling an escrow and refunding the
// remaining balance.
type CancelParams struct {
	ChainID       int64  `json:"chain_id"`
	EscrowAddress string `json:"escrow_address"`
}

// CreateResult is the outcome of a successful escrow creation.
type CreateResult struct {
	EscrowAddress string `json:"escrow_address"`
	TxHash        string `json:"tx_hash"`
}

// Client performs escrow actions against a blockchain node. Errors returned
// by implementations are *Error values classified as Transient or Permanent.
type Client interface {
	CreateEscrow(ctx context.Context, p CreateParams) (*CreateResult, error)
	FundEscrow(ctx context.Context, p FundParams) (txHash string, err error)
	CancelEscrow(ctx context.Context, p CancelParams) (txHash string, err error)
}

// GatewayClient is a Client over the per-chain HTTP escrow gateway, which
// wraps the actual contract calls and the node RPC connection.
type GatewayClient struct {
	chains *config.ChainRegistry
	client *http.Client
}

func NewGatewayClient(chains *config.ChainRegistry) *GatewayClient {
	return &GatewayClient{
		chains: chains,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

type txResponse struct {
	EscrowAddress string `json:"escrow_address"`
	TxHash        string `json:"tx_hash"`
	Error         string `json:"error"`
}

func (c *GatewayClient) CreateEscrow(ctx context.Context, p CreateParams) (*CreateResult, error) {
	resp, err := c.post(ctx, p.ChainID, "/escrow/create", p)
	if err != nil {
		return nil, err
	}
	return &CreateResult{EscrowAddress: resp.EscrowAddress, TxHash: resp.TxHash}, nil
}

func (c *GatewayClient) FundEscrow(ctx context.Context, p FundParams) (string, error) {
	resp, err := c.post(ctx, p.ChainID, "/escrow/fund", p)
	if err != nil {
		return "", err
	}
	return resp.TxHash, nil
}

func (c *GatewayClient) CancelEscrow(ctx context.Context, p CancelParams) (string, error) {
	resp, err := c.post(ctx, p.ChainID, "/escrow/cancel", p)
	if err != nil {
		return "", err
	}
	return resp.TxHash, nil
}

// post issues one gateway call and classifies the outcome:
//   - 2xx → success
//   - 4xx → Permanent (revert, bad params, insufficient balance)
//   - 5xx / network error → Transient (retried next cron pass)
func (c *GatewayClient) post(ctx context.Context, chainID int64, path string, payload any) (*txResponse, error) {
	op := "escrow gateway " + path

	chain, err := c.chains.Get(chainID)
	if err != nil {
		return nil, &Error{Kind: Permanent, Op: op, Err: err}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Kind: Permanent, Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, chain.GatewayURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: Permanent, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: Transient, Op: op, Err: err}
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	var tx txResponse
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
			return nil, &Error{Kind: Transient, Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
		return &tx, nil
	}

	// Pull the gateway's error message out when it sent one.
	kind := Transient
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		kind = Permanent
	}
	reason := fmt.Errorf("gateway returned %d", resp.StatusCode)
	if err := json.NewDecoder(resp.Body).Decode(&tx); err == nil && tx.Error != "" {
		reason = fmt.Errorf("gateway returned %d: %s", resp.StatusCode, tx.Error)
	}
	return nil, &Error{Kind: kind, Op: op, Err: reason}
}
