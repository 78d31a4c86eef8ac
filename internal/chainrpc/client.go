// Package chainrpc is a minimal JSON-RPC 2.0 client for the chain's
// Soroban RPC endpoint, grounded on the teacher's shared-RPC-client
// pattern (its bitcoin.BitcoinRPC, called from multiple places in
// node.go for different read/write operations) but hand-rolled over
// net/http + encoding/json since no JSON-RPC client library appears
// anywhere in the retrieved example pack.
package chainrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Dead-Bytes/kale-pool-pooler/internal/types"
)

// Client is a shared JSON-RPC 2.0 client over HTTP.
type Client struct {
	url        string
	httpClient *http.Client
	idCounter  int
}

// NewClient creates a Client against the given RPC URL.
func NewClient(url string) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// call performs one JSON-RPC request and unmarshals its result into out.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	c.idCounter++
	var rawParams json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return &types.ChainRPCError{Op: method, Err: err}
		}
		rawParams = encoded
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.idCounter,
		Method:  method,
		Params:  rawParams,
	})
	if err != nil {
		return &types.ChainRPCError{Op: method, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return &types.ChainRPCError{Op: method, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &types.ChainRPCError{Op: method, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &types.ChainRPCError{Op: method, Err: err}
	}

	var parsed rpcResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return &types.ChainRPCError{Op: method, Err: fmt.Errorf("decode response: %w", err)}
	}
	if parsed.Error != nil {
		return &types.ChainRPCError{Op: method, Err: fmt.Errorf("rpc error %d: %s", parsed.Error.Code, parsed.Error.Message)}
	}
	if out != nil {
		if err := json.Unmarshal(parsed.Result, out); err != nil {
			return &types.ChainRPCError{Op: method, Err: fmt.Errorf("decode result: %w", err)}
		}
	}
	return nil
}

// LedgerEntry is one raw entry returned by getLedgerEntries.
type LedgerEntry struct {
	Key             string `json:"key"`
	XDR             string `json:"xdr"`
	LastModifiedLedgerSeq int `json:"lastModifiedLedgerSeq"`
}

type getLedgerEntriesResult struct {
	Entries []LedgerEntry `json:"entries"`
}

// GetLedgerEntries fetches the contract-storage entries for the given
// base64 XDR ledger keys.
func (c *Client) GetLedgerEntries(ctx context.Context, keys []string) ([]LedgerEntry, error) {
	var result getLedgerEntriesResult
	if err := c.call(ctx, "getLedgerEntries", map[string]any{"keys": keys}, &result); err != nil {
		return nil, err
	}
	return result.Entries, nil
}

type simulateTransactionResult struct {
	Error   string `json:"error,omitempty"`
	Results []struct {
		XDR string `json:"xdr"`
	} `json:"results,omitempty"`
}

// SimulateResult is the outcome of simulating a transaction envelope.
type SimulateResult struct {
	Error string
}

// SimulateTransaction simulates a signed (or unsigned) transaction
// envelope given as base64 XDR. A non-empty Error means the contract
// call would fail; this is the signal for §4.2's "simulation error,
// not retryable" disposition.
func (c *Client) SimulateTransaction(ctx context.Context, envelopeXDR string) (SimulateResult, error) {
	var result simulateTransactionResult
	if err := c.call(ctx, "simulateTransaction", map[string]any{"transaction": envelopeXDR}, &result); err != nil {
		return SimulateResult{}, err
	}
	return SimulateResult{Error: result.Error}, nil
}
