// Package relay implements the Relay Submitter (C2): building and
// submitting the work(farmer, hash, nonce) contract call through an
// HTTP relay gateway, with the fixed-backoff retry policy and error
// classification from §4.2. The retry loop itself is grounded on the
// teacher's submitBlock in node.go (attempt loop, sleep, errors.As
// dispatch on a typed non-retryable error) adapted from exponential to
// the spec's fixed 2s backoff.
package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Dead-Bytes/kale-pool-pooler/internal/chainrpc"
	"github.com/Dead-Bytes/kale-pool-pooler/internal/metrics"
	"github.com/Dead-Bytes/kale-pool-pooler/internal/stellarkey"
	"github.com/Dead-Bytes/kale-pool-pooler/internal/types"
	"github.com/Dead-Bytes/kale-pool-pooler/internal/xdrmini"
)

var retryableTokens = []string{
	"not_found", "timeout", "econnreset", "enotfound", "etimedout",
	"fetch failed", "network error",
}

// Submitter builds, simulates and submits proofs to the relay gateway.
type Submitter struct {
	rpc           *chainrpc.Client
	relayURL      string
	relayJWT      string
	contractID    string
	clientName    string
	clientVersion string
	httpClient    *http.Client
	attempts      int
	backoff       time.Duration
	logger        *zap.Logger
}

// Config groups the fixed construction parameters for a Submitter.
type Config struct {
	RelayURL   string
	RelayJWT   string
	ContractID string
	Attempts   int
	Backoff    time.Duration
}

// NewSubmitter creates a Submitter.
func NewSubmitter(rpc *chainrpc.Client, cfg Config, logger *zap.Logger) *Submitter {
	return &Submitter{
		rpc:           rpc,
		relayURL:      cfg.RelayURL,
		relayJWT:      cfg.RelayJWT,
		contractID:    cfg.ContractID,
		clientName:    "kale-pool-pooler",
		clientVersion: "1",
		httpClient:    &http.Client{},
		attempts:      cfg.Attempts,
		backoff:       cfg.Backoff,
		logger:        logger,
	}
}

// Submit builds the work(farmer, hash, nonce) call, signs it with the
// farmer's custodial secret key, simulates it, and — on a successful
// simulation — submits it to the relay gateway with retry.
func (s *Submitter) Submit(ctx context.Context, custodialWallet, custodialSecretKey string, hash []byte, nonce uint64) (*types.WorkSubmissionResult, error) {
	envelope, err := s.buildEnvelope(custodialWallet, custodialSecretKey, hash, nonce)
	if err != nil {
		return nil, err
	}

	sim, err := s.rpc.SimulateTransaction(ctx, envelope)
	if err != nil {
		metrics.RelaySubmissions.WithLabelValues("simulation_rpc_error").Inc()
		return nil, &types.RelaySimulationError{Msg: err.Error()}
	}
	if sim.Error != "" {
		metrics.RelaySubmissions.WithLabelValues("simulation_failed").Inc()
		return nil, &types.RelaySimulationError{Msg: sim.Error}
	}

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		result, err := s.postToRelay(ctx, envelope)
		if err == nil {
			metrics.RelaySubmissions.WithLabelValues("success").Inc()
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) {
			metrics.RelaySubmissions.WithLabelValues("terminal").Inc()
			return nil, err
		}

		s.logger.Warn("relay submission failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.attempts),
			zap.Error(err),
		)
		if attempt < s.attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.backoff):
			}
		}
	}

	metrics.RelaySubmissions.WithLabelValues("exhausted").Inc()
	return nil, lastErr
}

// isRetryable reports whether err's message contains one of the
// case-insensitive retryable tokens from §4.2/§7. RelaySimulationError
// is never retryable regardless of its message.
func isRetryable(err error) bool {
	if _, ok := err.(*types.RelaySimulationError); ok {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, token := range retryableTokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

// buildEnvelope constructs the work(farmer, hash, nonce) invocation and
// signs it, returning the base64-encoded envelope. The canonical
// transaction-envelope XDR (operation body, fee bumping, preconditions)
// is out of xdrmini's deliberately minimal scope; this signs a canonical
// payload over the same argument list rather than claiming full
// envelope fidelity. See DESIGN.md.
func (s *Submitter) buildEnvelope(custodialWallet, custodialSecretKey string, hash []byte, nonce uint64) (string, error) {
	farmerKey, err := stellarkey.DecodeAccountID(custodialWallet)
	if err != nil {
		return "", fmt.Errorf("relay: decode custodial wallet: %w", err)
	}

	args := xdrmini.VecVal(
		xdrmini.SymbolVal("work"),
		xdrmini.BytesVal(farmerKey[:]),
		xdrmini.BytesVal(hash),
		xdrmini.U32Val(uint32(nonce)),
	)

	var buf bytes.Buffer
	if err := xdrmini.Encode(&buf, args); err != nil {
		return "", fmt.Errorf("relay: encode invocation: %w", err)
	}

	sig, err := stellarkey.Sign(custodialSecretKey, buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("relay: sign invocation: %w", err)
	}
	buf.Write(sig)

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// postToRelay performs one multipart POST to the relay gateway.
func (s *Submitter) postToRelay(ctx context.Context, envelopeXDR string) (*types.WorkSubmissionResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("xdr", envelopeXDR); err != nil {
		return nil, &types.RelayTerminalError{Msg: err.Error()}
	}
	if err := writer.Close(); err != nil {
		return nil, &types.RelayTerminalError{Msg: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.relayURL, &body)
	if err != nil {
		return nil, &types.RelayTransientError{Msg: err.Error()}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.relayJWT)
	req.Header.Set("X-Client-Name", s.clientName)
	req.Header.Set("X-Client-Version", s.clientVersion)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &types.RelayTransientError{Msg: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &types.RelayTerminalError{StatusCode: resp.StatusCode, Msg: string(respBody)}
	}

	hash, err := extractTransactionHash(respBody)
	if err != nil {
		return nil, &types.RelayTerminalError{StatusCode: resp.StatusCode, Msg: err.Error()}
	}
	return &types.WorkSubmissionResult{TransactionHash: hash}, nil
}
